/*
 * Copyright (c) 2023 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package config

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/matryer/try"

	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	"github.com/vmware/vmware-go-indexer/logger"
)

const (
	// STRICT halts the lane on an extraction error and surfaces it for operator intervention.
	STRICT LanePolicy = iota + 1
	// BEST_EFFORT logs the extraction error and treats the checkpoint as producing no records for the lane.
	BEST_EFFORT
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

const (
	// NoLastCheckpoint keeps the lanes following the feed head forever.
	NoLastCheckpoint = uint64(math.MaxUint64)

	// The first checkpoint to ingest when a lane has no persisted watermark.
	DefaultFirstCheckpoint = 0

	// Flush the buffered batch once it holds this many records.
	DefaultBatchRecordLimit = 5000

	// Flush the buffered batch once it covers this many checkpoints.
	DefaultBatchCheckpointLimit = 100

	// Flush the buffered batch when its high end trails the feed head by more than this many
	// checkpoints. Zero disables the lag trigger.
	DefaultLagBound = 0

	// Report sustained backpressure when a lane watermark trails the feed head by more than this.
	DefaultWatermarkAlertDistance = 1000

	// How often the feed head is refreshed.
	DefaultHeadRefreshIntervalMillis = 5000

	// How long to wait before asking the feed again for a checkpoint that is not yet available.
	DefaultIdleTimeBetweenReadsMillis = 1000

	// Size of the extraction worker pool shared by all lanes.
	DefaultExtractionWorkers = 8

	// Max checkpoints a lane has submitted for extraction but not yet accumulated.
	DefaultMaxInFlightCheckpoints = 32

	// Upper bound of a single extraction.
	DefaultExtractionTimeoutMillis = 10000

	// Upper bound of a single commit attempt.
	DefaultCommitTimeoutMillis = 30000

	// Attempts for a commit failing with a transient store error.
	DefaultCommitRetries = 5

	// Backoff time in milliseconds for lane tasks (in the event of failures).
	DefaultTaskBackoffTimeMillis = 500

	// Cap of the exponential lane backoff.
	DefaultMaxTaskBackoffTimeMillis = 30000

	// Consecutive failed runs after which a lane is marked unhealthy.
	DefaultLaneMaxAttempts = 5

	// The amount of milliseconds to wait before graceful shutdown forcefully terminates.
	DefaultShutdownGraceMillis = 5000

	DefaultStoreDriver = StoreDriverPostgres

	// Size of the store connection pool shared by all lanes.
	DefaultMaxStoreConnections = 10

	DefaultLanePolicy = STRICT
)

type (
	// LanePolicy decides what a lane does with a checkpoint it cannot extract.
	LanePolicy int

	// LaneConfiguration overrides the worker wide lane settings for one lane.
	// Zero values fall back to the worker wide defaults, so an override keeps
	// the lane enabled unless Disabled is set.
	LaneConfiguration struct {
		Disabled      bool
		Policy        LanePolicy
		MaxAttempts   int
		BackoffMillis int
	}

	// IndexerConfiguration configures the ingestion pipeline.
	IndexerConfiguration struct {
		// ApplicationName is the name of the indexer. It namespaces the metrics.
		ApplicationName string

		// WorkerID identifies this process in logs and metrics.
		WorkerID string

		// FirstCheckpoint is used when a lane has no watermark yet. The initial watermark is FirstCheckpoint - 1.
		FirstCheckpoint uint64

		// LastCheckpoint is the inclusive end of the range. NoLastCheckpoint follows the head forever.
		LastCheckpoint uint64

		// BatchRecordLimit flushes the batch once it holds this many records.
		BatchRecordLimit int

		// BatchCheckpointLimit flushes the batch once it covers this many checkpoints.
		BatchCheckpointLimit int

		// LagBound flushes the batch when it trails the feed head by more than this many checkpoints.
		LagBound uint64

		// WatermarkAlertDistance raises an alert when a lane watermark trails the feed head by more than this.
		WatermarkAlertDistance uint64

		// HeadRefreshIntervalMillis is the period of feed head refreshes.
		HeadRefreshIntervalMillis int

		// IdleTimeBetweenReadsInMillis Idle time between polls for a checkpoint the feed does not have yet
		IdleTimeBetweenReadsInMillis int

		// ExtractionWorkers is the size of the shared extraction pool.
		ExtractionWorkers int

		// MaxInFlightCheckpoints bounds the extraction read-ahead of one lane.
		MaxInFlightCheckpoints int

		// ExtractionTimeoutMillis bounds one extraction.
		ExtractionTimeoutMillis int

		// CommitTimeoutMillis bounds one commit attempt.
		CommitTimeoutMillis int

		// CommitRetries is the number of attempts for a commit failing with a transient error.
		CommitRetries int

		// TaskBackoffTimeMillis Backoff period when a lane run fails
		TaskBackoffTimeMillis int

		// MaxTaskBackoffTimeMillis caps the exponential lane backoff.
		MaxTaskBackoffTimeMillis int

		// LaneMaxAttempts is the number of consecutive failed runs after which a lane is unhealthy.
		LaneMaxAttempts int

		// ShutdownGraceMillis The number of milliseconds a lane has to commit its buffered batch on shutdown
		ShutdownGraceMillis int

		// StoreDriver is either postgres or sqlite.
		StoreDriver string

		// StoreConnection is the connection string of the store.
		StoreConnection string

		// MaxStoreConnections bounds the store connection pool shared by all lanes.
		MaxStoreConnections int

		// SmartContractAddress filters datapod events by package id. Empty accepts every package.
		SmartContractAddress string

		// Lanes holds per lane overrides keyed by lane name.
		Lanes map[string]LaneConfiguration

		// Logger used to log message.
		Logger logger.Logger

		// MonitoringService publishes per lane metrics.
		MonitoringService metrics.MonitoringService
	}
)

var lanePolicyMap = map[LanePolicy]string{
	STRICT:      "strict",
	BEST_EFFORT: "best_effort",
}

func (p LanePolicy) String() string {
	if s, ok := lanePolicyMap[p]; ok {
		return s
	}
	return fmt.Sprintf("LanePolicy(%d)", int(p))
}

// ParseLanePolicy parses the textual form used in configuration files.
func ParseLanePolicy(s string) (LanePolicy, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for policy, name := range lanePolicyMap {
		if name == normalized {
			return policy, nil
		}
	}
	return 0, fmt.Errorf("unknown lane policy %q", s)
}

// Lane returns the effective settings of the named lane.
func (c *IndexerConfiguration) Lane(name string) LaneConfiguration {
	lane := LaneConfiguration{
		Policy:        DefaultLanePolicy,
		MaxAttempts:   c.LaneMaxAttempts,
		BackoffMillis: c.TaskBackoffTimeMillis,
	}

	override, ok := c.Lanes[name]
	if !ok {
		return lane
	}

	lane.Disabled = override.Disabled
	if override.Policy != 0 {
		lane.Policy = override.Policy
	}
	if override.MaxAttempts > 0 {
		lane.MaxAttempts = override.MaxAttempts
	}
	if override.BackoffMillis > 0 {
		lane.BackoffMillis = override.BackoffMillis
	}
	return lane
}

// InitialWatermark is the watermark of a freshly registered lane.
func (c *IndexerConfiguration) InitialWatermark() int64 {
	return int64(c.FirstCheckpoint) - 1
}

// Validate reports configuration errors that must stop the process before any lane starts.
func (c *IndexerConfiguration) Validate() error {
	if empty(c.ApplicationName) {
		return fmt.Errorf("invalid configuration: ApplicationName is required")
	}
	if c.FirstCheckpoint > math.MaxInt64 {
		return fmt.Errorf("invalid configuration: FirstCheckpoint %d out of range", c.FirstCheckpoint)
	}
	if c.LastCheckpoint < c.FirstCheckpoint {
		return fmt.Errorf("invalid configuration: checkpoint range [%d, %d] is empty", c.FirstCheckpoint, c.LastCheckpoint)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		return fmt.Errorf("invalid configuration: unknown store driver %q", c.StoreDriver)
	}
	if empty(c.StoreConnection) {
		return fmt.Errorf("invalid configuration: StoreConnection is required")
	}
	if c.CommitRetries <= 0 || c.CommitRetries > try.MaxRetries {
		return fmt.Errorf("invalid configuration: CommitRetries must be in [1, %d], actual: %d", try.MaxRetries, c.CommitRetries)
	}

	positive := map[string]int{
		"BatchRecordLimit":             c.BatchRecordLimit,
		"BatchCheckpointLimit":         c.BatchCheckpointLimit,
		"HeadRefreshIntervalMillis":    c.HeadRefreshIntervalMillis,
		"IdleTimeBetweenReadsInMillis": c.IdleTimeBetweenReadsInMillis,
		"ExtractionWorkers":            c.ExtractionWorkers,
		"MaxInFlightCheckpoints":       c.MaxInFlightCheckpoints,
		"ExtractionTimeoutMillis":      c.ExtractionTimeoutMillis,
		"CommitTimeoutMillis":          c.CommitTimeoutMillis,
		"TaskBackoffTimeMillis":        c.TaskBackoffTimeMillis,
		"MaxTaskBackoffTimeMillis":     c.MaxTaskBackoffTimeMillis,
		"LaneMaxAttempts":              c.LaneMaxAttempts,
		"ShutdownGraceMillis":          c.ShutdownGraceMillis,
		"MaxStoreConnections":          c.MaxStoreConnections,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("invalid configuration: positive value expected for %s, actual: %d", key, value)
		}
	}

	for name, lane := range c.Lanes {
		if lane.Policy != 0 {
			if _, ok := lanePolicyMap[lane.Policy]; !ok {
				return fmt.Errorf("invalid configuration: lane %s has unknown policy %d", name, lane.Policy)
			}
		}
		if lane.MaxAttempts < 0 || lane.BackoffMillis < 0 {
			return fmt.Errorf("invalid configuration: lane %s has negative retry settings", name)
		}
	}

	return nil
}

func empty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// checkIsValueNotEmpty makes sure the value is not empty.
func checkIsValueNotEmpty(key string, value string) {
	if empty(value) {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Non-empty value expected for %v, actual: %v", key, value)
	}
}

// checkIsValuePositive makes sure the value is possitive.
func checkIsValuePositive(key string, value int) {
	if value <= 0 {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Positive value expected for %v, actual: %v", key, value)
	}
}
