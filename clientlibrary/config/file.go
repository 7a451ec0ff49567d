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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type fileConfiguration struct {
	ApplicationName              string              `yaml:"application_name"`
	WorkerID                     string              `yaml:"worker_id"`
	FirstCheckpoint              *uint64             `yaml:"first_checkpoint"`
	LastCheckpoint               *uint64             `yaml:"last_checkpoint"`
	BatchRecordLimit             int                 `yaml:"batch_record_limit"`
	BatchCheckpointLimit         int                 `yaml:"batch_checkpoint_limit"`
	LagBound                     *uint64             `yaml:"lag_bound"`
	WatermarkAlertDistance       *uint64             `yaml:"watermark_alert_distance"`
	HeadRefreshIntervalMillis    int                 `yaml:"head_refresh_interval_millis"`
	IdleTimeBetweenReadsInMillis int                 `yaml:"idle_time_between_reads_millis"`
	ExtractionWorkers            int                 `yaml:"extraction_workers"`
	MaxInFlightCheckpoints       int                 `yaml:"max_in_flight_checkpoints"`
	ExtractionTimeoutMillis      int                 `yaml:"extraction_timeout_millis"`
	CommitTimeoutMillis          int                 `yaml:"commit_timeout_millis"`
	CommitRetries                int                 `yaml:"commit_retries"`
	TaskBackoffTimeMillis        int                 `yaml:"task_backoff_time_millis"`
	MaxTaskBackoffTimeMillis     int                 `yaml:"max_task_backoff_time_millis"`
	LaneMaxAttempts              int                 `yaml:"lane_max_attempts"`
	ShutdownGraceMillis          int                 `yaml:"shutdown_grace_millis"`
	StoreDriver                  string              `yaml:"store_driver"`
	StoreConnection              string              `yaml:"store_connection"`
	MaxStoreConnections          int                 `yaml:"max_store_connections"`
	SmartContractAddress         string              `yaml:"smart_contract_address"`
	Lanes                        map[string]fileLane `yaml:"lanes"`
}

type fileLane struct {
	Enabled       *bool  `yaml:"enabled"`
	Policy        string `yaml:"policy"`
	MaxAttempts   int    `yaml:"max_attempts"`
	BackoffMillis int    `yaml:"backoff_millis"`
}

// LoadFile reads a YAML configuration file and applies it on top of c.
func LoadFile(path string, c *IndexerConfiguration) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	if err := Load(f, c); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

// Load decodes YAML configuration from r and applies it on top of c. Unknown keys are rejected.
func Load(r io.Reader, c *IndexerConfiguration) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var fc fileConfiguration
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return fc.apply(c)
}

func (fc *fileConfiguration) apply(c *IndexerConfiguration) error {
	setString(&c.ApplicationName, fc.ApplicationName)
	setString(&c.WorkerID, fc.WorkerID)
	setString(&c.StoreDriver, fc.StoreDriver)
	setString(&c.StoreConnection, fc.StoreConnection)
	setString(&c.SmartContractAddress, fc.SmartContractAddress)

	if fc.FirstCheckpoint != nil {
		c.FirstCheckpoint = *fc.FirstCheckpoint
	}
	if fc.LastCheckpoint != nil {
		c.LastCheckpoint = *fc.LastCheckpoint
	}
	if fc.LagBound != nil {
		c.LagBound = *fc.LagBound
	}
	if fc.WatermarkAlertDistance != nil {
		c.WatermarkAlertDistance = *fc.WatermarkAlertDistance
	}

	setInt(&c.BatchRecordLimit, fc.BatchRecordLimit)
	setInt(&c.BatchCheckpointLimit, fc.BatchCheckpointLimit)
	setInt(&c.HeadRefreshIntervalMillis, fc.HeadRefreshIntervalMillis)
	setInt(&c.IdleTimeBetweenReadsInMillis, fc.IdleTimeBetweenReadsInMillis)
	setInt(&c.ExtractionWorkers, fc.ExtractionWorkers)
	setInt(&c.MaxInFlightCheckpoints, fc.MaxInFlightCheckpoints)
	setInt(&c.ExtractionTimeoutMillis, fc.ExtractionTimeoutMillis)
	setInt(&c.CommitTimeoutMillis, fc.CommitTimeoutMillis)
	setInt(&c.CommitRetries, fc.CommitRetries)
	setInt(&c.TaskBackoffTimeMillis, fc.TaskBackoffTimeMillis)
	setInt(&c.MaxTaskBackoffTimeMillis, fc.MaxTaskBackoffTimeMillis)
	setInt(&c.LaneMaxAttempts, fc.LaneMaxAttempts)
	setInt(&c.ShutdownGraceMillis, fc.ShutdownGraceMillis)
	setInt(&c.MaxStoreConnections, fc.MaxStoreConnections)

	for name, l := range fc.Lanes {
		lane := LaneConfiguration{
			MaxAttempts:   l.MaxAttempts,
			BackoffMillis: l.BackoffMillis,
		}
		if l.Enabled != nil {
			lane.Disabled = !*l.Enabled
		}
		if l.Policy != "" {
			policy, err := ParseLanePolicy(l.Policy)
			if err != nil {
				return fmt.Errorf("lane %s: %w", name, err)
			}
			lane.Policy = policy
		}
		if c.Lanes == nil {
			c.Lanes = map[string]LaneConfiguration{}
		}
		c.Lanes[name] = lane
	}

	return nil
}

// ApplyEnvironment overrides c with the process environment:
// DATABASE_URL, SMART_CONTRACT_ADDRESS, INDEXER_STORE_DRIVER, INDEXER_FIRST_CHECKPOINT,
// INDEXER_LAST_CHECKPOINT, INDEXER_LAG_BOUND, INDEXER_BATCH_RECORD_LIMIT and
// INDEXER_BATCH_CHECKPOINT_LIMIT.
func ApplyEnvironment(c *IndexerConfiguration) error {
	setString(&c.StoreConnection, os.Getenv("DATABASE_URL"))
	setString(&c.SmartContractAddress, os.Getenv("SMART_CONTRACT_ADDRESS"))
	setString(&c.StoreDriver, os.Getenv("INDEXER_STORE_DRIVER"))

	uints := map[string]*uint64{
		"INDEXER_FIRST_CHECKPOINT": &c.FirstCheckpoint,
		"INDEXER_LAST_CHECKPOINT":  &c.LastCheckpoint,
		"INDEXER_LAG_BOUND":        &c.LagBound,
	}
	for key, target := range uints {
		s := os.Getenv(key)
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = n
	}

	ints := map[string]*int{
		"INDEXER_BATCH_RECORD_LIMIT":     &c.BatchRecordLimit,
		"INDEXER_BATCH_CHECKPOINT_LIMIT": &c.BatchCheckpointLimit,
	}
	for key, target := range ints {
		s := os.Getenv(key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = n
	}

	return nil
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}
