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
	"log"

	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	"github.com/vmware/vmware-go-indexer/clientlibrary/utils"
	"github.com/vmware/vmware-go-indexer/logger"
)

// NewIndexerConfig creates a default IndexerConfiguration based on the required fields.
func NewIndexerConfig(applicationName, workerID string) *IndexerConfiguration {
	checkIsValueNotEmpty("ApplicationName", applicationName)

	if empty(workerID) {
		workerID = utils.MustNewUUID()
	}

	// populate the indexer configuration with default values
	return &IndexerConfiguration{
		ApplicationName:              applicationName,
		WorkerID:                     workerID,
		FirstCheckpoint:              DefaultFirstCheckpoint,
		LastCheckpoint:               NoLastCheckpoint,
		BatchRecordLimit:             DefaultBatchRecordLimit,
		BatchCheckpointLimit:         DefaultBatchCheckpointLimit,
		LagBound:                     DefaultLagBound,
		WatermarkAlertDistance:       DefaultWatermarkAlertDistance,
		HeadRefreshIntervalMillis:    DefaultHeadRefreshIntervalMillis,
		IdleTimeBetweenReadsInMillis: DefaultIdleTimeBetweenReadsMillis,
		ExtractionWorkers:            DefaultExtractionWorkers,
		MaxInFlightCheckpoints:       DefaultMaxInFlightCheckpoints,
		ExtractionTimeoutMillis:      DefaultExtractionTimeoutMillis,
		CommitTimeoutMillis:          DefaultCommitTimeoutMillis,
		CommitRetries:                DefaultCommitRetries,
		TaskBackoffTimeMillis:        DefaultTaskBackoffTimeMillis,
		MaxTaskBackoffTimeMillis:     DefaultMaxTaskBackoffTimeMillis,
		LaneMaxAttempts:              DefaultLaneMaxAttempts,
		ShutdownGraceMillis:          DefaultShutdownGraceMillis,
		StoreDriver:                  DefaultStoreDriver,
		MaxStoreConnections:          DefaultMaxStoreConnections,
		Lanes:                        map[string]LaneConfiguration{},
		Logger:                       logger.GetDefaultLogger(),
	}
}

// WithCheckpointRange sets the inclusive range of checkpoints to ingest.
func (c *IndexerConfiguration) WithCheckpointRange(first, last uint64) *IndexerConfiguration {
	if last < first {
		log.Panicf("Invalid checkpoint range [%d, %d]", first, last)
	}
	c.FirstCheckpoint = first
	c.LastCheckpoint = last
	return c
}

func (c *IndexerConfiguration) WithFirstCheckpoint(first uint64) *IndexerConfiguration {
	c.FirstCheckpoint = first
	return c
}

func (c *IndexerConfiguration) WithLastCheckpoint(last uint64) *IndexerConfiguration {
	c.LastCheckpoint = last
	return c
}

func (c *IndexerConfiguration) WithBatchRecordLimit(n int) *IndexerConfiguration {
	checkIsValuePositive("BatchRecordLimit", n)
	c.BatchRecordLimit = n
	return c
}

func (c *IndexerConfiguration) WithBatchCheckpointLimit(n int) *IndexerConfiguration {
	checkIsValuePositive("BatchCheckpointLimit", n)
	c.BatchCheckpointLimit = n
	return c
}

// WithLagBound sets the lag flush trigger. Zero disables it.
func (c *IndexerConfiguration) WithLagBound(n uint64) *IndexerConfiguration {
	c.LagBound = n
	return c
}

func (c *IndexerConfiguration) WithWatermarkAlertDistance(n uint64) *IndexerConfiguration {
	c.WatermarkAlertDistance = n
	return c
}

func (c *IndexerConfiguration) WithHeadRefreshIntervalMillis(millis int) *IndexerConfiguration {
	checkIsValuePositive("HeadRefreshIntervalMillis", millis)
	c.HeadRefreshIntervalMillis = millis
	return c
}

func (c *IndexerConfiguration) WithIdleTimeBetweenReadsInMillis(idleTimeBetweenReadsInMillis int) *IndexerConfiguration {
	checkIsValuePositive("IdleTimeBetweenReadsInMillis", idleTimeBetweenReadsInMillis)
	c.IdleTimeBetweenReadsInMillis = idleTimeBetweenReadsInMillis
	return c
}

func (c *IndexerConfiguration) WithExtractionWorkers(n int) *IndexerConfiguration {
	checkIsValuePositive("ExtractionWorkers", n)
	c.ExtractionWorkers = n
	return c
}

func (c *IndexerConfiguration) WithMaxInFlightCheckpoints(n int) *IndexerConfiguration {
	checkIsValuePositive("MaxInFlightCheckpoints", n)
	c.MaxInFlightCheckpoints = n
	return c
}

func (c *IndexerConfiguration) WithExtractionTimeoutMillis(millis int) *IndexerConfiguration {
	checkIsValuePositive("ExtractionTimeoutMillis", millis)
	c.ExtractionTimeoutMillis = millis
	return c
}

func (c *IndexerConfiguration) WithCommitTimeoutMillis(millis int) *IndexerConfiguration {
	checkIsValuePositive("CommitTimeoutMillis", millis)
	c.CommitTimeoutMillis = millis
	return c
}

func (c *IndexerConfiguration) WithCommitRetries(n int) *IndexerConfiguration {
	checkIsValuePositive("CommitRetries", n)
	c.CommitRetries = n
	return c
}

func (c *IndexerConfiguration) WithTaskBackoffTimeMillis(taskBackoffTimeMillis int) *IndexerConfiguration {
	checkIsValuePositive("TaskBackoffTimeMillis", taskBackoffTimeMillis)
	c.TaskBackoffTimeMillis = taskBackoffTimeMillis
	return c
}

func (c *IndexerConfiguration) WithMaxTaskBackoffTimeMillis(millis int) *IndexerConfiguration {
	checkIsValuePositive("MaxTaskBackoffTimeMillis", millis)
	c.MaxTaskBackoffTimeMillis = millis
	return c
}

func (c *IndexerConfiguration) WithLaneMaxAttempts(n int) *IndexerConfiguration {
	checkIsValuePositive("LaneMaxAttempts", n)
	c.LaneMaxAttempts = n
	return c
}

func (c *IndexerConfiguration) WithShutdownGraceMillis(millis int) *IndexerConfiguration {
	checkIsValuePositive("ShutdownGraceMillis", millis)
	c.ShutdownGraceMillis = millis
	return c
}

// WithStore selects the store driver and its connection string.
func (c *IndexerConfiguration) WithStore(driver, connection string) *IndexerConfiguration {
	checkIsValueNotEmpty("StoreDriver", driver)
	c.StoreDriver = driver
	c.StoreConnection = connection
	return c
}

func (c *IndexerConfiguration) WithMaxStoreConnections(n int) *IndexerConfiguration {
	checkIsValuePositive("MaxStoreConnections", n)
	c.MaxStoreConnections = n
	return c
}

func (c *IndexerConfiguration) WithSmartContractAddress(address string) *IndexerConfiguration {
	c.SmartContractAddress = address
	return c
}

// WithLane overrides the settings of one lane.
func (c *IndexerConfiguration) WithLane(name string, lane LaneConfiguration) *IndexerConfiguration {
	checkIsValueNotEmpty("LaneName", name)
	if c.Lanes == nil {
		c.Lanes = map[string]LaneConfiguration{}
	}
	c.Lanes[name] = lane
	return c
}

func (c *IndexerConfiguration) WithLogger(logger logger.Logger) *IndexerConfiguration {
	if logger == nil {
		log.Panic("Logger cannot be null")
	}
	c.Logger = logger
	return c
}

// WithMonitoringService sets the monitoring service to use to publish metrics.
func (c *IndexerConfiguration) WithMonitoringService(mService metrics.MonitoringService) *IndexerConfiguration {
	// Nil case is handled downward (at worker creation) so no need to do it here.
	c.MonitoringService = mService
	return c
}
