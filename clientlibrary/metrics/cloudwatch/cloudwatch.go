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
// The implementation is derived from https://github.com/patrobinson/gokini
//
// Copyright 2018 Patrick robinson
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
package cloudwatch

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	cwatch "github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"github.com/vmware/vmware-go-indexer/logger"
)

// DEFAULT_CLOUDWATCH_METRICS_BUFFER_DURATION Buffer metrics for at most this long before publishing to CloudWatch.
const DEFAULT_CLOUDWATCH_METRICS_BUFFER_DURATION = 10 * time.Second

// MonitoringService publishes indexer metrics to CloudWatch. Samples are
// buffered per lane and flushed by a background daemon.
type MonitoringService struct {
	appName     string
	workerID    string
	region      string
	credentials *credentials.Credentials
	logger      logger.Logger

	// control how often to publish to CloudWatch
	bufferDuration time.Duration

	svc cloudwatchiface.CloudWatchAPI

	mu          sync.Mutex
	laneMetrics map[string]*cloudWatchMetrics

	stop       chan struct{}
	waitGroup  sync.WaitGroup
	shutdownMu sync.Once
}

type cloudWatchMetrics struct {
	sync.Mutex

	processedCheckpoints int64
	committedRecords     int64
	watermark            *float64
	lagCheckpoints       []float64
	batchFlushes         int64
	skippedExtractions   int64
	laneRetries          int64
	unhealthy            int64
	extractTime          []float64
	commitTime           []float64
}

// NewMonitoringService returns a Monitoring service publishing metrics to CloudWatch.
func NewMonitoringService(region string, creds *credentials.Credentials) *MonitoringService {
	return NewMonitoringServiceWithOptions(region, creds, logger.GetDefaultLogger(), DEFAULT_CLOUDWATCH_METRICS_BUFFER_DURATION)
}

// NewMonitoringServiceWithOptions returns a Monitoring service publishing metrics to
// CloudWatch with the provided credentials, buffering duration and logger.
func NewMonitoringServiceWithOptions(region string, creds *credentials.Credentials, logger logger.Logger,
	bufferDur time.Duration) *MonitoringService {
	return &MonitoringService{
		region:         region,
		credentials:    creds,
		logger:         logger,
		bufferDuration: bufferDur,
	}
}

// NewMonitoringServiceWithClient uses an existing CloudWatch client.
func NewMonitoringServiceWithClient(svc cloudwatchiface.CloudWatchAPI, logger logger.Logger,
	bufferDur time.Duration) *MonitoringService {
	return &MonitoringService{
		svc:            svc,
		logger:         logger,
		bufferDuration: bufferDur,
	}
}

func (cw *MonitoringService) Init(appName, workerID string) error {
	cw.appName = appName
	cw.workerID = workerID

	if cw.bufferDuration <= 0 {
		cw.bufferDuration = DEFAULT_CLOUDWATCH_METRICS_BUFFER_DURATION
	}

	if cw.svc == nil {
		cfg := &aws.Config{Region: aws.String(cw.region)}
		cfg.Credentials = cw.credentials
		s, err := session.NewSession(cfg)
		if err != nil {
			cw.logger.Errorf("Error in creating session for cloudwatch. %+v", err)
			return err
		}
		cw.svc = cwatch.New(s)
	}

	cw.laneMetrics = make(map[string]*cloudWatchMetrics)
	cw.stop = make(chan struct{})

	return nil
}

func (cw *MonitoringService) Start() error {
	cw.waitGroup.Add(1)
	// entering eventloop for sending metrics to CloudWatch
	go cw.eventloop()
	return nil
}

func (cw *MonitoringService) Shutdown() {
	cw.shutdownMu.Do(func() {
		cw.logger.Infof("Shutting down cloudwatch metrics system...")
		close(cw.stop)
		cw.waitGroup.Wait()
		cw.logger.Infof("Cloudwatch metrics system has been shutdown.")
	})
}

// Start daemon to flush metrics periodically
func (cw *MonitoringService) eventloop() {
	defer cw.waitGroup.Done()

	ticker := time.NewTicker(cw.bufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.flush()
		case <-cw.stop:
			cw.logger.Infof("Shutting down monitoring system")
			cw.flush()
			return
		}
	}
}

func (cw *MonitoringService) flushLane(lane string, metric *cloudWatchMetrics) {
	metric.Lock()
	defer metric.Unlock()

	defaultDimensions := []*cwatch.Dimension{
		{
			Name:  aws.String("Lane"),
			Value: aws.String(lane),
		},
		{
			Name:  aws.String("WorkerID"),
			Value: aws.String(cw.workerID),
		},
	}

	metricTimestamp := time.Now()
	data := []*cwatch.MetricDatum{
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("CheckpointsProcessed"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.processedCheckpoints)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("RecordsCommitted"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.committedRecords)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("BatchFlushes"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.batchFlushes)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("ExtractionsSkipped"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.skippedExtractions)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("LaneRetries"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.laneRetries)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("LaneUnhealthy"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.unhealthy)),
		},
	}

	if metric.watermark != nil {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: defaultDimensions,
			MetricName: aws.String("Watermark"),
			Unit:       aws.String("None"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(*metric.watermark),
		})
	}

	if len(metric.lagCheckpoints) > 0 {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: defaultDimensions,
			MetricName: aws.String("LagCheckpoints"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			StatisticValues: &cwatch.StatisticSet{
				SampleCount: aws.Float64(float64(len(metric.lagCheckpoints))),
				Sum:         sumFloat64(metric.lagCheckpoints),
				Maximum:     maxFloat64(metric.lagCheckpoints),
				Minimum:     minFloat64(metric.lagCheckpoints),
			},
		})
	}

	if len(metric.extractTime) > 0 {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: defaultDimensions,
			MetricName: aws.String("Extract.Time"),
			Unit:       aws.String("Milliseconds"),
			Timestamp:  &metricTimestamp,
			StatisticValues: &cwatch.StatisticSet{
				SampleCount: aws.Float64(float64(len(metric.extractTime))),
				Sum:         sumFloat64(metric.extractTime),
				Maximum:     maxFloat64(metric.extractTime),
				Minimum:     minFloat64(metric.extractTime),
			},
		})
	}

	if len(metric.commitTime) > 0 {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: defaultDimensions,
			MetricName: aws.String("Commit.Time"),
			Unit:       aws.String("Milliseconds"),
			Timestamp:  &metricTimestamp,
			StatisticValues: &cwatch.StatisticSet{
				SampleCount: aws.Float64(float64(len(metric.commitTime))),
				Sum:         sumFloat64(metric.commitTime),
				Maximum:     maxFloat64(metric.commitTime),
				Minimum:     minFloat64(metric.commitTime),
			},
		})
	}

	// Publish metrics data to cloud watch
	_, err := cw.svc.PutMetricData(&cwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.appName),
		MetricData: data,
	})

	if err == nil {
		metric.processedCheckpoints = 0
		metric.committedRecords = 0
		metric.batchFlushes = 0
		metric.skippedExtractions = 0
		metric.laneRetries = 0
		metric.unhealthy = 0
		metric.lagCheckpoints = []float64{}
		metric.extractTime = []float64{}
		metric.commitTime = []float64{}
	} else {
		cw.logger.Errorf("Error in publishing cloudwatch metrics. Error: %+v", err)
	}
}

func (cw *MonitoringService) flush() {
	cw.logger.Debugf("Flushing metrics data. App: %s, Worker: %s", cw.appName, cw.workerID)

	cw.mu.Lock()
	lanes := make(map[string]*cloudWatchMetrics, len(cw.laneMetrics))
	for lane, metric := range cw.laneMetrics {
		lanes[lane] = metric
	}
	cw.mu.Unlock()

	for lane, metric := range lanes {
		cw.flushLane(lane, metric)
	}
}

func (cw *MonitoringService) getOrCreatePerLaneMetrics(lane string) *cloudWatchMetrics {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	m, ok := cw.laneMetrics[lane]
	if !ok {
		m = &cloudWatchMetrics{}
		cw.laneMetrics[lane] = m
	}
	return m
}

func (cw *MonitoringService) IncrCheckpointsProcessed(lane string, count int) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.processedCheckpoints += int64(count)
}

func (cw *MonitoringService) IncrRecordsCommitted(lane string, count int64) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.committedRecords += count
}

func (cw *MonitoringService) SetWatermark(lane string, watermark int64) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.watermark = aws.Float64(float64(watermark))
}

func (cw *MonitoringService) LaneLag(lane string, checkpoints float64) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.lagCheckpoints = append(m.lagCheckpoints, checkpoints)
}

func (cw *MonitoringService) BatchFlushed(lane string, reason string) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.batchFlushes++
}

func (cw *MonitoringService) ExtractionSkipped(lane string) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.skippedExtractions++
}

func (cw *MonitoringService) LaneRetried(lane string) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.laneRetries++
}

func (cw *MonitoringService) LaneUnhealthy(lane string) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.unhealthy++
}

func (cw *MonitoringService) RecordExtractTime(lane string, millis float64) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.extractTime = append(m.extractTime, millis)
}

func (cw *MonitoringService) RecordCommitTime(lane string, millis float64) {
	m := cw.getOrCreatePerLaneMetrics(lane)
	m.Lock()
	defer m.Unlock()
	m.commitTime = append(m.commitTime, millis)
}

func sumFloat64(slice []float64) *float64 {
	sum := float64(0)
	for _, num := range slice {
		sum += num
	}
	return &sum
}

func maxFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	max := slice[0]
	for _, num := range slice {
		if num > max {
			max = num
		}
	}
	return &max
}

func minFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	min := slice[0]
	for _, num := range slice {
		if num < min {
			min = num
		}
	}
	return &min
}
