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
package prometheus

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmware/vmware-go-indexer/logger"
)

// MonitoringService publishes indexer metrics to Prometheus.
type MonitoringService struct {
	listenAddress string
	namespace     string
	workerID      string
	logger        logger.Logger

	registry prom.Registerer
	gatherer prom.Gatherer
	server   *http.Server

	processedCheckpoints *prom.CounterVec
	committedRecords     *prom.CounterVec
	watermark            *prom.GaugeVec
	lagCheckpoints       *prom.GaugeVec
	batchFlushes         *prom.CounterVec
	skippedExtractions   *prom.CounterVec
	laneRetries          *prom.CounterVec
	unhealthyLanes       *prom.CounterVec
	extractTime          *prom.HistogramVec
	commitTime           *prom.HistogramVec
}

// NewMonitoringService returns a Monitoring service publishing metrics to Prometheus
// using the default registry. An empty listenAddress disables the listener so the
// metrics can be served by an existing http server.
func NewMonitoringService(listenAddress string, logger logger.Logger) *MonitoringService {
	return NewMonitoringServiceWithRegistry(listenAddress, prom.DefaultRegisterer, prom.DefaultGatherer, logger)
}

// NewMonitoringServiceWithRegistry is NewMonitoringService with an explicit registry.
func NewMonitoringServiceWithRegistry(listenAddress string, registry prom.Registerer, gatherer prom.Gatherer,
	logger logger.Logger) *MonitoringService {
	return &MonitoringService{
		listenAddress: listenAddress,
		registry:      registry,
		gatherer:      gatherer,
		logger:        logger,
	}
}

func (p *MonitoringService) Init(appName, workerID string) error {
	p.namespace = strings.ReplaceAll(appName, "-", "_")
	p.workerID = workerID

	p.processedCheckpoints = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_processed_checkpoints`,
		Help: "Number of checkpoints extracted by a lane",
	}, []string{"lane", "workerID"})
	p.committedRecords = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_committed_records`,
		Help: "Number of rows affected by committed batches",
	}, []string{"lane", "workerID"})
	p.watermark = prom.NewGaugeVec(prom.GaugeOpts{
		Name: p.namespace + `_watermark`,
		Help: "The highest checkpoint durably committed by a lane",
	}, []string{"lane", "workerID"})
	p.lagCheckpoints = prom.NewGaugeVec(prom.GaugeOpts{
		Name: p.namespace + `_lag_checkpoints`,
		Help: "The number of checkpoints the lane watermark trails the feed head",
	}, []string{"lane", "workerID"})
	p.batchFlushes = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_batch_flushes`,
		Help: "Number of batches handed to the commit sink, by trigger",
	}, []string{"lane", "workerID", "reason"})
	p.skippedExtractions = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_skipped_extractions`,
		Help: "Number of checkpoints skipped by best-effort lanes",
	}, []string{"lane", "workerID"})
	p.laneRetries = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_lane_retries`,
		Help: "Number of lane restarts after a failure",
	}, []string{"lane", "workerID"})
	p.unhealthyLanes = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_lane_unhealthy`,
		Help: "Number of times a lane exhausted its attempts",
	}, []string{"lane", "workerID"})
	p.extractTime = prom.NewHistogramVec(prom.HistogramOpts{
		Name: p.namespace + `_extract_duration_seconds`,
		Help: "The time taken to extract records from one checkpoint",
	}, []string{"lane", "workerID"})
	p.commitTime = prom.NewHistogramVec(prom.HistogramOpts{
		Name: p.namespace + `_commit_duration_seconds`,
		Help: "The time taken to commit one batch",
	}, []string{"lane", "workerID"})

	metrics := []prom.Collector{
		p.processedCheckpoints,
		p.committedRecords,
		p.watermark,
		p.lagCheckpoints,
		p.batchFlushes,
		p.skippedExtractions,
		p.laneRetries,
		p.unhealthyLanes,
		p.extractTime,
		p.commitTime,
	}
	for _, metric := range metrics {
		err := p.registry.Register(metric)
		if err != nil {
			return err
		}
	}

	return nil
}

// Handler serves the gathered metrics.
func (p *MonitoringService) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *MonitoringService) Start() error {
	if p.listenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	p.server = &http.Server{
		Addr:              p.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		p.logger.Infof("Starting Prometheus listener on %s", p.listenAddress)
		err := p.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Errorf("Error starting Prometheus metrics endpoint. %+v", err)
		}
		p.logger.Infof("Stopped metrics server")
	}()

	return nil
}

func (p *MonitoringService) Shutdown() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warnf("Error stopping Prometheus listener. %+v", err)
	}
}

func (p *MonitoringService) labels(lane string) prom.Labels {
	return prom.Labels{"lane": lane, "workerID": p.workerID}
}

func (p *MonitoringService) IncrCheckpointsProcessed(lane string, count int) {
	p.processedCheckpoints.With(p.labels(lane)).Add(float64(count))
}

func (p *MonitoringService) IncrRecordsCommitted(lane string, count int64) {
	p.committedRecords.With(p.labels(lane)).Add(float64(count))
}

func (p *MonitoringService) SetWatermark(lane string, watermark int64) {
	p.watermark.With(p.labels(lane)).Set(float64(watermark))
}

func (p *MonitoringService) LaneLag(lane string, checkpoints float64) {
	p.lagCheckpoints.With(p.labels(lane)).Set(checkpoints)
}

func (p *MonitoringService) BatchFlushed(lane string, reason string) {
	p.batchFlushes.With(prom.Labels{"lane": lane, "workerID": p.workerID, "reason": reason}).Inc()
}

func (p *MonitoringService) ExtractionSkipped(lane string) {
	p.skippedExtractions.With(p.labels(lane)).Inc()
}

func (p *MonitoringService) LaneRetried(lane string) {
	p.laneRetries.With(p.labels(lane)).Inc()
}

func (p *MonitoringService) LaneUnhealthy(lane string) {
	p.unhealthyLanes.With(p.labels(lane)).Inc()
}

func (p *MonitoringService) RecordExtractTime(lane string, millis float64) {
	p.extractTime.With(p.labels(lane)).Observe(millis / 1000)
}

func (p *MonitoringService) RecordCommitTime(lane string, millis float64) {
	p.commitTime.With(p.labels(lane)).Observe(millis / 1000)
}
