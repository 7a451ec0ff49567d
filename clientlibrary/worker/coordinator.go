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
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	par "github.com/vmware/vmware-go-indexer/clientlibrary/partition"
	"github.com/vmware/vmware-go-indexer/logger"
)

// Coordinator tracks the feed head and relates it to lane progress. It
// decides lag flushes and raises the lag alert.
type Coordinator struct {
	reader        feed.Reader
	refresh       time.Duration
	lagBound      uint64
	alertDistance uint64
	mService      metrics.MonitoringService
	log           logger.Logger

	mux     sync.RWMutex
	head    uint64
	known   bool
	lanes   map[string]*par.LaneStatus
	alerted map[string]bool
}

func NewCoordinator(reader feed.Reader, cfg *config.IndexerConfiguration, mService metrics.MonitoringService) *Coordinator {
	return &Coordinator{
		reader:        reader,
		refresh:       time.Duration(cfg.HeadRefreshIntervalMillis) * time.Millisecond,
		lagBound:      cfg.LagBound,
		alertDistance: cfg.WatermarkAlertDistance,
		mService:      mService,
		log:           cfg.Logger,
		lanes:         map[string]*par.LaneStatus{},
		alerted:       map[string]bool{},
	}
}

// Track adds a lane to the periodic lag observation.
func (c *Coordinator) Track(lane *par.LaneStatus) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.lanes[lane.Name] = lane
}

// Run refreshes the head until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
			c.observeAll()
		}
	}
}

// Refresh reads the feed head. A failed read keeps the previous head.
func (c *Coordinator) Refresh(ctx context.Context) {
	head, err := c.reader.Latest(ctx)
	if err != nil {
		if !errors.Is(err, feed.ErrCheckpointNotFound) && ctx.Err() == nil {
			c.log.Warnf("Unable to refresh feed head: %+v", err)
		}
		return
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if !c.known || head > c.head {
		c.head = head
		c.known = true
	}
}

// Head returns the last known feed head.
func (c *Coordinator) Head() (uint64, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.head, c.known
}

// ShouldFlushForLag reports whether a batch ending at high trails the head by more than the lag bound.
func (c *Coordinator) ShouldFlushForLag(high uint64) bool {
	if c.lagBound == 0 {
		return false
	}
	head, ok := c.Head()
	return ok && head > high && head-high > c.lagBound
}

// Observe publishes the lag of a lane at watermark and warns once per
// episode when it exceeds the alert distance.
func (c *Coordinator) Observe(lane string, watermark int64) {
	head, ok := c.Head()
	if !ok {
		return
	}

	var lag uint64
	if watermark < 0 {
		lag = head + 1
	} else if head > uint64(watermark) {
		lag = head - uint64(watermark)
	}
	c.mService.LaneLag(lane, float64(lag))

	c.mux.Lock()
	defer c.mux.Unlock()
	if lag > c.alertDistance {
		if !c.alerted[lane] {
			c.log.WithFields(logger.Fields{"lane": lane}).
				Warnf("Lane %s watermark %d is %d checkpoints behind feed head %d", lane, watermark, lag, head)
			c.alerted[lane] = true
		}
		return
	}
	if c.alerted[lane] {
		c.log.WithFields(logger.Fields{"lane": lane}).Infof("Lane %s is back within %d checkpoints of the feed head", lane, c.alertDistance)
		c.alerted[lane] = false
	}
}

func (c *Coordinator) observeAll() {
	c.mux.RLock()
	lanes := make([]*par.LaneStatus, 0, len(c.lanes))
	for _, l := range c.lanes {
		lanes = append(lanes, l)
	}
	c.mux.RUnlock()

	for _, l := range lanes {
		c.Observe(l.Name, l.GetWatermark())
	}
}
