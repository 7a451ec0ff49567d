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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
)

func TestShouldFlushForLag(t *testing.T) {
	cfg := newConfig(t, 0, 100).WithLagBound(10)
	mem := feed.NewMemoryFeed()
	c := NewCoordinator(mem, cfg, newRecordingMonitor())

	// unknown head never forces a flush
	assert.False(t, c.ShouldFlushForLag(0))

	mem.Put(digestCheckpoint(50))
	c.Refresh(context.Background())
	head, ok := c.Head()
	assert.True(t, ok)
	assert.Equal(t, uint64(50), head)

	assert.True(t, c.ShouldFlushForLag(39))
	assert.False(t, c.ShouldFlushForLag(40))
	assert.False(t, c.ShouldFlushForLag(60))
}

func TestLagBoundZeroDisablesLagFlush(t *testing.T) {
	cfg := newConfig(t, 0, 100).WithLagBound(0)
	c := NewCoordinator(feed.NewMemoryFeed(digestCheckpoint(1000)), cfg, newRecordingMonitor())
	c.Refresh(context.Background())

	assert.False(t, c.ShouldFlushForLag(0))
}

func TestHeadNeverMovesBackwards(t *testing.T) {
	cfg := newConfig(t, 0, 100)
	c := NewCoordinator(feed.NewMemoryFeed(digestCheckpoint(20)), cfg, newRecordingMonitor())
	c.Refresh(context.Background())

	c.reader = feed.NewMemoryFeed(digestCheckpoint(5))
	c.Refresh(context.Background())
	head, _ := c.Head()
	assert.Equal(t, uint64(20), head)
}

func TestObservePublishesLag(t *testing.T) {
	cfg := newConfig(t, 0, 100).WithWatermarkAlertDistance(5)
	monitor := newRecordingMonitor()
	c := NewCoordinator(feed.NewMemoryFeed(digestCheckpoint(30)), cfg, monitor)

	// nothing is published before the head is known
	c.Observe("lane", 10)
	assert.Empty(t, monitor.lags)

	c.Refresh(context.Background())
	c.Observe("lane", 10)
	assert.Equal(t, float64(20), monitor.lags["lane"])
	assert.True(t, c.alerted["lane"])

	c.Observe("lane", -1)
	assert.Equal(t, float64(31), monitor.lags["lane"])

	c.Observe("lane", 28)
	assert.Equal(t, float64(2), monitor.lags["lane"])
	assert.False(t, c.alerted["lane"])

	c.Observe("lane", 40)
	assert.Equal(t, float64(0), monitor.lags["lane"])
}
