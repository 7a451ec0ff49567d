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
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/sqlite"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	"github.com/vmware/vmware-go-indexer/logger"
)

const (
	appName  = "indexer-test"
	workerID = "test-worker"
)

func newConfig(t *testing.T, first, last uint64) *config.IndexerConfiguration {
	t.Helper()
	return config.NewIndexerConfig(appName, workerID).
		WithCheckpointRange(first, last).
		WithStore(config.StoreDriverSQLite, filepath.Join(t.TempDir(), "indexer.db")).
		WithIdleTimeBetweenReadsInMillis(5).
		WithHeadRefreshIntervalMillis(10).
		WithTaskBackoffTimeMillis(5).
		WithMaxTaskBackoffTimeMillis(20).
		WithCommitTimeoutMillis(2000).
		WithExtractionTimeoutMillis(2000).
		WithShutdownGraceMillis(2000).
		WithLogger(logger.GetDefaultLogger())
}

func openStore(t *testing.T, cfg *config.IndexerConfiguration) *sqlite.Datastore {
	t.Helper()
	store, err := sqlite.Open(cfg.StoreConnection, cfg.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func countRows(t *testing.T, store *sqlite.Datastore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().QueryRow(fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n))
	return n
}

func persistedWatermark(t *testing.T, store *sqlite.Datastore, lane string) int64 {
	t.Helper()
	wm, err := store.GetWatermark(context.Background(), lane)
	require.NoError(t, err)
	require.NotNil(t, wm, lane)
	return wm.CheckpointHi
}

func resetWatermark(t *testing.T, store *sqlite.Datastore, lane string, value int64) {
	t.Helper()
	_, err := store.DB().Exec("UPDATE watermarks SET checkpoint_hi = ? WHERE lane = ?", value, lane)
	require.NoError(t, err)
}

// digestCheckpoint has one transaction with a unique digest.
func digestCheckpoint(seq uint64) *interfaces.Checkpoint {
	return &interfaces.Checkpoint{
		SequenceNumber: seq,
		Digest:         fmt.Sprintf("CP%03d", seq),
		TimestampMs:    1700000000000 + int64(seq),
		Transactions:   []interfaces.Transaction{{Digest: fmt.Sprintf("TX%03d", seq)}},
	}
}

func digestFeed(from, to uint64) *feed.MemoryFeed {
	mem := feed.NewMemoryFeed()
	for seq := from; seq <= to; seq++ {
		mem.Put(digestCheckpoint(seq))
	}
	return mem
}

func runToCompletion(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	require.NoError(t, ctx.Err(), "worker did not finish the range")
}

// recordingMonitor keeps the metrics the tests assert on.
type recordingMonitor struct {
	metrics.NoopMonitoringService

	mux        sync.Mutex
	processed  map[string]int
	committed  map[string]int64
	flushes    map[string][]string
	skipped    map[string]int
	retries    map[string]int
	unhealthy  map[string]int
	watermarks map[string]int64
	lags       map[string]float64
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{
		processed:  map[string]int{},
		committed:  map[string]int64{},
		flushes:    map[string][]string{},
		skipped:    map[string]int{},
		retries:    map[string]int{},
		unhealthy:  map[string]int{},
		watermarks: map[string]int64{},
		lags:       map[string]float64{},
	}
}

func (m *recordingMonitor) IncrCheckpointsProcessed(lane string, count int) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.processed[lane] += count
}

func (m *recordingMonitor) IncrRecordsCommitted(lane string, count int64) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.committed[lane] += count
}

func (m *recordingMonitor) SetWatermark(lane string, watermark int64) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.watermarks[lane] = watermark
}

func (m *recordingMonitor) LaneLag(lane string, checkpoints float64) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.lags[lane] = checkpoints
}

func (m *recordingMonitor) BatchFlushed(lane, reason string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.flushes[lane] = append(m.flushes[lane], reason)
}

func (m *recordingMonitor) ExtractionSkipped(lane string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.skipped[lane]++
}

func (m *recordingMonitor) LaneRetried(lane string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.retries[lane]++
}

func (m *recordingMonitor) LaneUnhealthy(lane string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.unhealthy[lane]++
}

func (m *recordingMonitor) flushReasons(lane string) []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string(nil), m.flushes[lane]...)
}

func (m *recordingMonitor) processedCount(lane string) int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.processed[lane]
}

// faultyHandler wraps a handler and fails or panics on chosen checkpoints
// until it is repaired.
type faultyHandler struct {
	interfaces.IRecordHandler
	failAt  uint64
	panics  bool
	delay   func(seq uint64) time.Duration
	mux     sync.Mutex
	healthy bool
	calls   map[uint64]int
}

func (h *faultyHandler) Extract(ctx context.Context, cp *interfaces.Checkpoint) ([]interfaces.Record, error) {
	h.mux.Lock()
	if h.calls == nil {
		h.calls = map[uint64]int{}
	}
	h.calls[cp.SequenceNumber]++
	healthy := h.healthy
	h.mux.Unlock()

	if h.delay != nil {
		select {
		case <-time.After(h.delay(cp.SequenceNumber)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !healthy && cp.SequenceNumber == h.failAt {
		if h.panics {
			panic(fmt.Sprintf("cannot decode checkpoint %d", cp.SequenceNumber))
		}
		return nil, fmt.Errorf("unexpected content in checkpoint %d", cp.SequenceNumber)
	}
	return h.IRecordHandler.Extract(ctx, cp)
}

func (h *faultyHandler) repair() {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.healthy = true
}

func (h *faultyHandler) callCount(seq uint64) int {
	h.mux.Lock()
	defer h.mux.Unlock()
	return h.calls[seq]
}
