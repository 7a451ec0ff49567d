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
	"fmt"
	"io"
	"time"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	par "github.com/vmware/vmware-go-indexer/clientlibrary/partition"
	wm "github.com/vmware/vmware-go-indexer/clientlibrary/watermark"
	"github.com/vmware/vmware-go-indexer/logger"
)

// LaneConsumer moves one lane from its watermark towards the end of the
// configured range: it reads checkpoints, extracts them on the shared pool,
// batches the records in checkpoint order and commits the batches.
type LaneConsumer struct {
	handler     interfaces.IRecordHandler
	lane        *par.LaneStatus
	settings    config.LaneConfiguration
	cfg         *config.IndexerConfiguration
	reader      feed.Reader
	pool        *extractionPool
	committer   *batchCommitter
	coordinator *Coordinator
	watermarker wm.Watermarker
	mService    metrics.MonitoringService
	log         logger.Logger

	// pending is a batch whose commit failed. It is committed first on the next run.
	pending *interfaces.Batch
	// progressed is set when the current run advanced the watermark.
	progressed bool
}

// run consumes the lane until the range is exhausted, ctx is cancelled or a
// failure stops it. It returns nil when the range is exhausted or on shutdown.
func (lc *LaneConsumer) run(ctx context.Context) error {
	log := lc.log
	lc.progressed = false

	if err := lc.watermarker.FetchWatermark(ctx, lc.lane); err != nil {
		return fmt.Errorf("fetch watermark: %w", err)
	}

	if lc.pending != nil {
		log.Infof("Retrying pending batch %s", lc.pending)
		if err := lc.commit(ctx, lc.pending); err != nil {
			return err
		}
		lc.pending = nil
	}

	watermark := lc.lane.GetWatermark()
	if watermark >= 0 && uint64(watermark) >= lc.cfg.LastCheckpoint {
		log.Infof("Lane already committed the last checkpoint %d", lc.cfg.LastCheckpoint)
		return nil
	}
	next := uint64(watermark + 1)
	log.Infof("Starting lane at checkpoint %d", next)

	intakeCtx, cancelIntake := context.WithCancel(ctx)
	futures := make(chan *extraction, lc.cfg.MaxInFlightCheckpoints)
	intakeDone := make(chan struct{})
	var intakeErr error
	go func() {
		defer close(intakeDone)
		defer close(futures)
		intakeErr = lc.intake(intakeCtx, next, futures)
	}()
	defer func() {
		cancelIntake()
		for range futures {
		}
		<-intakeDone
	}()

	acc := NewAccumulator(lc.lane.Name, next, lc.cfg.BatchRecordLimit, lc.cfg.BatchCheckpointLimit)
	idle := time.Duration(lc.cfg.IdleTimeBetweenReadsInMillis) * time.Millisecond

	for {
		ex, ok, err := lc.receive(ctx, futures, acc, idle)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return lc.drain(ctx, acc)
		}

		if !ok {
			// intake is done; futures is closed so intakeErr is visible
			if intakeErr != nil {
				if ferr := lc.flush(ctx, acc, EXTRACTION_HALT); ferr != nil {
					return ferr
				}
				return intakeErr
			}
			return lc.flush(ctx, acc, END_OF_RANGE)
		}

		select {
		case <-ex.done:
		case <-ctx.Done():
			return lc.drain(ctx, acc)
		}

		records := ex.records
		if ex.err != nil {
			if ctx.Err() != nil {
				return lc.drain(ctx, acc)
			}
			if lc.settings.Policy != config.BEST_EFFORT {
				log.Errorf("Halting lane at checkpoint %d: %+v", ex.seq, ex.err)
				if ferr := lc.flush(ctx, acc, EXTRACTION_HALT); ferr != nil {
					return ferr
				}
				return ex.err
			}
			log.Warnf("Skipping checkpoint %d: %+v", ex.seq, ex.err)
			lc.mService.ExtractionSkipped(lc.lane.Name)
			records = nil
		}

		if err := acc.Append(ex.seq, records); err != nil {
			return err
		}
		lc.mService.IncrCheckpointsProcessed(lc.lane.Name, 1)

		if reason, full := acc.Full(); full {
			if err := lc.flush(ctx, acc, reason); err != nil {
				return err
			}
		} else if high, _ := acc.High(); lc.coordinator.ShouldFlushForLag(high) {
			if err := lc.flush(ctx, acc, LAG); err != nil {
				return err
			}
		}
	}
}

// intake reads checkpoints from next on and submits their extraction in
// sequence order. A checkpoint the feed cannot decode becomes a failed
// extraction so the lane policy applies to it. Unread futures are discarded
// by the caller.
func (lc *LaneConsumer) intake(ctx context.Context, next uint64, futures chan<- *extraction) error {
	stream := feed.NewStream(lc.reader, next, lc.cfg.LastCheckpoint, lc.cfg)
	for {
		seq := stream.Position()
		cp, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}

		var ex *extraction
		switch {
		case err == nil:
			ex = lc.pool.Submit(ctx, lc.handler, cp)
		case errors.Is(err, feed.ErrMalformedCheckpoint):
			ex = failedExtraction(seq, &ExtractionError{Lane: lc.lane.Name, Sequence: seq, Err: err})
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("read checkpoint %d: %w", seq, err)
		}

		select {
		case futures <- ex:
		case <-ctx.Done():
			return nil
		}
	}
}

// receive waits for the next future. While waiting it flushes the buffered
// batch once no checkpoint arrived for the idle time.
func (lc *LaneConsumer) receive(ctx context.Context, futures <-chan *extraction, acc *Accumulator,
	idle time.Duration) (*extraction, bool, error) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case ex, ok := <-futures:
			return ex, ok, nil
		case <-ctx.Done():
			return nil, false, nil
		case <-timer.C:
			if err := lc.flush(ctx, acc, IDLE); err != nil {
				return nil, false, err
			}
			timer.Reset(idle)
		}
	}
}

// flush commits the buffered batch. A batch that fails to commit becomes the pending batch.
func (lc *LaneConsumer) flush(ctx context.Context, acc *Accumulator, reason FlushReason) error {
	if acc.Empty() {
		return nil
	}

	batch := acc.Take()
	lc.log.Debugf("Flushing %s: %s", batch, reason)
	lc.mService.BatchFlushed(lc.lane.Name, reason.String())

	if err := lc.commit(ctx, batch); err != nil {
		lc.pending = batch
		return err
	}
	return nil
}

func (lc *LaneConsumer) commit(ctx context.Context, batch *interfaces.Batch) error {
	start := time.Now()
	affected, err := lc.committer.Commit(ctx, batch)
	lc.mService.RecordCommitTime(lc.lane.Name, float64(time.Since(start).Milliseconds()))
	if err != nil {
		lc.log.Errorf("Failed to commit %s: %+v", batch, err)
		return err
	}

	lc.lane.SetWatermark(int64(batch.High))
	lc.progressed = true
	lc.mService.IncrRecordsCommitted(lc.lane.Name, affected)
	lc.mService.SetWatermark(lc.lane.Name, int64(batch.High))
	lc.coordinator.Observe(lc.lane.Name, int64(batch.High))
	lc.log.Debugf("Committed %s, %d rows affected", batch, affected)
	return nil
}

// drain commits the fully extracted checkpoints still buffered when the
// worker shuts down. Extractions in flight are discarded.
func (lc *LaneConsumer) drain(ctx context.Context, acc *Accumulator) error {
	if acc.Empty() {
		return nil
	}

	grace := time.Duration(lc.cfg.ShutdownGraceMillis) * time.Millisecond
	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := lc.flush(graceCtx, acc, SHUTDOWN); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			lc.log.Warnf("Shutdown grace of %s expired before the final commit", grace)
		}
		return err
	}
	return nil
}
