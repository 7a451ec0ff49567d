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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
)

// ExtractionError reports that a lane could not extract records from a checkpoint.
type ExtractionError struct {
	Lane     string
	Sequence uint64
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("lane %s: extraction of checkpoint %d failed: %v", e.Lane, e.Sequence, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// extraction is the future of one (lane, checkpoint) job. records and err are
// valid once done is closed.
type extraction struct {
	seq     uint64
	done    chan struct{}
	records []interfaces.Record
	err     error
}

func failedExtraction(seq uint64, err error) *extraction {
	ex := &extraction{seq: seq, done: make(chan struct{}), err: err}
	close(ex.done)
	return ex
}

// extractionPool runs extraction jobs of every lane on a bounded number of goroutines.
type extractionPool struct {
	group    *errgroup.Group
	timeout  time.Duration
	mService metrics.MonitoringService
}

func newExtractionPool(workers int, timeout time.Duration, mService metrics.MonitoringService) *extractionPool {
	group := &errgroup.Group{}
	group.SetLimit(workers)
	return &extractionPool{
		group:    group,
		timeout:  timeout,
		mService: mService,
	}
}

// Submit schedules the extraction and blocks while every worker is busy.
func (p *extractionPool) Submit(ctx context.Context, h interfaces.IRecordHandler, cp *interfaces.Checkpoint) *extraction {
	ex := &extraction{
		seq:  cp.SequenceNumber,
		done: make(chan struct{}),
	}
	p.group.Go(func() error {
		defer close(ex.done)
		start := time.Now()
		ex.records, ex.err = p.extract(ctx, h, cp)
		p.mService.RecordExtractTime(h.Name(), float64(time.Since(start).Milliseconds()))
		// job errors travel in the future, never through the group
		return nil
	})
	return ex
}

func (p *extractionPool) extract(ctx context.Context, h interfaces.IRecordHandler, cp *interfaces.Checkpoint) ([]interfaces.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		records []interfaces.Record
		err     error
	}
	out := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		records, err := h.Extract(ctx, cp)
		out <- result{records: records, err: err}
	}()

	select {
	case res := <-out:
		if res.err != nil {
			if ctx.Err() == context.Canceled {
				return nil, ctx.Err()
			}
			return nil, &ExtractionError{Lane: h.Name(), Sequence: cp.SequenceNumber, Err: res.err}
		}
		return res.records, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &ExtractionError{
				Lane:     h.Name(),
				Sequence: cp.SequenceNumber,
				Err:      fmt.Errorf("timed out after %s: %w", p.timeout, ctx.Err()),
			}
		}
		return nil, ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (p *extractionPool) Wait() {
	_ = p.group.Wait()
}
