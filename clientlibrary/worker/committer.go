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

	"github.com/matryer/try"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/logger"
)

// batchCommitter commits lane batches, retrying transient store failures.
type batchCommitter struct {
	store      database.IndexerDatastore
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	log        logger.Logger
}

func newBatchCommitter(store database.IndexerDatastore, cfg *config.IndexerConfiguration) *batchCommitter {
	return &batchCommitter{
		store:      store,
		timeout:    time.Duration(cfg.CommitTimeoutMillis) * time.Millisecond,
		retries:    cfg.CommitRetries,
		backoff:    time.Duration(cfg.TaskBackoffTimeMillis) * time.Millisecond,
		maxBackoff: time.Duration(cfg.MaxTaskBackoffTimeMillis) * time.Millisecond,
		log:        cfg.Logger,
	}
}

// Commit writes the batch. An attempt in progress is never interrupted by ctx;
// ctx only stops further retries. Every attempt commits the same batch.
func (c *batchCommitter) Commit(ctx context.Context, batch *interfaces.Batch) (int64, error) {
	var affected int64
	backoff := c.backoff

	err := try.Do(func(attempt int) (bool, error) {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		var err error
		affected, err = c.store.CommitBatch(attemptCtx, batch)
		if err == nil {
			return false, nil
		}
		if !c.store.IsRetryable(err) || attempt >= c.retries {
			return false, err
		}

		c.log.Warnf("Commit of %s failed (attempt %d/%d), retrying in %s: %+v", batch, attempt, c.retries, backoff, err)
		if serr := sleep(ctx, backoff); serr != nil {
			return false, err
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
		return true, err
	})
	if err != nil {
		return 0, fmt.Errorf("commit %s: %w", batch, err)
	}
	return affected, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
