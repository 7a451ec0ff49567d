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
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/logger"
)

// Stream delivers the checkpoints of a Reader in order, starting at from and
// ending after to. It waits for checkpoints that are not produced yet and
// retries failed reads, so Next only fails on cancellation, a malformed
// checkpoint or a corrupt source.
type Stream struct {
	reader Reader
	next   uint64
	to     uint64
	done   bool

	idle       time.Duration
	backoff    time.Duration
	maxBackoff time.Duration
	log        logger.Logger
}

func NewStream(reader Reader, from, to uint64, cfg *config.IndexerConfiguration) *Stream {
	return &Stream{
		reader:     reader,
		next:       from,
		to:         to,
		done:       from > to,
		idle:       time.Duration(cfg.IdleTimeBetweenReadsInMillis) * time.Millisecond,
		backoff:    time.Duration(cfg.TaskBackoffTimeMillis) * time.Millisecond,
		maxBackoff: time.Duration(cfg.MaxTaskBackoffTimeMillis) * time.Millisecond,
		log:        cfg.Logger,
	}
}

// Position returns the sequence number Next will deliver.
func (s *Stream) Position() uint64 {
	return s.next
}

// Next blocks until the next checkpoint is available. It returns io.EOF once
// the last checkpoint of the range was delivered. A checkpoint that cannot be
// decoded is reported once with ErrMalformedCheckpoint and the stream moves
// past it, so Position has already advanced when Next returns that error.
func (s *Stream) Next(ctx context.Context) (*interfaces.Checkpoint, error) {
	if s.done {
		return nil, io.EOF
	}

	backoff := s.backoff
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cp, err := s.reader.Checkpoint(ctx, s.next)
		switch {
		case err == nil && cp.SequenceNumber == s.next:
			s.advance()
			return cp, nil

		case errors.Is(err, ErrMalformedCheckpoint):
			seq := s.next
			s.advance()
			return nil, fmt.Errorf("checkpoint %d: %w", seq, err)

		case err == nil && cp.SequenceNumber < s.next:
			// duplicate delivery
			s.log.Debugf("Dropping checkpoint %d, expecting %d", cp.SequenceNumber, s.next)
			err = sleep(ctx, s.idle)

		case err == nil:
			return nil, fmt.Errorf("requested checkpoint %d, got %d: %w", s.next, cp.SequenceNumber, ErrUnexpectedSequence)

		case errors.Is(err, ErrCheckpointNotFound):
			err = sleep(ctx, s.idle)

		case ctx.Err() != nil:
			return nil, ctx.Err()

		default:
			s.log.Warnf("Error reading checkpoint %d, retrying in %s: %+v", s.next, backoff, err)
			err = sleep(ctx, backoff)
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		if err != nil {
			return nil, err
		}
	}
}

func (s *Stream) advance() {
	if s.next == s.to {
		s.done = true
	} else {
		s.next++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
