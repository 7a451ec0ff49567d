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
	"errors"
	"fmt"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// FlushReason tells why a batch left the accumulator.
type FlushReason int

const (
	// RECORD_LIMIT batch reached BatchRecordLimit records.
	RECORD_LIMIT FlushReason = iota + 1

	// CHECKPOINT_LIMIT batch reached BatchCheckpointLimit checkpoints.
	CHECKPOINT_LIMIT

	// LAG batch high fell more than LagBound checkpoints behind the feed head.
	LAG

	// IDLE no new checkpoint arrived within IdleTimeBetweenReadsInMillis.
	IDLE

	// END_OF_RANGE batch holds the last checkpoint of the configured range.
	END_OF_RANGE

	// SHUTDOWN worker is shutting down.
	SHUTDOWN

	// EXTRACTION_HALT a strict lane failed to extract the next checkpoint.
	EXTRACTION_HALT
)

var flushReasonStrings = map[FlushReason]string{
	RECORD_LIMIT:     "record_limit",
	CHECKPOINT_LIMIT: "checkpoint_limit",
	LAG:              "lag",
	IDLE:             "idle",
	END_OF_RANGE:     "end_of_range",
	SHUTDOWN:         "shutdown",
	EXTRACTION_HALT:  "extraction_halt",
}

func (r FlushReason) String() string {
	if s, ok := flushReasonStrings[r]; ok {
		return s
	}
	return "unknown"
}

// ErrOutOfOrder is returned when a checkpoint does not directly follow the buffered range.
var ErrOutOfOrder = errors.New("checkpoint appended out of order")

// Accumulator buffers the records of consecutive checkpoints of one lane.
// It is owned by the lane goroutine and not safe for concurrent use.
type Accumulator struct {
	lane            string
	recordLimit     int
	checkpointLimit int

	next  uint64
	batch *interfaces.Batch
}

// NewAccumulator creates an accumulator whose first checkpoint must be next.
func NewAccumulator(lane string, next uint64, recordLimit, checkpointLimit int) *Accumulator {
	return &Accumulator{
		lane:            lane,
		recordLimit:     recordLimit,
		checkpointLimit: checkpointLimit,
		next:            next,
	}
}

// Append adds the records extracted from checkpoint seq. A checkpoint without
// records still extends the range.
func (a *Accumulator) Append(seq uint64, records []interfaces.Record) error {
	if seq != a.next {
		return fmt.Errorf("lane %s: got checkpoint %d, expecting %d: %w", a.lane, seq, a.next, ErrOutOfOrder)
	}

	if a.batch == nil {
		a.batch = &interfaces.Batch{Lane: a.lane, Low: seq}
	}
	a.batch.High = seq
	a.batch.Checkpoints++
	a.batch.Records = append(a.batch.Records, records...)
	a.next = seq + 1
	return nil
}

// Full reports whether a size limit is reached and which one.
func (a *Accumulator) Full() (FlushReason, bool) {
	if a.batch == nil {
		return 0, false
	}
	if len(a.batch.Records) >= a.recordLimit {
		return RECORD_LIMIT, true
	}
	if a.batch.Checkpoints >= a.checkpointLimit {
		return CHECKPOINT_LIMIT, true
	}
	return 0, false
}

func (a *Accumulator) Empty() bool {
	return a.batch == nil
}

// High returns the last buffered checkpoint.
func (a *Accumulator) High() (uint64, bool) {
	if a.batch == nil {
		return 0, false
	}
	return a.batch.High, true
}

// Next returns the checkpoint the accumulator expects.
func (a *Accumulator) Next() uint64 {
	return a.next
}

// Take hands out the buffered batch and starts a new one at Next.
func (a *Accumulator) Take() *interfaces.Batch {
	b := a.batch
	a.batch = nil
	return b
}
