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
package interfaces

import (
	"fmt"
)

const (
	// APPEND_ONLY inserts the record and ignores a natural key collision.
	APPEND_ONLY MergePolicy = iota + 1

	// REPLACE_ON_CONFLICT inserts the record or overwrites every non key column.
	REPLACE_ON_CONFLICT

	// VERSIONED_MERGE overwrites the stored row only when the incoming version is
	// greater than or equal to the stored version.
	VERSIONED_MERGE
)

const (
	TRANSACTION_DIGEST RecordKind = iota + 1
	DATAPOD_EVENT
	SMART_CONTRACT_OBJECT
	CHECKPOINT_SUMMARY
)

type (
	// MergePolicy tells the commit sink how a natural key collision is resolved.
	MergePolicy int

	// RecordKind tags the concrete record type a lane produces.
	RecordKind int

	// Record is a typed value extracted from one checkpoint by one lane.
	Record interface {
		Kind() RecordKind

		// NaturalKey identifies the record for idempotent storage.
		NaturalKey() string

		MergePolicy() MergePolicy

		// Version is only meaningful for VERSIONED_MERGE records. Other records return 0.
		Version() uint64

		// Values returns the column values in the order declared by the record's table.
		Values() []interface{}
	}

	// Batch is an ordered run of records extracted from the closed checkpoint range [Low, High].
	Batch struct {
		Lane        string
		Low         uint64
		High        uint64
		Checkpoints int
		Records     []Record
	}
)

var mergePolicyMap = map[MergePolicy]string{
	APPEND_ONLY:         "APPEND_ONLY",
	REPLACE_ON_CONFLICT: "REPLACE_ON_CONFLICT",
	VERSIONED_MERGE:     "VERSIONED_MERGE",
}

var recordKindMap = map[RecordKind]string{
	TRANSACTION_DIGEST:    "TRANSACTION_DIGEST",
	DATAPOD_EVENT:         "DATAPOD_EVENT",
	SMART_CONTRACT_OBJECT: "SMART_CONTRACT_OBJECT",
	CHECKPOINT_SUMMARY:    "CHECKPOINT_SUMMARY",
}

func (m MergePolicy) String() string {
	if s, ok := mergePolicyMap[m]; ok {
		return s
	}
	return fmt.Sprintf("MergePolicy(%d)", int(m))
}

func (k RecordKind) String() string {
	if s, ok := recordKindMap[k]; ok {
		return s
	}
	return fmt.Sprintf("RecordKind(%d)", int(k))
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Records)
}

func (b *Batch) String() string {
	return fmt.Sprintf("%s[%d, %d] (%d records)", b.Lane, b.Low, b.High, len(b.Records))
}
