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
	"encoding/json"
)

type (
	// Checkpoint is one immutable unit of ledger history. Sequence numbers are
	// strictly increasing and the transaction order is the order of execution.
	Checkpoint struct {
		SequenceNumber uint64        `json:"sequence_number"`
		Digest         string        `json:"digest"`
		TimestampMs    int64         `json:"timestamp_ms"`
		Transactions   []Transaction `json:"transactions"`
	}

	Transaction struct {
		Digest        string         `json:"digest"`
		Sender        string         `json:"sender"`
		Events        []Event        `json:"events"`
		ObjectChanges []ObjectChange `json:"object_changes"`
	}

	// Event is emitted by a move call. Contents holds the decoded event payload as JSON.
	Event struct {
		PackageID string          `json:"package_id"`
		Module    string          `json:"module"`
		Type      string          `json:"type"`
		Sender    string          `json:"sender"`
		Contents  json.RawMessage `json:"contents,omitempty"`
	}

	// ObjectChange is the output state of an object written or created by a transaction.
	ObjectChange struct {
		ObjectID    string          `json:"object_id"`
		ObjectType  string          `json:"object_type"`
		Version     uint64          `json:"version"`
		Digest      string          `json:"digest"`
		Owner       string          `json:"owner"`
		WriteKind   string          `json:"write_kind"`
		ContentType string          `json:"content_type"`
		Contents    json.RawMessage `json:"contents,omitempty"`
	}
)

// EventCount returns the number of events emitted by all transactions in the checkpoint.
func (c *Checkpoint) EventCount() int {
	n := 0
	for i := range c.Transactions {
		n += len(c.Transactions[i].Events)
	}
	return n
}
