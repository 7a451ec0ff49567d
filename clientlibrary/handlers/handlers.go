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
// Package handlers holds the record handlers of the built-in lanes.
package handlers

import (
	"fmt"
	"math"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

const (
	TransactionDigestLane   = "transaction_digest_handler"
	DataPodEventLane        = "datapod_event_handler"
	SmartContractObjectLane = "smart_contract_object_handler"
	CheckpointSummaryLane   = "checkpoint_summary_handler"
)

// ErrMalformedCheckpoint is wrapped by handlers when checkpoint content cannot
// be mapped to records. It is the sentinel the feeds use for undecodable data.
var ErrMalformedCheckpoint = feed.ErrMalformedCheckpoint

// checkStorable rejects unsigned values the BIGINT columns cannot hold.
func checkStorable(cp *interfaces.Checkpoint, what string, v uint64) error {
	if v > math.MaxInt64 {
		return fmt.Errorf("checkpoint %d: %s %d exceeds the storable range: %w",
			cp.SequenceNumber, what, v, ErrMalformedCheckpoint)
	}
	return nil
}

// DefaultHandlers returns the handlers of every built-in lane.
func DefaultHandlers(cfg *config.IndexerConfiguration) []interfaces.IRecordHandler {
	return []interfaces.IRecordHandler{
		&TransactionDigestHandler{},
		&DataPodEventHandler{PackageID: cfg.SmartContractAddress},
		&SmartContractObjectHandler{},
		&CheckpointSummaryHandler{},
	}
}
