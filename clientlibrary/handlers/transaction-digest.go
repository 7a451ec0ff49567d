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
package handlers

import (
	"context"
	"fmt"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// TransactionDigestHandler records the digest of every executed transaction.
type TransactionDigestHandler struct{}

func (h *TransactionDigestHandler) Name() string {
	return TransactionDigestLane
}

func (h *TransactionDigestHandler) Kind() interfaces.RecordKind {
	return interfaces.TRANSACTION_DIGEST
}

func (h *TransactionDigestHandler) Extract(ctx context.Context, cp *interfaces.Checkpoint) ([]interfaces.Record, error) {
	if err := checkStorable(cp, "sequence number", cp.SequenceNumber); err != nil {
		return nil, err
	}
	records := make([]interfaces.Record, 0, len(cp.Transactions))
	for i := range cp.Transactions {
		tx := &cp.Transactions[i]
		if tx.Digest == "" {
			return nil, fmt.Errorf("checkpoint %d transaction %d has no digest: %w", cp.SequenceNumber, i, ErrMalformedCheckpoint)
		}
		records = append(records, &models.StoredTransactionDigest{
			TxDigest:                 tx.Digest,
			CheckpointSequenceNumber: cp.SequenceNumber,
		})
	}
	return records, nil
}
