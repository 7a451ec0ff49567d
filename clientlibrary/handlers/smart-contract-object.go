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

// SmartContractObjectHandler records the latest known state of every changed object.
type SmartContractObjectHandler struct{}

func (h *SmartContractObjectHandler) Name() string {
	return SmartContractObjectLane
}

func (h *SmartContractObjectHandler) Kind() interfaces.RecordKind {
	return interfaces.SMART_CONTRACT_OBJECT
}

func (h *SmartContractObjectHandler) Extract(ctx context.Context, cp *interfaces.Checkpoint) ([]interfaces.Record, error) {
	if err := checkStorable(cp, "sequence number", cp.SequenceNumber); err != nil {
		return nil, err
	}
	var records []interfaces.Record
	for i := range cp.Transactions {
		tx := &cp.Transactions[i]
		for j := range tx.ObjectChanges {
			oc := &tx.ObjectChanges[j]
			if oc.ObjectID == "" || oc.Version == 0 {
				return nil, fmt.Errorf("checkpoint %d transaction %s object change %d has no id or version: %w",
					cp.SequenceNumber, tx.Digest, j, ErrMalformedCheckpoint)
			}
			if err := checkStorable(cp, "object version", oc.Version); err != nil {
				return nil, err
			}
			records = append(records, &models.StoredSmartContractObject{
				ObjectID:                 oc.ObjectID,
				ObjectType:               oc.ObjectType,
				Owner:                    oc.Owner,
				ObjectVersion:            oc.Version,
				Digest:                   oc.Digest,
				ContentType:              oc.ContentType,
				Data:                     oc.Contents,
				CheckpointSequenceNumber: cp.SequenceNumber,
				TransactionDigest:        tx.Digest,
			})
		}
	}
	return records, nil
}
