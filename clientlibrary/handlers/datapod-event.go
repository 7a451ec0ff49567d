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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// DataPodEventHandler records the events emitted by the datapod marketplace
// package. With an empty PackageID every event is recorded.
type DataPodEventHandler struct {
	PackageID string
}

// dataPodPayload is the union of the fields the marketplace events carry.
type dataPodPayload struct {
	DataPodID *string    `json:"datapod_id"`
	Seller    *string    `json:"seller"`
	Title     *string    `json:"title"`
	Category  *string    `json:"category"`
	PriceSui  *moveInt64 `json:"price_sui"`
	KioskID   *string    `json:"kiosk_id"`
	OldPrice  *moveInt64 `json:"old_price"`
	NewPrice  *moveInt64 `json:"new_price"`
}

// moveInt64 accepts both JSON numbers and the quoted decimal strings used for u64 fields.
type moveInt64 int64

func (m *moveInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	*m = moveInt64(n)
	return nil
}

func (h *DataPodEventHandler) Name() string {
	return DataPodEventLane
}

func (h *DataPodEventHandler) Kind() interfaces.RecordKind {
	return interfaces.DATAPOD_EVENT
}

func (h *DataPodEventHandler) Extract(ctx context.Context, cp *interfaces.Checkpoint) ([]interfaces.Record, error) {
	if err := checkStorable(cp, "sequence number", cp.SequenceNumber); err != nil {
		return nil, err
	}
	var records []interfaces.Record
	for i := range cp.Transactions {
		tx := &cp.Transactions[i]
		for idx := range tx.Events {
			ev := &tx.Events[idx]
			if h.PackageID != "" && !strings.EqualFold(ev.PackageID, h.PackageID) {
				continue
			}

			payload := dataPodPayload{}
			if len(ev.Contents) > 0 {
				if err := json.Unmarshal(ev.Contents, &payload); err != nil {
					return nil, fmt.Errorf("checkpoint %d transaction %s event %d: %v: %w",
						cp.SequenceNumber, tx.Digest, idx, err, ErrMalformedCheckpoint)
				}
			}

			records = append(records, &models.StoredDataPodEvent{
				TransactionDigest:        tx.Digest,
				EventIndex:               int64(idx),
				EventType:                eventName(ev.Type),
				DataPodID:                payload.DataPodID,
				Seller:                   payload.Seller,
				Title:                    payload.Title,
				Category:                 payload.Category,
				PriceSui:                 payload.PriceSui.ptr(),
				KioskID:                  payload.KioskID,
				OldPrice:                 payload.OldPrice.ptr(),
				NewPrice:                 payload.NewPrice.ptr(),
				CheckpointSequenceNumber: cp.SequenceNumber,
				TimestampMs:              cp.TimestampMs,
			})
		}
	}
	return records, nil
}

func (m *moveInt64) ptr() *int64 {
	if m == nil {
		return nil
	}
	n := int64(*m)
	return &n
}

// eventName strips the package and module from a fully qualified event type.
// Type parameters are kept: pkg::m::Listed<pkg::m::Pod> becomes Listed<pkg::m::Pod>.
func eventName(fq string) string {
	base := fq
	if i := strings.Index(fq, "<"); i >= 0 {
		base = fq[:i]
	}
	if i := strings.LastIndex(base, "::"); i >= 0 {
		return fq[i+2:]
	}
	return fq
}
