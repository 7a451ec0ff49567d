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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

const (
	syntheticGenesisMs    = int64(1700000000000)
	syntheticObjectSlots  = 16
	syntheticDataPodCount = 8
)

// SyntheticFeed generates deterministic checkpoints for demos and load tests.
// One new checkpoint becomes available per interval after creation.
type SyntheticFeed struct {
	packageID string
	start     uint64
	interval  time.Duration
	created   time.Time
	now       func() time.Time
}

func NewSyntheticFeed(packageID string, start uint64, interval time.Duration) *SyntheticFeed {
	if interval <= 0 {
		panic("synthetic feed interval must be positive")
	}
	return &SyntheticFeed{
		packageID: packageID,
		start:     start,
		interval:  interval,
		created:   time.Now(),
		now:       time.Now,
	}
}

func (f *SyntheticFeed) Latest(ctx context.Context) (uint64, error) {
	return f.start + uint64(f.now().Sub(f.created)/f.interval), nil
}

func (f *SyntheticFeed) Checkpoint(ctx context.Context, seq uint64) (*interfaces.Checkpoint, error) {
	latest, _ := f.Latest(ctx)
	if seq > latest {
		return nil, ErrCheckpointNotFound
	}
	return SyntheticCheckpoint(f.packageID, seq), nil
}

// SyntheticCheckpoint builds checkpoint seq. The same inputs always produce the same checkpoint.
func SyntheticCheckpoint(packageID string, seq uint64) *interfaces.Checkpoint {
	cp := &interfaces.Checkpoint{
		SequenceNumber: seq,
		Digest:         syntheticDigest("checkpoint", seq),
		TimestampMs:    syntheticGenesisMs + int64(seq)*1000,
	}

	for i := 0; i < int(seq%3)+1; i++ {
		tx := interfaces.Transaction{
			Digest: syntheticDigest("transaction", seq, uint64(i)),
			Sender: "0x" + syntheticDigest("sender", uint64(i)),
		}

		podID := "0x" + syntheticDigest("datapod", (seq+uint64(i))%syntheticDataPodCount)
		tx.Events = append(tx.Events, syntheticEvent(packageID, tx.Sender, podID, seq, i))

		slot := (seq*3 + uint64(i)) % syntheticObjectSlots
		contents, _ := json.Marshal(map[string]interface{}{"slot": slot, "checkpoint": seq})
		tx.ObjectChanges = append(tx.ObjectChanges, interfaces.ObjectChange{
			ObjectID:    "0x" + syntheticDigest("object", slot),
			ObjectType:  packageID + "::datapod::DataPod",
			Version:     seq*3 + uint64(i) + 1,
			Digest:      syntheticDigest("object", slot, seq),
			Owner:       tx.Sender,
			WriteKind:   "mutated",
			ContentType: "moveObject",
			Contents:    contents,
		})

		cp.Transactions = append(cp.Transactions, tx)
	}
	return cp
}

func syntheticEvent(packageID, sender, podID string, seq uint64, i int) interfaces.Event {
	var (
		name     string
		contents map[string]interface{}
	)
	switch (seq + uint64(i)) % 3 {
	case 0:
		name = "DataPodCreated"
		contents = map[string]interface{}{
			"datapod_id": podID,
			"seller":     sender,
			"title":      fmt.Sprintf("Dataset %d", seq),
			"category":   "research",
			"price_sui":  1000 + seq,
		}
	case 1:
		name = "PriceUpdated"
		contents = map[string]interface{}{
			"datapod_id": podID,
			"old_price":  1000 + seq,
			"new_price":  1100 + seq,
		}
	default:
		name = "DataPodPurchased"
		contents = map[string]interface{}{
			"datapod_id": podID,
			"kiosk_id":   "0x" + syntheticDigest("kiosk", seq%4),
			"price_sui":  1100 + seq,
		}
	}

	data, _ := json.Marshal(contents)
	return interfaces.Event{
		PackageID: packageID,
		Module:    "datapod",
		Type:      packageID + "::datapod::" + name,
		Sender:    sender,
		Contents:  data,
	}
}

func syntheticDigest(kind string, parts ...uint64) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		fmt.Fprintf(h, "-%d", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
