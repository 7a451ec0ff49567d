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
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/schema"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/logger"
)

func newStore(t *testing.T) *Datastore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "indexer.db"), logger.GetDefaultLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func snapshot(t *testing.T, store *Datastore, table *schema.Table) []string {
	t.Helper()
	cols := table.ColumnNames()
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), table.Name, strings.Join(table.KeyColumns, ", "))
	rows, err := store.DB().Query(query)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		parts := make([]string, len(values))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			parts[i] = fmt.Sprintf("%v", v)
		}
		out = append(out, strings.Join(parts, " "))
	}
	require.NoError(t, rows.Err())
	return out
}

func resetWatermark(t *testing.T, store *Datastore, lane string, value int64) {
	t.Helper()
	_, err := store.DB().Exec("UPDATE watermarks SET checkpoint_hi = ? WHERE lane = ?", value, lane)
	require.NoError(t, err)
}

func watermark(t *testing.T, store *Datastore, lane string) int64 {
	t.Helper()
	wm, err := store.GetWatermark(context.Background(), lane)
	require.NoError(t, err)
	require.NotNil(t, wm)
	return wm.CheckpointHi
}

func str(s string) *string { return &s }
func num(n int64) *int64   { return &n }

func TestInitIsIdempotent(t *testing.T) {
	store := newStore(t)
	assert.NoError(t, store.Init(context.Background()))
	assert.Equal(t, "sqlite", store.ServiceName())
	assert.NoError(t, store.PingContext(context.Background()))
	assert.Equal(t, 1, store.GetDBStats().MaxOpenConnections)
}

func TestRegisterLane(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	wm, err := store.GetWatermark(ctx, "transaction_digest_handler")
	require.NoError(t, err)
	assert.Nil(t, wm)

	wm, err = store.RegisterLane(ctx, "transaction_digest_handler", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), wm.CheckpointHi)
	assert.NotNil(t, wm.UpdatedAt)

	// registering again keeps the persisted watermark
	wm, err = store.RegisterLane(ctx, "transaction_digest_handler", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), wm.CheckpointHi)

	_, err = store.RegisterLane(ctx, "checkpoint_summary_handler", 9)
	require.NoError(t, err)

	all, err := store.GetWatermarks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "checkpoint_summary_handler", all[0].Lane)
	assert.Equal(t, int64(9), all[0].CheckpointHi)
	assert.Equal(t, "transaction_digest_handler", all[1].Lane)
}

func TestIdempotentReplay(t *testing.T) {
	cases := []struct {
		name    string
		table   *schema.Table
		records []interfaces.Record
	}{
		{
			name:  "append-only",
			table: schema.TransactionDigests,
			records: []interfaces.Record{
				&models.StoredTransactionDigest{TxDigest: "d1", CheckpointSequenceNumber: 1},
				&models.StoredTransactionDigest{TxDigest: "d2", CheckpointSequenceNumber: 2},
			},
		},
		{
			name:  "append-only events",
			table: schema.DataPodEvents,
			records: []interfaces.Record{
				&models.StoredDataPodEvent{TransactionDigest: "d1", EventIndex: 0, EventType: "DataPodCreated",
					DataPodID: str("0xpod"), Seller: str("0xseller"), PriceSui: num(10), CheckpointSequenceNumber: 1},
				&models.StoredDataPodEvent{TransactionDigest: "d1", EventIndex: 1, EventType: "DataPodPriceUpdated",
					DataPodID: str("0xpod"), OldPrice: num(10), NewPrice: num(12), CheckpointSequenceNumber: 1},
			},
		},
		{
			name:  "replace-on-conflict",
			table: schema.CheckpointSummaries,
			records: []interfaces.Record{
				&models.StoredCheckpointSummary{SequenceNumber: 1, Digest: "c1", TransactionCount: 2},
				&models.StoredCheckpointSummary{SequenceNumber: 2, Digest: "c2", TransactionCount: 1, EventCount: 4},
			},
		},
		{
			name:  "versioned-merge",
			table: schema.SmartContractObjects,
			records: []interfaces.Record{
				&models.StoredSmartContractObject{ObjectID: "0xa", ObjectType: "pod::DataPod", Owner: "0x1",
					ObjectVersion: 3, Digest: "o1", ContentType: "move", Data: json.RawMessage(`{"n":1}`), CheckpointSequenceNumber: 1},
				&models.StoredSmartContractObject{ObjectID: "0xb", ObjectType: "pod::Kiosk", Owner: "0x2",
					ObjectVersion: 1, Digest: "o2", ContentType: "move", CheckpointSequenceNumber: 2},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			lane := "lane"
			_, err := store.RegisterLane(ctx, lane, 0)
			require.NoError(t, err)

			batch := &interfaces.Batch{Lane: lane, Low: 1, High: 2, Checkpoints: 2, Records: tc.records}
			affected, err := store.CommitBatch(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tc.records)), affected)
			once := snapshot(t, store, tc.table)
			require.Len(t, once, len(tc.records))

			// covered by the watermark: nothing is executed
			affected, err = store.CommitBatch(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, int64(0), affected)

			// force the statements to run again
			resetWatermark(t, store, lane, 0)
			_, err = store.CommitBatch(ctx, batch)
			require.NoError(t, err)

			assert.Equal(t, once, snapshot(t, store, tc.table))
			assert.Equal(t, int64(2), watermark(t, store, lane))
		})
	}
}

func TestAppendOnlyReplayAffectsNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.RegisterLane(ctx, "digests", 0)
	require.NoError(t, err)

	batch := &interfaces.Batch{Lane: "digests", Low: 1, High: 1, Records: []interfaces.Record{
		&models.StoredTransactionDigest{TxDigest: "d1", CheckpointSequenceNumber: 1},
	}}
	_, err = store.CommitBatch(ctx, batch)
	require.NoError(t, err)

	resetWatermark(t, store, "digests", 0)
	affected, err := store.CommitBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestVersionedMergeKeepsHighestVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	lane := "smart_contract_object_handler"
	_, err := store.RegisterLane(ctx, lane, 0)
	require.NoError(t, err)

	object := func(version uint64, digest string, seq uint64) interfaces.Record {
		return &models.StoredSmartContractObject{ObjectID: "X", ObjectType: "pod::DataPod", Owner: "0x1",
			ObjectVersion: version, Digest: digest, ContentType: "move", CheckpointSequenceNumber: seq}
	}

	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: lane, Low: 1, High: 1, Records: []interfaces.Record{object(1, "v1", 1)}})
	require.NoError(t, err)
	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: lane, Low: 2, High: 2, Records: []interfaces.Record{object(2, "v2", 2)}})
	require.NoError(t, err)

	// a stale state arriving later is discarded
	affected, err := store.CommitBatch(ctx, &interfaces.Batch{Lane: lane, Low: 3, High: 3, Records: []interfaces.Record{object(1, "v1", 3)}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	rows := snapshot(t, store, schema.SmartContractObjects)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "X pod::DataPod 0x1 2 v2")
	assert.Equal(t, int64(3), watermark(t, store, lane))
}

func TestReplaceLastWriteInBatchWins(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.RegisterLane(ctx, "summaries", 0)
	require.NoError(t, err)

	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: "summaries", Low: 1, High: 1, Records: []interfaces.Record{
		&models.StoredCheckpointSummary{SequenceNumber: 1, Digest: "first"},
		&models.StoredCheckpointSummary{SequenceNumber: 1, Digest: "second", EventCount: 3},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"1 second 0 0 3"}, snapshot(t, store, schema.CheckpointSummaries))
}

func TestWatermarkGap(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.RegisterLane(ctx, "digests", -1)
	require.NoError(t, err)

	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: "digests", Low: 2, High: 3})
	assert.True(t, errors.Is(err, database.ErrWatermarkGap))
	assert.Equal(t, int64(-1), watermark(t, store, "digests"))

	// an empty range still advances the watermark
	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: "digests", Low: 0, High: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), watermark(t, store, "digests"))
}

func TestOverlappingBatchAdvances(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.RegisterLane(ctx, "digests", 3)
	require.NoError(t, err)

	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: "digests", Low: 2, High: 5, Records: []interfaces.Record{
		&models.StoredTransactionDigest{TxDigest: "d2", CheckpointSequenceNumber: 2},
		&models.StoredTransactionDigest{TxDigest: "d5", CheckpointSequenceNumber: 5},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), watermark(t, store, "digests"))
}

func TestCommitUnregisteredLane(t *testing.T) {
	store := newStore(t)
	_, err := store.CommitBatch(context.Background(), &interfaces.Batch{Lane: "nobody", Low: 0, High: 0})
	assert.True(t, errors.Is(err, database.ErrLaneNotRegistered))
}

// brokenDigest violates the NOT NULL constraint of tx_digest.
type brokenDigest struct {
	models.StoredTransactionDigest
}

func (b *brokenDigest) Values() []interface{} {
	return []interface{}{nil, int64(b.CheckpointSequenceNumber)}
}

func TestFailedCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.RegisterLane(ctx, "digests", 0)
	require.NoError(t, err)

	_, err = store.CommitBatch(ctx, &interfaces.Batch{Lane: "digests", Low: 1, High: 2, Records: []interfaces.Record{
		&models.StoredTransactionDigest{TxDigest: "d1", CheckpointSequenceNumber: 1},
		&brokenDigest{models.StoredTransactionDigest{CheckpointSequenceNumber: 2}},
	}})
	require.Error(t, err)
	assert.False(t, store.IsRetryable(err))

	assert.Empty(t, snapshot(t, store, schema.TransactionDigests))
	assert.Equal(t, int64(0), watermark(t, store, "digests"))
}

func TestIsRetryable(t *testing.T) {
	store := newStore(t)
	assert.True(t, store.IsRetryable(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, store.IsRetryable(fmt.Errorf("commit: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.True(t, store.IsRetryable(fmt.Errorf("commit: %w", context.DeadlineExceeded)))
	assert.False(t, store.IsRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, store.IsRetryable(database.ErrWatermarkGap))
	assert.False(t, store.IsRetryable(nil))
}
