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
package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/schema"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// fakeExecer records the statements of a commit against an in-memory watermark.
type fakeExecer struct {
	watermark  int64
	registered bool
	advanced   int64
	upserts    []Statement
	execErr    error
}

func (f *fakeExecer) QueryInt64(ctx context.Context, query string, args ...interface{}) (int64, bool, error) {
	return f.watermark, f.registered, nil
}

func (f *fakeExecer) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	high := args[0].(int64)
	if high <= f.watermark {
		return f.advanced, nil
	}
	f.watermark = high
	return 1, nil
}

func (f *fakeExecer) ExecAll(ctx context.Context, stmts []Statement) (int64, error) {
	if f.execErr != nil {
		return 0, f.execErr
	}
	f.upserts = append(f.upserts, stmts...)
	return int64(len(stmts)), nil
}

func digests(lane string, low, high uint64) *interfaces.Batch {
	b := &interfaces.Batch{Lane: lane, Low: low, High: high, Checkpoints: int(high - low + 1)}
	for seq := low; seq <= high; seq++ {
		b.Records = append(b.Records, &models.StoredTransactionDigest{TxDigest: "D", CheckpointSequenceNumber: seq})
	}
	return b
}

func TestCommitAdvancesWatermark(t *testing.T) {
	c := NewCommitter(schema.SQLite)
	tx := &fakeExecer{watermark: -1, registered: true}

	affected, err := c.Commit(context.Background(), tx, digests("digests", 0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	assert.Equal(t, int64(2), tx.watermark)
	require.Len(t, tx.upserts, 3)
	assert.Equal(t, schema.SQLite.Upsert(schema.TransactionDigests), tx.upserts[0].SQL)
	assert.Equal(t, []interface{}{"D", int64(1)}, tx.upserts[1].Args)
}

func TestCommitReplayIsNoop(t *testing.T) {
	c := NewCommitter(schema.Postgres)
	tx := &fakeExecer{watermark: 5, registered: true}

	affected, err := c.Commit(context.Background(), tx, digests("digests", 3, 5))
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.Empty(t, tx.upserts)
}

func TestCommitGap(t *testing.T) {
	c := NewCommitter(schema.Postgres)
	tx := &fakeExecer{watermark: 5, registered: true}

	_, err := c.Commit(context.Background(), tx, digests("digests", 7, 8))
	assert.True(t, errors.Is(err, database.ErrWatermarkGap))
	assert.Empty(t, tx.upserts)
}

func TestCommitUnregistered(t *testing.T) {
	c := NewCommitter(schema.Postgres)
	_, err := c.Commit(context.Background(), &fakeExecer{}, digests("digests", 0, 0))
	assert.True(t, errors.Is(err, database.ErrLaneNotRegistered))
}

func TestCommitInvalidRange(t *testing.T) {
	c := NewCommitter(schema.Postgres)
	_, err := c.Commit(context.Background(), &fakeExecer{registered: true}, &interfaces.Batch{Lane: "x", Low: 4, High: 3})
	assert.Error(t, err)
}

func TestCommitUpsertFailure(t *testing.T) {
	c := NewCommitter(schema.SQLite)
	boom := errors.New("disk full")
	tx := &fakeExecer{watermark: -1, registered: true, execErr: boom}

	_, err := c.Commit(context.Background(), tx, digests("digests", 0, 0))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, int64(-1), tx.watermark)
}

// mislabeled claims a merge policy its table does not use.
type mislabeled struct {
	models.StoredCheckpointSummary
}

func (m *mislabeled) MergePolicy() interfaces.MergePolicy {
	return interfaces.APPEND_ONLY
}

// short returns fewer values than its table has columns.
type short struct {
	models.StoredTransactionDigest
}

func (s *short) Values() []interface{} {
	return []interface{}{"D"}
}

func TestStatementsValidateRecords(t *testing.T) {
	c := NewCommitter(schema.SQLite)

	_, err := c.Statements(&interfaces.Batch{Lane: "s", Records: []interfaces.Record{&mislabeled{}}})
	assert.ErrorContains(t, err, "merge policy")

	_, err = c.Statements(&interfaces.Batch{Lane: "d", Records: []interfaces.Record{&short{}}})
	assert.ErrorContains(t, err, "1 values for 2 columns")
}
