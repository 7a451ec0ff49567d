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
// Package sqlstore implements the commit algorithm shared by the SQL datastores.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/schema"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// Statement is one parameterized statement of a commit.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Execer runs statements inside one open store transaction.
type Execer interface {
	// QueryInt64 scans the single int64 column of the first row. found is false when there is no row.
	QueryInt64(ctx context.Context, query string, args ...interface{}) (value int64, found bool, err error)

	// Exec returns the number of rows affected.
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)

	// ExecAll runs the statements in order and returns the total number of rows affected.
	ExecAll(ctx context.Context, stmts []Statement) (int64, error)
}

// Committer renders and runs the commit of a batch for one dialect.
type Committer struct {
	dialect schema.Dialect
	upserts map[interfaces.RecordKind]string
	tables  map[interfaces.RecordKind]*schema.Table
}

func NewCommitter(dialect schema.Dialect) *Committer {
	c := &Committer{
		dialect: dialect,
		upserts: map[interfaces.RecordKind]string{},
		tables:  map[interfaces.RecordKind]*schema.Table{},
	}
	for _, t := range schema.Tables() {
		c.upserts[t.Kind] = dialect.Upsert(t)
		c.tables[t.Kind] = t
	}
	return c
}

// Statements maps the batch records to their upserts, preserving batch order.
func (c *Committer) Statements(batch *interfaces.Batch) ([]Statement, error) {
	stmts := make([]Statement, 0, len(batch.Records))
	for i, rec := range batch.Records {
		t, ok := c.tables[rec.Kind()]
		if !ok {
			return nil, fmt.Errorf("record %d of %s: no table for kind %s", i, batch, rec.Kind())
		}
		if rec.MergePolicy() != t.Policy {
			return nil, fmt.Errorf("record %d of %s: merge policy %s does not match table %s (%s)",
				i, batch, rec.MergePolicy(), t.Name, t.Policy)
		}
		values := rec.Values()
		if len(values) != len(t.Columns) {
			return nil, fmt.Errorf("record %d of %s: %d values for %d columns of %s",
				i, batch, len(values), len(t.Columns), t.Name)
		}
		stmts = append(stmts, Statement{SQL: c.upserts[rec.Kind()], Args: values})
	}
	return stmts, nil
}

// Commit upserts the batch and advances the lane watermark inside tx. The caller
// owns the transaction and must roll it back on error.
//
// A batch fully covered by the watermark is a replay and affects nothing. A batch
// starting after watermark+1 would leave a hole and fails with ErrWatermarkGap. A
// batch overlapping the watermark is applied as a whole; the merge policies make
// the overlap idempotent.
func (c *Committer) Commit(ctx context.Context, tx Execer, batch *interfaces.Batch) (int64, error) {
	if batch.High < batch.Low {
		return 0, fmt.Errorf("invalid batch range %s", batch)
	}

	watermark, found, err := tx.QueryInt64(ctx, c.dialect.LockWatermark(), batch.Lane)
	if err != nil {
		return 0, fmt.Errorf("read watermark of %s: %w", batch.Lane, err)
	}
	if !found {
		return 0, fmt.Errorf("%s: %w", batch.Lane, database.ErrLaneNotRegistered)
	}

	high := int64(batch.High)
	if high <= watermark {
		return 0, nil
	}
	if int64(batch.Low) > watermark+1 {
		return 0, fmt.Errorf("%s after watermark %d: %w", batch, watermark, database.ErrWatermarkGap)
	}

	stmts, err := c.Statements(batch)
	if err != nil {
		return 0, err
	}

	affected, err := tx.ExecAll(ctx, stmts)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", batch, err)
	}

	advanced, err := tx.Exec(ctx, c.dialect.AdvanceWatermark(), high, batch.Lane, high)
	if err != nil {
		return 0, fmt.Errorf("advance watermark of %s: %w", batch.Lane, err)
	}
	if advanced != 1 {
		return 0, fmt.Errorf("advance watermark of %s to %d: watermark changed concurrently", batch.Lane, high)
	}

	return affected, nil
}
