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
// Package postgres implements the indexer datastore on PostgreSQL with a shared pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/schema"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/sqlstore"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/logger"
)

var _ database.IndexerDatastore = (*Datastore)(nil)

// SQLSTATE codes worth retrying besides connection exceptions (class 08).
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

// Datastore stores lane records and watermarks in PostgreSQL. All lanes share its pool.
type Datastore struct {
	pool      *pgxpool.Pool
	committer *sqlstore.Committer
	log       logger.Logger
}

// Open connects a pool of at most maxConns connections and verifies it.
func Open(ctx context.Context, connStr string, maxConns int, log logger.Logger) (*Datastore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse store connection: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Datastore{
		pool:      pool,
		committer: sqlstore.NewCommitter(schema.Postgres),
		log:       log,
	}, nil
}

func (p *Datastore) ServiceName() string {
	return "postgres"
}

// GetDBStats reports the pool statistics in database/sql terms.
func (p *Datastore) GetDBStats() sql.DBStats {
	stat := p.pool.Stat()
	return sql.DBStats{
		MaxOpenConnections: int(stat.MaxConns()),
		OpenConnections:    int(stat.TotalConns()),
		InUse:              int(stat.AcquiredConns()),
		Idle:               int(stat.IdleConns()),
		WaitCount:          stat.EmptyAcquireCount(),
		WaitDuration:       stat.AcquireDuration(),
	}
}

func (p *Datastore) PingContext(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Datastore) Close() error {
	p.pool.Close()
	return nil
}

func (p *Datastore) Init(ctx context.Context) error {
	for _, stmt := range schema.Postgres.DDL() {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (p *Datastore) RegisterLane(ctx context.Context, lane string, initial int64) (*models.Watermark, error) {
	if _, err := p.pool.Exec(ctx, schema.Postgres.RegisterLane(), lane, initial); err != nil {
		return nil, fmt.Errorf("register lane %s: %w", lane, err)
	}

	wm, err := p.GetWatermark(ctx, lane)
	if err != nil {
		return nil, err
	}
	if wm == nil {
		return nil, fmt.Errorf("register lane %s: watermark missing after insert", lane)
	}
	return wm, nil
}

func (p *Datastore) GetWatermark(ctx context.Context, lane string) (*models.Watermark, error) {
	wm, err := scanWatermark(p.pool.QueryRow(ctx, schema.Postgres.SelectWatermark(), lane))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark of %s: %w", lane, err)
	}
	return wm, nil
}

func (p *Datastore) GetWatermarks(ctx context.Context) ([]*models.Watermark, error) {
	rows, err := p.pool.Query(ctx, schema.Postgres.SelectWatermarks())
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var watermarks []*models.Watermark
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("list watermarks: %w", err)
		}
		watermarks = append(watermarks, wm)
	}
	return watermarks, rows.Err()
}

func (p *Datastore) CommitBatch(ctx context.Context, batch *interfaces.Batch) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin commit of %s: %w", batch, err)
	}
	defer tx.Rollback(ctx)

	affected, err := p.committer.Commit(ctx, &pgxTx{tx: tx}, batch)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %s: %w", batch, err)
	}
	return affected, nil
}

// IsRetryable reports connection failures, serialization conflicts and timeouts as transient.
func (p *Datastore) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || retryableCodes[pgErr.Code]
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

func scanWatermark(row pgx.Row) (*models.Watermark, error) {
	var (
		wm        models.Watermark
		updatedAt time.Time
	)
	if err := row.Scan(&wm.Lane, &wm.CheckpointHi, &updatedAt); err != nil {
		return nil, err
	}
	updatedAt = updatedAt.UTC()
	wm.UpdatedAt = &updatedAt
	return &wm, nil
}

// pgxTx runs the commit statements on a pgx transaction. The record upserts
// are sent as one pipelined batch.
type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) QueryInt64(ctx context.Context, query string, args ...interface{}) (int64, bool, error) {
	var v int64
	err := t.tx.QueryRow(ctx, query, args...).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgxTx) ExecAll(ctx context.Context, stmts []sqlstore.Statement) (total int64, err error) {
	if len(stmts) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, s := range stmts {
		b.Queue(s.SQL, s.Args...)
	}

	br := t.tx.SendBatch(ctx, b)
	defer func() {
		if cerr := br.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for range stmts {
		tag, err := br.Exec()
		if err != nil {
			return 0, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
