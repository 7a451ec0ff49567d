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
// Package sqlite implements the indexer datastore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/schema"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/sqlstore"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/logger"
)

// Connection parameters understood by mattn/go-sqlite3.
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - IMMEDIATE transactions so a commit holds the write lock from its watermark read on
const dsnParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"

var _ database.IndexerDatastore = (*Datastore)(nil)

// Datastore stores lane records and watermarks in SQLite.
type Datastore struct {
	db        *sql.DB
	path      string
	committer *sqlstore.Committer
	log       logger.Logger
}

// Open creates or opens a SQLite database at the given path.
func Open(path string, log logger.Logger) (*Datastore, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + dsnParams
	} else {
		dsn += "?" + dsnParams
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Datastore{
		db:        db,
		path:      path,
		committer: sqlstore.NewCommitter(schema.SQLite),
		log:       log,
	}, nil
}

func (s *Datastore) ServiceName() string {
	return "sqlite"
}

func (s *Datastore) GetDBStats() sql.DBStats {
	return s.db.Stats()
}

func (s *Datastore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Datastore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Datastore) DB() *sql.DB {
	return s.db
}

func (s *Datastore) Init(ctx context.Context) error {
	for _, stmt := range schema.SQLite.DDL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.log.Debugf("SQLite schema ready at %s", s.path)
	return nil
}

func (s *Datastore) RegisterLane(ctx context.Context, lane string, initial int64) (*models.Watermark, error) {
	if _, err := s.db.ExecContext(ctx, schema.SQLite.RegisterLane(), lane, initial); err != nil {
		return nil, fmt.Errorf("register lane %s: %w", lane, err)
	}

	wm, err := s.GetWatermark(ctx, lane)
	if err != nil {
		return nil, err
	}
	if wm == nil {
		return nil, fmt.Errorf("register lane %s: watermark missing after insert", lane)
	}
	return wm, nil
}

func (s *Datastore) GetWatermark(ctx context.Context, lane string) (*models.Watermark, error) {
	row := s.db.QueryRowContext(ctx, schema.SQLite.SelectWatermark(), lane)
	wm, err := scanWatermark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark of %s: %w", lane, err)
	}
	return wm, nil
}

func (s *Datastore) GetWatermarks(ctx context.Context) ([]*models.Watermark, error) {
	rows, err := s.db.QueryContext(ctx, schema.SQLite.SelectWatermarks())
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

func (s *Datastore) CommitBatch(ctx context.Context, batch *interfaces.Batch) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin commit of %s: %w", batch, err)
	}
	defer tx.Rollback()

	affected, err := s.committer.Commit(ctx, &sqlTx{tx: tx}, batch)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", batch, err)
	}
	return affected, nil
}

// IsRetryable reports lock contention and timeouts as transient.
func (s *Datastore) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWatermark(row scanner) (*models.Watermark, error) {
	var (
		wm        models.Watermark
		updatedAt sql.NullTime
	)
	if err := row.Scan(&wm.Lane, &wm.CheckpointHi, &updatedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		wm.UpdatedAt = &t
	}
	return &wm, nil
}

// sqlTx runs the commit statements on a database/sql transaction.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) QueryInt64(ctx context.Context, query string, args ...interface{}) (int64, bool, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqlTx) ExecAll(ctx context.Context, stmts []sqlstore.Statement) (int64, error) {
	prepared := map[string]*sql.Stmt{}
	defer func() {
		for _, p := range prepared {
			p.Close()
		}
	}()

	var total int64
	for _, s := range stmts {
		p, ok := prepared[s.SQL]
		if !ok {
			var err error
			p, err = t.tx.PrepareContext(ctx, s.SQL)
			if err != nil {
				return 0, err
			}
			prepared[s.SQL] = p
		}

		res, err := p.ExecContext(ctx, s.Args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
