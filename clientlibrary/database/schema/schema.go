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
// Package schema holds the hand maintained mapping from record kinds to tables
// and renders the DDL and upsert statements for each supported SQL dialect.
package schema

import (
	"fmt"
	"strings"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

const (
	Text ColumnType = iota + 1
	BigInt
	JSON
)

const WatermarkTable = "watermarks"

type (
	ColumnType int

	Column struct {
		Name     string
		Type     ColumnType
		Nullable bool
	}

	// Table describes where one record kind is stored. Columns are listed in the
	// order of the record's Values.
	Table struct {
		Name          string
		Kind          interfaces.RecordKind
		Columns       []Column
		KeyColumns    []string
		VersionColumn string
		Policy        interfaces.MergePolicy
		Indexes       [][]string
	}

	// Dialect holds the SQL differences between the supported stores.
	Dialect struct {
		Name       string
		param      func(n int) string
		types      map[ColumnType]string
		serialKey  string
		timestamp  string
		now        string
		lockClause string
	}
)

var Postgres = Dialect{
	Name:       "postgres",
	param:      func(n int) string { return fmt.Sprintf("$%d", n) },
	types:      map[ColumnType]string{Text: "TEXT", BigInt: "BIGINT", JSON: "JSONB"},
	serialKey:  "id BIGSERIAL PRIMARY KEY",
	timestamp:  "TIMESTAMPTZ",
	now:        "now()",
	lockClause: " FOR UPDATE",
}

var SQLite = Dialect{
	Name:      "sqlite",
	param:     func(int) string { return "?" },
	types:     map[ColumnType]string{Text: "TEXT", BigInt: "INTEGER", JSON: "TEXT"},
	serialKey: "id INTEGER PRIMARY KEY AUTOINCREMENT",
	timestamp: "TIMESTAMP",
	now:       "CURRENT_TIMESTAMP",
}

func (d Dialect) params(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.param(from + i)
	}
	return strings.Join(p, ", ")
}

// ColumnNames returns the names of the mapped columns in Values order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) isKey(name string) bool {
	for _, k := range t.KeyColumns {
		if k == name {
			return true
		}
	}
	return false
}

// CreateTable renders the statements creating the table, its natural key and its lookup indexes.
func (d Dialect) CreateTable(t *Table) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	fmt.Fprintf(&b, "    %s,\n", d.serialKey)
	for _, c := range t.Columns {
		null := " NOT NULL"
		if c.Nullable {
			null = ""
		}
		fmt.Fprintf(&b, "    %s %s%s,\n", c.Name, d.types[c.Type], null)
	}
	fmt.Fprintf(&b, "    created_at %s NOT NULL DEFAULT %s,\n", d.timestamp, d.now)
	fmt.Fprintf(&b, "    UNIQUE (%s)\n", strings.Join(t.KeyColumns, ", "))
	b.WriteString(")")

	stmts := []string{b.String()}
	for _, idx := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)",
			t.Name, strings.Join(idx, "_"), t.Name, strings.Join(idx, ", ")))
	}
	return stmts
}

// Upsert renders the statement storing one record of the table according to its merge policy.
// Arguments are the record Values.
func (d Dialect) Upsert(t *Table) string {
	columns := t.ColumnNames()
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		t.Name, strings.Join(columns, ", "), d.params(1, len(columns)), strings.Join(t.KeyColumns, ", "))

	if t.Policy == interfaces.APPEND_ONLY {
		return stmt + " DO NOTHING"
	}

	var set []string
	for _, c := range columns {
		if !t.isKey(c) {
			set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	stmt += " DO UPDATE SET " + strings.Join(set, ", ")

	if t.Policy == interfaces.VERSIONED_MERGE {
		stmt += fmt.Sprintf(" WHERE %s.%s <= excluded.%s", t.Name, t.VersionColumn, t.VersionColumn)
	}
	return stmt
}

// CreateWatermarkTable renders the statement creating the watermark table.
func (d Dialect) CreateWatermarkTable() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", WatermarkTable)
	fmt.Fprintf(&b, "    lane %s PRIMARY KEY,\n", d.types[Text])
	fmt.Fprintf(&b, "    checkpoint_hi %s NOT NULL,\n", d.types[BigInt])
	fmt.Fprintf(&b, "    updated_at %s NOT NULL DEFAULT %s\n", d.timestamp, d.now)
	b.WriteString(")")
	return b.String()
}

// RegisterLane inserts a lane watermark unless one exists. Arguments: lane, initial watermark.
func (d Dialect) RegisterLane() string {
	return fmt.Sprintf("INSERT INTO %s (lane, checkpoint_hi) VALUES (%s) ON CONFLICT (lane) DO NOTHING",
		WatermarkTable, d.params(1, 2))
}

// LockWatermark reads the lane watermark inside a commit, locking the row where the store supports it.
// Arguments: lane.
func (d Dialect) LockWatermark() string {
	return fmt.Sprintf("SELECT checkpoint_hi FROM %s WHERE lane = %s%s", WatermarkTable, d.param(1), d.lockClause)
}

// SelectWatermark arguments: lane.
func (d Dialect) SelectWatermark() string {
	return fmt.Sprintf("SELECT lane, checkpoint_hi, updated_at FROM %s WHERE lane = %s", WatermarkTable, d.param(1))
}

func (d Dialect) SelectWatermarks() string {
	return fmt.Sprintf("SELECT lane, checkpoint_hi, updated_at FROM %s ORDER BY lane", WatermarkTable)
}

// AdvanceWatermark moves the lane watermark forward only. Arguments: new watermark, lane, new watermark.
func (d Dialect) AdvanceWatermark() string {
	return fmt.Sprintf("UPDATE %s SET checkpoint_hi = %s, updated_at = %s WHERE lane = %s AND checkpoint_hi < %s",
		WatermarkTable, d.param(1), d.now, d.param(2), d.param(3))
}

// DDL renders every statement needed to initialize an empty store.
func (d Dialect) DDL() []string {
	stmts := []string{d.CreateWatermarkTable()}
	for _, t := range Tables() {
		stmts = append(stmts, d.CreateTable(t)...)
	}
	return stmts
}
