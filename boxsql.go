// Package boxsql runs SQL text against an embedded SQLite database and
// materializes the results, either as MessagePack row records for the wire or
// as host tables for interactive use.
//
// # Basic Usage
//
//	db, err := boxsql.Open(":memory:")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Several statements in one call; only result-bearing ones produce tables.
//	tables, err := db.Query(`
//	    CREATE TABLE users(id INTEGER, name TEXT);
//	    INSERT INTO users VALUES (1, 'Alice');
//	    SELECT id, name FROM users;`)
//	for _, row := range tables[0].Rows {
//	    fmt.Println(row.Tags, row.Values) // "is [1 Alice]"
//	}
//
// # Parameters
//
// Execute takes parameters as the elements of a MessagePack array. An element
// is bound at its position, or, when it is a single-entry map {name: value},
// at the placeholder with that name:
//
//	params := msgp.AppendInt64(nil, 2)
//	params = msgp.AppendMapHeader(params, 1)
//	params = msgp.AppendString(params, ":name")
//	params = msgp.AppendString(params, "Bob")
//	res, err := db.Execute("INSERT INTO users VALUES (?1, :name)", params, 2)
//
// # Row Records
//
// The rows of Execute are immutable, reference counted MessagePack arrays.
// Result.Sets groups them by statement, each set with its own description.
// Release a Result when done with it, including one returned with an error.
package boxsql

import (
	"log/slog"
	"sync"

	"github.com/SimonWaldherr/boxsql/internal/errs"
	"github.com/SimonWaldherr/boxsql/internal/exec"
	"github.com/SimonWaldherr/boxsql/internal/port"
	"github.com/SimonWaldherr/boxsql/internal/region"
	"github.com/SimonWaldherr/boxsql/internal/rowenc"
	"github.com/SimonWaldherr/boxsql/internal/sqlite"
	"github.com/SimonWaldherr/boxsql/internal/stmtpool"
	"github.com/SimonWaldherr/boxsql/internal/tuple"
)

// ============================================================================
// Core Types - Re-exported from internal packages for public API
// ============================================================================

// Table is the host form of one statement's result: column names and rows.
type Table = exec.Table

// Row is one host table row: its values and a type tag per value
// (i integer, f float, s text, b blob, - null).
type Row = rowenc.Row

// Record is an immutable, reference counted MessagePack tuple.
type Record = tuple.Record

// Error is the error type returned for client, engine and memory failures.
type Error = errs.Error

// Null is the host value of an SQL NULL.
var Null = rowenc.Null

// FieldName is the map key naming a column in a description record.
const FieldName = tuple.FieldName

// Sentinels for errors.Is.
var (
	ErrClient      = errs.ErrClient
	ErrEngine      = errs.ErrEngine
	ErrOutOfMemory = errs.ErrOutOfMemory
)

// ErrUsage is returned by surfaces that received no SQL text at all.
var ErrUsage = errs.Client(errs.CodeUsage, "usage: execute(sqlstring)")

const notReady = "sql processor is not ready"

// ============================================================================
// Database
// ============================================================================

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger for execution diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithPoolLimit caps the statement pool of a single execution at n bytes.
func WithPoolLimit(n int) Option {
	return func(db *DB) { db.poolLimit = n }
}

// WithRegionLimit caps the bytes used to build a single row record.
func WithRegionLimit(n int) Option {
	return func(db *DB) { db.region.Limit = n }
}

// DB is an open database connection. Calls are serialized; a DB may be
// shared between goroutines.
type DB struct {
	mu        sync.Mutex
	conn      *sqlite.Conn
	region    *region.Region
	logger    *slog.Logger
	poolLimit int
}

// Open opens the SQLite database named by dsn (a path, a file: URI or
// ":memory:").
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sqlite.Open(dsn)
	if err != nil {
		return nil, err
	}
	db := &DB{conn: conn, region: region.New(0), logger: slog.Default()}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

func (db *DB) execOptions() []exec.Option {
	opts := []exec.Option{exec.WithLogger(db.logger)}
	if db.poolLimit > 0 {
		opts = append(opts, exec.WithPoolAllocator(stmtpool.HeapAllocator{Limit: db.poolLimit}))
	}
	return opts
}

// Execute runs every statement in sql. A statement with k placeholders is
// bound to the first min(k, count) MessagePack elements of params. params
// must not change during the call.
//
// When a statement fails, the Result still holds the output of the
// statements that ran before it, together with the error; release it either
// way. The Result is nil only when the DB is closed.
func (db *DB) Execute(sql string, params []byte, count int) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil, errs.Engine(notReady)
	}
	res := &Result{}
	sets, err := exec.Execute(db.conn, sql, params, count, db.region, &res.rows, db.execOptions()...)
	res.sets = sets
	return res, err
}

// Query runs every statement in sql and returns one table per statement
// that produced result columns.
func (db *DB) Query(sql string) ([]*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil, errs.Engine(notReady)
	}
	return exec.Query(db.conn, sql, db.execOptions()...)
}

// Close closes the connection. Later calls report that the processor is not
// ready.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}

// ============================================================================
// Results
// ============================================================================

// Result is the output of Execute: the row records of every result-bearing
// statement, in order, grouped into one ResultSet per statement.
type Result struct {
	sets []exec.ResultSet
	rows port.Port
}

// ResultSet is the output of one result-bearing statement.
type ResultSet struct {
	desc *tuple.Record
	rows []*tuple.Record
}

// Description returns the statement's column description record.
func (s ResultSet) Description() *Record { return s.desc }

// Columns decodes the column names from the description.
func (s ResultSet) Columns() ([]string, error) { return columnNames(s.desc) }

// Rows returns the statement's row records.
func (s ResultSet) Rows() []*Record { return s.rows }

// RowCount returns the number of row records of the statement.
func (s ResultSet) RowCount() int { return len(s.rows) }

// Sets returns one ResultSet per result-bearing statement, in order.
func (r *Result) Sets() []ResultSet {
	if len(r.sets) == 0 {
		return nil
	}
	all := r.rows.Rows()
	out := make([]ResultSet, len(r.sets))
	for i, rs := range r.sets {
		out[i] = ResultSet{desc: rs.Desc, rows: all[rs.First : rs.First+rs.Count : rs.First+rs.Count]}
	}
	return out
}

// Description returns the column description of the last result-bearing
// statement, or nil if no statement produced columns.
func (r *Result) Description() *Record {
	if len(r.sets) == 0 {
		return nil
	}
	return r.sets[len(r.sets)-1].Desc
}

// Columns decodes the column names of the last result-bearing statement.
func (r *Result) Columns() ([]string, error) { return columnNames(r.Description()) }

func columnNames(desc *tuple.Record) ([]string, error) {
	if desc == nil {
		return nil, nil
	}
	vals, err := desc.Values()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(vals))
	for i, v := range vals {
		m, _ := v.(map[uint64]any)
		names[i], _ = m[FieldName].(string)
	}
	return names, nil
}

// RowCount returns the number of row records over all statements.
func (r *Result) RowCount() int { return r.rows.Len() }

// Rows returns the row records of all statements in order.
func (r *Result) Rows() []*Record { return r.rows.Rows() }

// Each calls fn for every row record until fn returns an error.
func (r *Result) Each(fn func(i int, rec *Record) error) error { return r.rows.Each(fn) }

// Release drops the result's references to its records.
func (r *Result) Release() {
	r.rows.Destroy()
	exec.Unref(r.sets)
	r.sets = nil
}
