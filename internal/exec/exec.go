// Package exec runs a multi-statement SQL text against an engine connection
// and materializes the results.
//
// Execute produces binary records for the network surface; Query produces
// host tables for interactive use. Both prepare the statements one at a time,
// keep every handle in a stmtpool.Pool and finalize all of them before
// returning, on success and on every error path.
package exec

import (
	"log/slog"
	"strings"

	"github.com/SimonWaldherr/boxsql/internal/bind"
	"github.com/SimonWaldherr/boxsql/internal/engine"
	"github.com/SimonWaldherr/boxsql/internal/errs"
	"github.com/SimonWaldherr/boxsql/internal/port"
	"github.com/SimonWaldherr/boxsql/internal/region"
	"github.com/SimonWaldherr/boxsql/internal/rowenc"
	"github.com/SimonWaldherr/boxsql/internal/stmtpool"
	"github.com/SimonWaldherr/boxsql/internal/tuple"
)

type options struct {
	alloc  stmtpool.Allocator
	logger *slog.Logger
}

// Option configures an execution.
type Option func(*options)

// WithPoolAllocator sets the allocator the statement pool grows with.
func WithPoolAllocator(a stmtpool.Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithLogger sets the logger for execution diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sink receives the output of result-bearing statements.
type sink interface {
	// columns is called once per result-bearing statement, before its rows.
	columns(conn engine.Conn, h engine.Handle, pool *stmtpool.Pool, n int) error
	// row is called for every row, after a successful step.
	row(conn engine.Conn, h engine.Handle) error
}

// ResultSet is the output of one result-bearing statement of Execute: its
// description and the range of its rows in the port.
type ResultSet struct {
	Desc  *tuple.Record
	First int // index of the first row in the port
	Count int
}

// Execute runs every statement in sql. A statement with k placeholders is
// bound to the first min(k, count) elements of params; a statement without
// placeholders binds nothing. Each result-bearing statement gets a
// description built in r, and each of its rows is added to p as a tuple
// record. The returned sets hold one description per result-bearing
// statement, in order, and the caller owns their references. On error the
// sets and rows produced before the failure are returned with it.
func Execute(conn engine.Conn, sql string, params []byte, count int, r *region.Region, p *port.Port, opts ...Option) ([]ResultSet, error) {
	s := &recordSink{region: r, port: p}
	err := run(conn, sql, params, count, s, buildOptions(opts))
	return s.sets, err
}

// Unref drops the description references held by sets.
func Unref(sets []ResultSet) {
	for _, rs := range sets {
		rs.Desc.Unref()
	}
}

// Query runs every statement in sql and returns one table per
// result-bearing statement.
func Query(conn engine.Conn, sql string, opts ...Option) ([]*Table, error) {
	s := &tableSink{}
	if err := run(conn, sql, nil, 0, s, buildOptions(opts)); err != nil {
		return nil, err
	}
	return s.tables, nil
}

func run(conn engine.Conn, sql string, params []byte, count int, s sink, o options) (err error) {
	var stock [stmtpool.StockSize]byte
	var poolOpts []stmtpool.Option
	if o.alloc != nil {
		poolOpts = append(poolOpts, stmtpool.WithAllocator(o.alloc))
	}
	pool := stmtpool.Init(stock[:], poolOpts...)
	defer func() {
		n := pool.Len()
		if rerr := pool.Release(conn); rerr != nil {
			if err == nil {
				err = errs.Engine(rerr.Error())
			} else {
				o.logger.Warn("finalize after failed execution", "error", rerr)
			}
		}
		o.logger.Debug("execution finished", "statements", n, "ok", err == nil)
	}()

	rest := sql
	for strings.TrimSpace(rest) != "" {
		slot, err := pool.Push()
		if err != nil {
			return err
		}
		h, tail, err := conn.Prepare(rest)
		consumed := len(tail) < len(rest)
		rest = tail
		if err != nil {
			pool.Pop()
			return engineError(conn, err)
		}
		if h == 0 {
			pool.Pop()
			if !consumed {
				break
			}
			continue
		}
		pool.Set(slot, h)
		if k := min(count, conn.BindParameterCount(h)); k > 0 {
			if err := bind.Bind(conn, h, params, k); err != nil {
				return err
			}
		}
		if err := drive(conn, h, pool, slot, s); err != nil {
			return err
		}
	}
	return nil
}

// drive steps one prepared statement to completion.
func drive(conn engine.Conn, h engine.Handle, pool *stmtpool.Pool, slot int, s sink) error {
	n := conn.ColumnCount(h)
	if n == 0 {
		st, err := conn.Step(h)
		for st == engine.StatusRow {
			st, err = conn.Step(h)
		}
		if st != engine.StatusDone {
			return stepError(conn, st, err)
		}
		return nil
	}
	pool.SetLastSelect(slot, n)
	if err := s.columns(conn, h, pool, n); err != nil {
		return err
	}
	for {
		st, err := conn.Step(h)
		if st != engine.StatusRow {
			if st != engine.StatusDone {
				return stepError(conn, st, err)
			}
			return nil
		}
		if err := s.row(conn, h); err != nil {
			return err
		}
	}
}

func engineError(conn engine.Conn, err error) error {
	if msg := conn.ErrMsg(); msg != "" {
		return errs.Engine(msg)
	}
	return errs.Engine(err.Error())
}

func stepError(conn engine.Conn, st engine.Status, err error) error {
	if err != nil {
		return engineError(conn, err)
	}
	if msg := conn.ErrMsg(); msg != "" && st == engine.StatusError {
		return errs.Engine(msg)
	}
	return errs.Engine("statement stopped with status " + st.String())
}

type recordSink struct {
	region *region.Region
	port   *port.Port
	sets   []ResultSet
}

func (s *recordSink) columns(conn engine.Conn, h engine.Handle, _ *stmtpool.Pool, _ int) error {
	d, err := rowenc.Description(conn, h, s.region)
	if err != nil {
		return err
	}
	s.sets = append(s.sets, ResultSet{Desc: d, First: s.port.Len()})
	return nil
}

func (s *recordSink) row(conn engine.Conn, h engine.Handle) error {
	rec, err := rowenc.Tuple(conn, h, s.region)
	if err != nil {
		return err
	}
	defer rec.Unref()
	if err := s.port.Add(rec); err != nil {
		return err
	}
	s.sets[len(s.sets)-1].Count++
	return nil
}

type tableSink struct {
	tables []*Table
	tags   []byte
}

func (s *tableSink) columns(conn engine.Conn, h engine.Handle, pool *stmtpool.Pool, n int) error {
	pool.ResetScratch()
	tags, err := pool.Alloc(n, 1)
	if err != nil {
		return err
	}
	s.tags = tags
	s.tables = append(s.tables, &Table{Names: rowenc.ColumnNames(conn, h, n)})
	return nil
}

func (s *tableSink) row(conn engine.Conn, h engine.Handle) error {
	t := s.tables[len(s.tables)-1]
	t.Rows = append(t.Rows, rowenc.HostRow(conn, h, s.tags))
	return nil
}
