// Package enginetest provides a scripted engine.Conn for tests.
//
// Statements are split on ';'. Each statement text (trimmed) is looked up in
// Conn.Script; unknown text fails to prepare with a syntax error, the way a
// real engine would. The fake counts prepares and finalizes and records every
// bind call so tests can check the execution layer's bookkeeping.
package enginetest

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/boxsql/internal/engine"
)

// Stmt scripts the behaviour of one statement.
type Stmt struct {
	Columns []string
	// Rows holds int64, float64, string, []byte or nil values.
	Rows [][]any
	// Params maps placeholder names to positions.
	Params map[string]int
	// Placeholders is the parameter count; it defaults to the largest
	// position in Params.
	Placeholders int
	// StepErr fails the step that would produce row StepErrAt (0-based);
	// with no rows scripted it fails the first step.
	StepErr   string
	StepErrAt int
	// BindErr fails every bind call.
	BindErr string
	// OtherAt makes the step for row OtherAt return StatusOther (BUSY-like).
	OtherAt int
	Other   bool
}

// BindCall records one bind.
type BindCall struct {
	Handle engine.Handle
	Pos    int
	Value  any
}

type cursor struct {
	script *Stmt
	text   string
	row    int // index of the current row, -1 before the first step
	done   bool
}

// Conn is a scripted engine.Conn.
type Conn struct {
	Script map[string]*Stmt

	Prepared  int
	Finalized int
	Binds     []BindCall
	// Texts lists the prepared statement texts in order.
	Texts []string

	next    engine.Handle
	open    map[engine.Handle]*cursor
	lastErr string
}

// New returns a Conn using script.
func New(script map[string]*Stmt) *Conn {
	return &Conn{Script: script, open: map[engine.Handle]*cursor{}}
}

// Open reports how many handles are prepared and not yet finalized.
func (c *Conn) Open() int { return len(c.open) }

func stripComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func (c *Conn) Prepare(sql string) (engine.Handle, string, error) {
	text, tail := sql, ""
	if i := strings.IndexByte(sql, ';'); i >= 0 {
		text, tail = sql[:i], sql[i+1:]
	}
	text = stripComments(text)
	if text == "" {
		if tail != "" {
			return c.Prepare(tail)
		}
		return 0, "", nil
	}
	s, ok := c.Script[text]
	if !ok {
		c.lastErr = fmt.Sprintf("near %q: syntax error", strings.Fields(text)[0])
		return 0, tail, fmt.Errorf("%s", c.lastErr)
	}
	c.next++
	c.open[c.next] = &cursor{script: s, text: text, row: -1}
	c.Prepared++
	c.Texts = append(c.Texts, text)
	return c.next, tail, nil
}

func (c *Conn) cur(h engine.Handle) *cursor {
	cu, ok := c.open[h]
	if !ok {
		panic(fmt.Sprintf("enginetest: use of unknown or finalized handle %d", h))
	}
	return cu
}

func (c *Conn) Step(h engine.Handle) (engine.Status, error) {
	cu := c.cur(h)
	if cu.done {
		return engine.StatusDone, nil
	}
	next := cu.row + 1
	s := cu.script
	if s.StepErr != "" && next == s.StepErrAt {
		cu.done = true
		c.lastErr = s.StepErr
		return engine.StatusError, fmt.Errorf("%s", s.StepErr)
	}
	if s.Other && next == s.OtherAt {
		cu.done = true
		return engine.StatusOther, nil
	}
	if next >= len(s.Rows) {
		cu.done = true
		return engine.StatusDone, nil
	}
	cu.row = next
	return engine.StatusRow, nil
}

func (c *Conn) Finalize(h engine.Handle) error {
	c.cur(h)
	delete(c.open, h)
	c.Finalized++
	return nil
}

func (c *Conn) ColumnCount(h engine.Handle) int { return len(c.cur(h).script.Columns) }

func (c *Conn) ColumnName(h engine.Handle, i int) string { return c.cur(h).script.Columns[i] }

func (c *Conn) value(h engine.Handle, i int) any {
	cu := c.cur(h)
	if cu.row < 0 || cu.row >= len(cu.script.Rows) {
		panic("enginetest: column access without a current row")
	}
	return cu.script.Rows[cu.row][i]
}

func (c *Conn) ColumnType(h engine.Handle, i int) engine.ColumnType {
	switch c.value(h, i).(type) {
	case int64:
		return engine.TypeInteger
	case float64:
		return engine.TypeFloat
	case string:
		return engine.TypeText
	case []byte:
		return engine.TypeBlob
	case nil:
		return engine.TypeNull
	default:
		return 0
	}
}

func (c *Conn) ColumnInt64(h engine.Handle, i int) int64 {
	v, _ := c.value(h, i).(int64)
	return v
}

func (c *Conn) ColumnDouble(h engine.Handle, i int) float64 {
	v, _ := c.value(h, i).(float64)
	return v
}

func (c *Conn) ColumnText(h engine.Handle, i int) string {
	v, _ := c.value(h, i).(string)
	return v
}

func (c *Conn) ColumnBlob(h engine.Handle, i int) []byte {
	v, _ := c.value(h, i).([]byte)
	return v
}

func (c *Conn) bind(h engine.Handle, pos int, v any) error {
	cu := c.cur(h)
	if cu.script.BindErr != "" {
		c.lastErr = cu.script.BindErr
		return fmt.Errorf("%s", c.lastErr)
	}
	c.Binds = append(c.Binds, BindCall{Handle: h, Pos: pos, Value: v})
	return nil
}

func (c *Conn) BindInt64(h engine.Handle, pos int, v int64) error { return c.bind(h, pos, v) }

func (c *Conn) BindDouble(h engine.Handle, pos int, v float64) error { return c.bind(h, pos, v) }

func (c *Conn) BindText(h engine.Handle, pos int, v []byte) error { return c.bind(h, pos, string(v)) }

func (c *Conn) BindBlob(h engine.Handle, pos int, v []byte) error {
	return c.bind(h, pos, append([]byte(nil), v...))
}

func (c *Conn) BindNull(h engine.Handle, pos int) error { return c.bind(h, pos, nil) }

func (c *Conn) BindParameterIndex(h engine.Handle, name string) int {
	return c.cur(h).script.Params[name]
}

func (c *Conn) BindParameterCount(h engine.Handle) int {
	s := c.cur(h).script
	n := s.Placeholders
	for _, pos := range s.Params {
		n = max(n, pos)
	}
	return n
}

func (c *Conn) ErrMsg() string { return c.lastErr }

var _ engine.Conn = (*Conn)(nil)
