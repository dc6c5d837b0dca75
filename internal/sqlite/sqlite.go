// Package sqlite implements engine.Conn on top of the SQLite C API as
// transpiled by modernc.org/sqlite.
//
// The connection talks to the library directly (sqlite3_prepare_v2 with a
// tail pointer, sqlite3_step, sqlite3_column_*, sqlite3_bind_*) instead of
// going through database/sql, because the execution layer needs to walk a
// multi-statement text one statement at a time.
package sqlite

import (
	"fmt"
	"strings"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/SimonWaldherr/boxsql/internal/engine"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// Conn is a single SQLite connection. It is not safe for concurrent use.
type Conn struct {
	db  uintptr // *sqlite3.Xsqlite3
	tls *libc.TLS

	// C copies of bound text and blob payloads, released on Finalize.
	allocs map[engine.Handle][]uintptr
}

// Open opens (or creates) the database name. ":memory:" and "file:" URIs are
// accepted.
func Open(name string) (*Conn, error) {
	c := &Conn{tls: libc.NewTLS(), allocs: map[engine.Handle][]uintptr{}}
	db, err := c.openV2(
		name,
		sqlite3.SQLITE_OPEN_READWRITE|sqlite3.SQLITE_OPEN_CREATE|
			sqlite3.SQLITE_OPEN_FULLMUTEX|
			sqlite3.SQLITE_OPEN_URI,
	)
	if err != nil {
		c.tls.Close()
		return nil, err
	}
	c.db = db
	return c, nil
}

// Close closes the connection. Statements still prepared keep it alive until
// they are finalized (sqlite3_close_v2 semantics).
func (c *Conn) Close() error {
	if c.db != 0 {
		if rc := sqlite3.Xsqlite3_close_v2(c.tls, c.db); rc != sqlite3.SQLITE_OK {
			return c.errstr(rc)
		}
		c.db = 0
	}
	for h, ps := range c.allocs {
		for _, p := range ps {
			c.free(p)
		}
		delete(c.allocs, h)
	}
	if c.tls != nil {
		c.tls.Close()
		c.tls = nil
	}
	return nil
}

func (c *Conn) openV2(name string, flags int32) (uintptr, error) {
	var p, s uintptr

	defer func() {
		c.free(p)
		c.free(s)
	}()

	p, err := c.malloc(int(ptrSize))
	if err != nil {
		return 0, err
	}
	*(*uintptr)(unsafe.Pointer(p)) = 0

	if s, err = libc.CString(name); err != nil {
		return 0, err
	}

	if rc := sqlite3.Xsqlite3_open_v2(c.tls, s, p, flags, 0); rc != sqlite3.SQLITE_OK {
		db := *(*uintptr)(unsafe.Pointer(p))
		msg := libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc))
		if db != 0 {
			msg = libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, db))
			sqlite3.Xsqlite3_close_v2(c.tls, db)
		}
		return 0, fmt.Errorf("sqlite: open %s: %s", name, msg)
	}

	return *(*uintptr)(unsafe.Pointer(p)), nil
}

// Prepare compiles the first statement of sql. The returned tail is the part
// of sql the engine did not consume.
func (c *Conn) Prepare(sql string) (engine.Handle, string, error) {
	if sql == "" {
		return 0, "", nil
	}
	var zsql, ppstmt, pptail uintptr

	defer func() {
		c.free(zsql)
		c.free(ppstmt)
		c.free(pptail)
	}()

	zsql, err := c.cbytes([]byte(sql))
	if err != nil {
		return 0, sql, err
	}
	if ppstmt, err = c.malloc(int(ptrSize)); err != nil {
		return 0, sql, err
	}
	if pptail, err = c.malloc(int(ptrSize)); err != nil {
		return 0, sql, err
	}
	*(*uintptr)(unsafe.Pointer(ppstmt)) = 0
	*(*uintptr)(unsafe.Pointer(pptail)) = 0

	rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, zsql, int32(len(sql)), ppstmt, pptail)

	tail := ""
	if t := *(*uintptr)(unsafe.Pointer(pptail)); t >= zsql && t < zsql+uintptr(len(sql)) {
		tail = sql[t-zsql:]
	}
	if rc != sqlite3.SQLITE_OK {
		return 0, tail, c.errstr(rc)
	}
	return engine.Handle(*(*uintptr)(unsafe.Pointer(ppstmt))), tail, nil
}

// Step advances h by one row.
func (c *Conn) Step(h engine.Handle) (engine.Status, error) {
	switch rc := sqlite3.Xsqlite3_step(c.tls, uintptr(h)); rc {
	case sqlite3.SQLITE_ROW:
		return engine.StatusRow, nil
	case sqlite3.SQLITE_DONE:
		return engine.StatusDone, nil
	default:
		return engine.StatusError, c.errstr(rc)
	}
}

// Finalize destroys h and releases the payload copies bound to it. The
// result code of an earlier failed step is not reported again.
func (c *Conn) Finalize(h engine.Handle) error {
	sqlite3.Xsqlite3_finalize(c.tls, uintptr(h))
	for _, p := range c.allocs[h] {
		c.free(p)
	}
	delete(c.allocs, h)
	return nil
}

func (c *Conn) ColumnCount(h engine.Handle) int {
	return int(sqlite3.Xsqlite3_column_count(c.tls, uintptr(h)))
}

func (c *Conn) ColumnName(h engine.Handle, i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_name(c.tls, uintptr(h), int32(i)))
}

func (c *Conn) ColumnType(h engine.Handle, i int) engine.ColumnType {
	switch sqlite3.Xsqlite3_column_type(c.tls, uintptr(h), int32(i)) {
	case sqlite3.SQLITE_INTEGER:
		return engine.TypeInteger
	case sqlite3.SQLITE_FLOAT:
		return engine.TypeFloat
	case sqlite3.SQLITE_TEXT:
		return engine.TypeText
	case sqlite3.SQLITE_BLOB:
		return engine.TypeBlob
	case sqlite3.SQLITE_NULL:
		return engine.TypeNull
	default:
		return 0
	}
}

func (c *Conn) ColumnInt64(h engine.Handle, i int) int64 {
	return sqlite3.Xsqlite3_column_int64(c.tls, uintptr(h), int32(i))
}

func (c *Conn) ColumnDouble(h engine.Handle, i int) float64 {
	return sqlite3.Xsqlite3_column_double(c.tls, uintptr(h), int32(i))
}

func (c *Conn) ColumnText(h engine.Handle, i int) string {
	p := sqlite3.Xsqlite3_column_text(c.tls, uintptr(h), int32(i))
	n := int(sqlite3.Xsqlite3_column_bytes(c.tls, uintptr(h), int32(i)))
	if p == 0 || n == 0 {
		return ""
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return string(b)
}

func (c *Conn) ColumnBlob(h engine.Handle, i int) []byte {
	p := sqlite3.Xsqlite3_column_blob(c.tls, uintptr(h), int32(i))
	n := int(sqlite3.Xsqlite3_column_bytes(c.tls, uintptr(h), int32(i)))
	if p == 0 || n == 0 {
		return []byte{}
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return b
}

func (c *Conn) BindInt64(h engine.Handle, pos int, v int64) error {
	if rc := sqlite3.Xsqlite3_bind_int64(c.tls, uintptr(h), int32(pos), v); rc != sqlite3.SQLITE_OK {
		return c.errstr(rc)
	}
	return nil
}

func (c *Conn) BindDouble(h engine.Handle, pos int, v float64) error {
	if rc := sqlite3.Xsqlite3_bind_double(c.tls, uintptr(h), int32(pos), v); rc != sqlite3.SQLITE_OK {
		return c.errstr(rc)
	}
	return nil
}

func (c *Conn) BindNull(h engine.Handle, pos int) error {
	if rc := sqlite3.Xsqlite3_bind_null(c.tls, uintptr(h), int32(pos)); rc != sqlite3.SQLITE_OK {
		return c.errstr(rc)
	}
	return nil
}

// BindText binds v as UTF-8 text.
//
// Unlike the borrowed binding engine.Conn allows, the payload is copied: Go
// memory cannot be handed to the C engine, so v is copied once into C memory
// owned by h and freed when h is finalized. v may change right after the call.
func (c *Conn) BindText(h engine.Handle, pos int, v []byte) error {
	p, err := c.cbytes(v)
	if err != nil {
		return err
	}
	if rc := sqlite3.Xsqlite3_bind_text(c.tls, uintptr(h), int32(pos), p, int32(len(v)), 0); rc != sqlite3.SQLITE_OK {
		c.free(p)
		return c.errstr(rc)
	}
	c.allocs[h] = append(c.allocs[h], p)
	return nil
}

// BindBlob binds v as a blob. Like BindText it copies v into C memory owned
// by h instead of borrowing it.
func (c *Conn) BindBlob(h engine.Handle, pos int, v []byte) error {
	p, err := c.cbytes(v)
	if err != nil {
		return err
	}
	if rc := sqlite3.Xsqlite3_bind_blob(c.tls, uintptr(h), int32(pos), p, int32(len(v)), 0); rc != sqlite3.SQLITE_OK {
		c.free(p)
		return c.errstr(rc)
	}
	c.allocs[h] = append(c.allocs[h], p)
	return nil
}

// BindParameterIndex resolves name. A bare name is also tried with the
// ':', '@' and '$' prefixes SQLite accepts.
func (c *Conn) BindParameterIndex(h engine.Handle, name string) int {
	if name == "" {
		return 0
	}
	if i := c.bindParameterIndex(h, name); i != 0 {
		return i
	}
	if strings.ContainsRune(":@$?", rune(name[0])) {
		return 0
	}
	for _, prefix := range []string{":", "@", "$"} {
		if i := c.bindParameterIndex(h, prefix+name); i != 0 {
			return i
		}
	}
	return 0
}

// BindParameterCount returns sqlite3_bind_parameter_count for h.
func (c *Conn) BindParameterCount(h engine.Handle) int {
	return int(sqlite3.Xsqlite3_bind_parameter_count(c.tls, uintptr(h)))
}

func (c *Conn) bindParameterIndex(h engine.Handle, name string) int {
	p, err := libc.CString(name)
	if err != nil {
		return 0
	}
	defer c.free(p)
	return int(sqlite3.Xsqlite3_bind_parameter_index(c.tls, uintptr(h), p))
}

// ErrMsg returns sqlite3_errmsg for the connection.
func (c *Conn) ErrMsg() string {
	if c.db == 0 {
		return "sql processor is not ready"
	}
	return libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))
}

func (c *Conn) errstr(rc int32) error {
	if msg := c.ErrMsg(); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s", libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc)))
}

// cbytes copies b into NUL-terminated C memory. At least one byte is
// allocated so that empty text and blobs are not bound as NULL.
func (c *Conn) cbytes(b []byte) (uintptr, error) {
	n := len(b) + 1
	p, err := c.malloc(n)
	if err != nil {
		return 0, err
	}
	mem := (*libc.RawMem)(unsafe.Pointer(p))[:n:n]
	copy(mem, b)
	mem[len(b)] = 0
	return p, nil
}

func (c *Conn) malloc(n int) (uintptr, error) {
	if p := libc.Xmalloc(c.tls, types.Size_t(n)); p != 0 || n == 0 {
		return p, nil
	}
	return 0, fmt.Errorf("sqlite: cannot allocate %d bytes of memory", n)
}

func (c *Conn) free(p uintptr) {
	if p != 0 {
		libc.Xfree(c.tls, p)
	}
}

var _ engine.Conn = (*Conn)(nil)
