// Package engine describes the SQL engine as seen by the execution layer:
// a statement-level API (prepare with tail, step, column accessors, bind
// primitives, finalize) over one shared connection. Implementations hand out
// opaque Handle values; the execution layer never looks inside them and
// finalizes each one exactly once.
package engine

// Handle identifies one prepared statement. Zero means "no statement", which
// Prepare returns for whitespace or comment-only text.
type Handle uintptr

// Status is the outcome of a Step call.
type Status int

const (
	StatusRow Status = iota
	StatusDone
	StatusError
	StatusOther
)

func (s Status) String() string {
	switch s {
	case StatusRow:
		return "ROW"
	case StatusDone:
		return "DONE"
	case StatusError:
		return "ERROR"
	default:
		return "OTHER"
	}
}

// ColumnType is the runtime storage class of a column value in the current row.
type ColumnType int

const (
	TypeInteger ColumnType = iota + 1
	TypeFloat
	TypeText
	TypeBlob
	TypeNull
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeNull:
		return "NULL"
	default:
		return "UNKNOWN"
	}
}

// Conn is one engine connection. It is not safe for concurrent use; callers
// serialize access.
type Conn interface {
	// Prepare compiles the first statement of sql and returns the unconsumed
	// remainder. h is zero when sql holds no statement.
	Prepare(sql string) (h Handle, tail string, err error)
	// Step advances h to its next row. The error is non-nil exactly when the
	// status is StatusError.
	Step(h Handle) (Status, error)
	Finalize(h Handle) error

	ColumnCount(h Handle) int
	ColumnName(h Handle, i int) string
	ColumnType(h Handle, i int) ColumnType
	ColumnInt64(h Handle, i int) int64
	ColumnDouble(h Handle, i int) float64
	ColumnText(h Handle, i int) string
	ColumnBlob(h Handle, i int) []byte

	// Bind positions are 1-based. Text and blob payloads are borrowed: the
	// caller keeps them unchanged until h is finalized. An implementation
	// may copy them instead and must say so.
	BindInt64(h Handle, pos int, v int64) error
	BindDouble(h Handle, pos int, v float64) error
	BindText(h Handle, pos int, v []byte) error
	BindBlob(h Handle, pos int, v []byte) error
	BindNull(h Handle, pos int) error
	// BindParameterIndex resolves a placeholder name (with its prefix, e.g.
	// ":name") to a position, or returns 0 when no placeholder matches.
	BindParameterIndex(h Handle, name string) int
	// BindParameterCount returns the largest placeholder position in h, or 0
	// when h takes no parameters.
	BindParameterCount(h Handle) int

	// ErrMsg returns the engine's text for the most recent failure.
	ErrMsg() string
}
