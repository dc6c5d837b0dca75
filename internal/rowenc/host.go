package rowenc

import (
	"fmt"

	"github.com/SimonWaldherr/boxsql/internal/engine"
)

type null struct{}

func (null) String() string { return "NULL" }

func (null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Null is the host value of an SQL NULL cell.
var Null any = null{}

// Row is one host table row. Values holds int64, float64, string, []byte or
// Null; Tags has one type tag per value.
type Row struct {
	Values []any
	Tags   string
}

// Get returns the tag string for i == 0 and the i-th value (1-based)
// otherwise.
func (r Row) Get(i int) any {
	if i == 0 {
		return r.Tags
	}
	return r.Values[i-1]
}

// Len returns the number of values, not counting the tag column.
func (r Row) Len() int { return len(r.Values) }

func (r Row) String() string {
	return fmt.Sprintf("%s %v", r.Tags, r.Values)
}

// HostRow converts the current row of h. tags is scratch space with room for
// one byte per column; it is overwritten and not retained.
func HostRow(conn engine.Conn, h engine.Handle, tags []byte) Row {
	n := conn.ColumnCount(h)
	tags = tags[:n]
	vals := make([]any, n)
	for i := 0; i < n; i++ {
		switch conn.ColumnType(h, i) {
		case engine.TypeInteger:
			vals[i], tags[i] = conn.ColumnInt64(h, i), TagInteger
		case engine.TypeFloat:
			vals[i], tags[i] = conn.ColumnDouble(h, i), TagFloat
		case engine.TypeText:
			vals[i], tags[i] = conn.ColumnText(h, i), TagText
		case engine.TypeBlob:
			vals[i], tags[i] = conn.ColumnBlob(h, i), TagBlob
		case engine.TypeNull:
			vals[i], tags[i] = Null, TagNull
		default:
			vals[i], tags[i] = Null, TagUnknown
		}
	}
	return Row{Values: vals, Tags: string(tags)}
}
