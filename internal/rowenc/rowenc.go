// Package rowenc converts the current row of a stepped statement into a
// binary tuple or a host table row.
//
// Neither path steps the statement; the caller must have seen StatusRow.
package rowenc

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/SimonWaldherr/boxsql/internal/engine"
	"github.com/SimonWaldherr/boxsql/internal/region"
	"github.com/SimonWaldherr/boxsql/internal/tuple"
)

// Cell type tags used in Row.Tags.
const (
	TagInteger = 'i'
	TagFloat   = 'f'
	TagText    = 's'
	TagBlob    = 'b'
	TagNull    = '-'
	TagUnknown = '?'
)

type value struct {
	typ engine.ColumnType
	i   int64
	f   float64
	s   string
	b   []byte
}

// columnValue reads column i of the current row. Size and encode both go
// through it so they see the same values in the same order.
func columnValue(conn engine.Conn, h engine.Handle, i int) value {
	v := value{typ: conn.ColumnType(h, i)}
	switch v.typ {
	case engine.TypeInteger:
		v.i = conn.ColumnInt64(h, i)
	case engine.TypeFloat:
		v.f = conn.ColumnDouble(h, i)
	case engine.TypeText:
		v.s = conn.ColumnText(h, i)
	case engine.TypeBlob:
		v.b = conn.ColumnBlob(h, i)
	}
	return v
}

func (v value) size() int {
	switch v.typ {
	case engine.TypeInteger:
		if v.i >= 0 {
			return tuple.SizeofUint(uint64(v.i))
		}
		return tuple.SizeofInt(v.i)
	case engine.TypeFloat:
		return tuple.SizeofDouble
	case engine.TypeText:
		return tuple.SizeofStr(len(v.s))
	case engine.TypeBlob:
		return tuple.SizeofBin(len(v.b))
	default:
		return tuple.SizeofNil
	}
}

func (v value) appendTo(b []byte) []byte {
	switch v.typ {
	case engine.TypeInteger:
		if v.i >= 0 {
			return msgp.AppendUint64(b, uint64(v.i))
		}
		return msgp.AppendInt64(b, v.i)
	case engine.TypeFloat:
		return msgp.AppendFloat64(b, v.f)
	case engine.TypeText:
		return msgp.AppendString(b, v.s)
	case engine.TypeBlob:
		return msgp.AppendBytes(b, v.b)
	default:
		return msgp.AppendNil(b)
	}
}

// SizeTuple returns the exact encoded size of the current row.
func SizeTuple(conn engine.Conn, h engine.Handle) int {
	n := conn.ColumnCount(h)
	size := tuple.SizeofArray(uint32(n))
	for i := 0; i < n; i++ {
		size += columnValue(conn, h, i).size()
	}
	return size
}

// EncodeTuple appends the current row to buf.
func EncodeTuple(conn engine.Conn, h engine.Handle, buf []byte) []byte {
	n := conn.ColumnCount(h)
	buf = msgp.AppendArrayHeader(buf, uint32(n))
	for i := 0; i < n; i++ {
		buf = columnValue(conn, h, i).appendTo(buf)
	}
	return buf
}

// Tuple encodes the current row into r and publishes it as a record. r is
// truncated back to its mark before returning.
func Tuple(conn engine.Conn, h engine.Handle, r *region.Region) (*tuple.Record, error) {
	mark := r.Used()
	defer r.Truncate(mark)
	size := SizeTuple(conn, h)
	buf, err := r.Alloc(size)
	if err != nil {
		return nil, err
	}
	out := EncodeTuple(conn, h, buf[:0])
	if len(out) != size {
		panic("rowenc: tuple size and encoding disagree")
	}
	return tuple.NewRecord(out), nil
}

// Description encodes the column names of h as an array of
// {tuple.FieldName: name} maps.
func Description(conn engine.Conn, h engine.Handle, r *region.Region) (*tuple.Record, error) {
	mark := r.Used()
	defer r.Truncate(mark)
	names := ColumnNames(conn, h, conn.ColumnCount(h))
	size := tuple.SizeofArray(uint32(len(names)))
	for _, name := range names {
		size += tuple.SizeofMap(1) + tuple.SizeofUint(tuple.FieldName) + tuple.SizeofStr(len(name))
	}
	buf, err := r.Alloc(size)
	if err != nil {
		return nil, err
	}
	out := msgp.AppendArrayHeader(buf[:0], uint32(len(names)))
	for _, name := range names {
		out = msgp.AppendMapHeader(out, 1)
		out = msgp.AppendUint64(out, tuple.FieldName)
		out = msgp.AppendString(out, name)
	}
	if len(out) != size {
		panic("rowenc: description size and encoding disagree")
	}
	return tuple.NewRecord(out), nil
}

// ColumnNames returns the first n column names of h.
func ColumnNames(conn engine.Conn, h engine.Handle, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = conn.ColumnName(h, i)
	}
	return names
}
