// Package bind applies MessagePack encoded parameters to a prepared
// statement.
//
// Parameters arrive as the elements of a MessagePack array (without the
// array header). An element is either a scalar, bound at its sequential
// position, or a single-entry map {name: scalar}, bound at the position the
// statement assigns to name. Named elements do not shift the positions of
// the elements after them: element i always defaults to position i+1.
package bind

import (
	"fmt"
	"math"

	"github.com/tinylib/msgp/msgp"

	"github.com/SimonWaldherr/boxsql/internal/engine"
	"github.com/SimonWaldherr/boxsql/internal/errs"
)

// Bind binds count parameters from params to h. Text and binary values are
// passed to the engine as slices of params, so params must stay unchanged
// until h is finalized.
func Bind(conn engine.Conn, h engine.Handle, params []byte, count int) error {
	b := params
	for i := 0; i < count; i++ {
		seq := i + 1
		pos := seq
		if len(b) == 0 {
			return malformed(msgp.ErrShortBytes)
		}
		if msgp.NextType(b) == msgp.MapType {
			n, rest, err := msgp.ReadMapHeaderBytes(b)
			if err != nil {
				return malformed(err)
			}
			if n != 1 || msgp.NextType(rest) != msgp.StrType {
				return errs.IllegalBind(seq)
			}
			name, rest, err := msgp.ReadStringZC(rest)
			if err != nil {
				return malformed(err)
			}
			if pos = conn.BindParameterIndex(h, string(name)); pos == 0 {
				return errs.IllegalBind(seq)
			}
			b = rest
		}
		var err error
		if b, err = bindValue(conn, h, pos, seq, b); err != nil {
			return err
		}
	}
	return nil
}

// bindValue binds the element at the start of b to pos and returns the
// remaining bytes. seq is the element's sequential position, used in errors.
func bindValue(conn engine.Conn, h engine.Handle, pos, seq int, b []byte) ([]byte, error) {
	var bindErr error
	switch msgp.NextType(b) {
	case msgp.UintType:
		u, rest, err := msgp.ReadUint64Bytes(b)
		if err != nil {
			return b, malformed(err)
		}
		if u > math.MaxInt64 {
			return b, errs.Client(errs.CodeUnsupported, "SQL does not support numbers greater than int64_max")
		}
		bindErr, b = conn.BindInt64(h, pos, int64(u)), rest
	case msgp.IntType:
		n, rest, err := msgp.ReadInt64Bytes(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindInt64(h, pos, n), rest
	case msgp.StrType:
		s, rest, err := msgp.ReadStringZC(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindText(h, pos, s), rest
	case msgp.Float64Type:
		f, rest, err := msgp.ReadFloat64Bytes(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindDouble(h, pos, f), rest
	case msgp.Float32Type:
		f, rest, err := msgp.ReadFloat32Bytes(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindDouble(h, pos, float64(f)), rest
	case msgp.NilType:
		rest, err := msgp.ReadNilBytes(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindNull(h, pos), rest
	case msgp.BoolType:
		// The engine has no boolean type.
		v, rest, err := msgp.ReadBoolBytes(b)
		if err != nil {
			return b, malformed(err)
		}
		var n int64
		if v {
			n = 1
		}
		bindErr, b = conn.BindInt64(h, pos, n), rest
	case msgp.BinType:
		v, rest, err := msgp.ReadBytesZC(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindBlob(h, pos, v), rest
	case msgp.ExtensionType, msgp.TimeType, msgp.Complex64Type, msgp.Complex128Type:
		// Extension values go in as opaque blobs, header included.
		rest, err := msgp.Skip(b)
		if err != nil {
			return b, malformed(err)
		}
		bindErr, b = conn.BindBlob(h, pos, b[:len(b)-len(rest)]), rest
	case msgp.ArrayType, msgp.MapType:
		return b, errs.IllegalBind(seq)
	default:
		if len(b) == 0 {
			return b, malformed(msgp.ErrShortBytes)
		}
		return b, malformed(fmt.Errorf("invalid prefix 0x%02x", b[0]))
	}
	if bindErr != nil {
		return b, engineError(conn, bindErr)
	}
	return b, nil
}

func malformed(err error) error {
	return errs.Client(errs.CodeMalformed, "malformed bind parameters: %v", err)
}

func engineError(conn engine.Conn, err error) error {
	if msg := conn.ErrMsg(); msg != "" {
		return errs.Engine(msg)
	}
	return errs.Engine(err.Error())
}
