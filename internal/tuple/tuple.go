// Package tuple holds the binary tuple format used on the wire.
//
// A tuple is a MessagePack array; its elements are uint/int, float64, str,
// bin or nil. A description record is an array of single-entry maps
// {FieldName: column name}. Records are immutable, reference counted copies
// of bytes built in a caller's region.
package tuple

import (
	"fmt"
	"sync/atomic"

	"github.com/tinylib/msgp/msgp"
)

// FieldName is the map key naming a column in a description record.
const FieldName = 0x00

// Record is an immutable encoded tuple.
type Record struct {
	data []byte
	refs atomic.Int32
}

// NewRecord copies data into a new record holding one reference.
func NewRecord(data []byte) *Record {
	r := &Record{data: append([]byte(nil), data...)}
	r.refs.Store(1)
	return r
}

// Data returns the encoded bytes. The slice must not be modified.
func (r *Record) Data() []byte { return r.data }

// Len returns the encoded size.
func (r *Record) Len() int { return len(r.data) }

// Ref adds a reference.
func (r *Record) Ref() { r.refs.Add(1) }

// Unref drops a reference; the bytes are released with the last one.
func (r *Record) Unref() {
	switch n := r.refs.Add(-1); {
	case n == 0:
		r.data = nil
	case n < 0:
		panic("tuple: record reference count below zero")
	}
}

// Refs returns the current reference count.
func (r *Record) Refs() int { return int(r.refs.Load()) }

// Values decodes the record.
func (r *Record) Values() ([]any, error) { return Decode(r.data) }

func (r *Record) String() string {
	vals, err := Decode(r.data)
	if err != nil {
		return fmt.Sprintf("<bad tuple: %v>", err)
	}
	return fmt.Sprint(vals)
}

// Decode parses one tuple (a MessagePack array) into Go values: uint64,
// int64, float64, string, []byte, nil or, for description records,
// map[uint64]any.
func Decode(b []byte) ([]any, error) {
	v, rest, err := decodeValue(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("tuple: %d trailing bytes", len(rest))
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("tuple: expected array, got %T", v)
	}
	return arr, nil
}

func decodeValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, b, msgp.ErrShortBytes
	}
	switch msgp.NextType(b) {
	case msgp.ArrayType:
		n, rest, err := msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return nil, b, err
		}
		out := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			var v any
			if v, rest, err = decodeValue(rest); err != nil {
				return nil, b, err
			}
			out = append(out, v)
		}
		return out, rest, nil
	case msgp.MapType:
		n, rest, err := msgp.ReadMapHeaderBytes(b)
		if err != nil {
			return nil, b, err
		}
		out := make(map[uint64]any, n)
		for i := uint32(0); i < n; i++ {
			var k uint64
			if k, rest, err = msgp.ReadUint64Bytes(rest); err != nil {
				return nil, b, err
			}
			var v any
			if v, rest, err = decodeValue(rest); err != nil {
				return nil, b, err
			}
			out[k] = v
		}
		return out, rest, nil
	case msgp.UintType:
		return msgp.ReadUint64Bytes(b)
	case msgp.IntType:
		i, rest, err := msgp.ReadInt64Bytes(b)
		if err == nil && i >= 0 {
			return uint64(i), rest, nil
		}
		return i, rest, err
	case msgp.Float64Type:
		return msgp.ReadFloat64Bytes(b)
	case msgp.StrType:
		return msgp.ReadStringBytes(b)
	case msgp.BinType:
		return msgp.ReadBytesBytes(b, nil)
	case msgp.NilType:
		rest, err := msgp.ReadNilBytes(b)
		return nil, rest, err
	default:
		return nil, b, fmt.Errorf("tuple: unexpected type %s", msgp.NextType(b))
	}
}
