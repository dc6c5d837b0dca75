package tuple

import (
	"math"
	"strings"
	"testing"

	"github.com/tinylib/msgp/msgp"
)

func TestSizesMatchEncoder(t *testing.T) {
	for _, u := range []uint64{0, 127, 128, 255, 256, math.MaxUint16, math.MaxUint16 + 1, math.MaxUint32, math.MaxUint32 + 1, math.MaxInt64} {
		if got, want := SizeofUint(u), len(msgp.AppendUint64(nil, u)); got != want {
			t.Errorf("SizeofUint(%d) = %d; encoder wrote %d", u, got, want)
		}
	}
	for _, i := range []int64{-1, -32, -33, math.MinInt8, math.MinInt8 - 1, math.MinInt16, math.MinInt16 - 1, math.MinInt32, math.MinInt32 - 1, math.MinInt64} {
		if got, want := SizeofInt(i), len(msgp.AppendInt64(nil, i)); got != want {
			t.Errorf("SizeofInt(%d) = %d; encoder wrote %d", i, got, want)
		}
	}
	for _, n := range []int{0, 31, 32, 255, 256, math.MaxUint16, math.MaxUint16 + 1} {
		s := strings.Repeat("x", n)
		if got, want := SizeofStr(n), len(msgp.AppendString(nil, s)); got != want {
			t.Errorf("SizeofStr(%d) = %d; encoder wrote %d", n, got, want)
		}
		if got, want := SizeofBin(n), len(msgp.AppendBytes(nil, []byte(s))); got != want {
			t.Errorf("SizeofBin(%d) = %d; encoder wrote %d", n, got, want)
		}
	}
	for _, n := range []uint32{0, 15, 16, math.MaxUint16, math.MaxUint16 + 1} {
		if got, want := SizeofArray(n), len(msgp.AppendArrayHeader(nil, n)); got != want {
			t.Errorf("SizeofArray(%d) = %d; encoder wrote %d", n, got, want)
		}
		if got, want := SizeofMap(n), len(msgp.AppendMapHeader(nil, n)); got != want {
			t.Errorf("SizeofMap(%d) = %d; encoder wrote %d", n, got, want)
		}
	}
	if len(msgp.AppendFloat64(nil, math.Pi)) != SizeofDouble || len(msgp.AppendNil(nil)) != SizeofNil {
		t.Error("fixed sizes disagree with the encoder")
	}
}

func TestDecode(t *testing.T) {
	b := msgp.AppendArrayHeader(nil, 5)
	b = msgp.AppendUint64(b, 300)
	b = msgp.AppendInt64(b, -5)
	b = msgp.AppendFloat64(b, 0.25)
	b = msgp.AppendString(b, "hi")
	b = msgp.AppendNil(b)
	vals, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != uint64(300) || vals[1] != int64(-5) || vals[2] != 0.25 || vals[3] != "hi" || vals[4] != nil {
		t.Fatalf("got %#v", vals)
	}
	if _, err := Decode(b[:len(b)-1]); err == nil {
		t.Fatal("truncated input accepted")
	}
	if _, err := Decode(append(b, 0xc0)); err == nil {
		t.Fatal("trailing bytes accepted")
	}
}

func TestRecordRefs(t *testing.T) {
	src := msgp.AppendArrayHeader(nil, 1)
	src = msgp.AppendUint64(src, 1)
	r := NewRecord(src)
	src[1] = 2
	vals, err := r.Values()
	if err != nil || vals[0] != uint64(1) {
		t.Fatalf("record must own a copy: %v %v", vals, err)
	}
	r.Ref()
	if r.Refs() != 2 {
		t.Fatalf("refs %d", r.Refs())
	}
	r.Unref()
	r.Unref()
	if r.Refs() != 0 || r.Data() != nil {
		t.Fatal("bytes should be dropped with the last reference")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on over-release")
		}
	}()
	r.Unref()
}
