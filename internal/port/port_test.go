package port

import (
	"errors"
	"testing"

	"github.com/SimonWaldherr/boxsql/internal/tuple"
)

func TestAddAndDestroy(t *testing.T) {
	var p Port
	a := tuple.NewRecord([]byte{0x91, 0x01})
	b := tuple.NewRecord([]byte{0x91, 0x02})
	_ = p.Add(a)
	_ = p.Add(b)
	a.Unref()
	b.Unref()
	if p.Len() != 2 || p.Size() != 4 {
		t.Fatalf("len=%d size=%d", p.Len(), p.Size())
	}
	if a.Refs() != 1 || a.Data() == nil {
		t.Fatal("port should keep its own reference")
	}
	var seen []int
	stop := errors.New("stop")
	err := p.Each(func(i int, r *tuple.Record) error {
		seen = append(seen, i)
		return stop
	})
	if !errors.Is(err, stop) || len(seen) != 1 {
		t.Fatalf("Each: %v %v", err, seen)
	}
	p.Destroy()
	if a.Refs() != 0 || b.Refs() != 0 || p.Len() != 0 {
		t.Fatal("destroy must release the records")
	}
}
