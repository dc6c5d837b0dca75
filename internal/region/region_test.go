package region

import (
	"testing"

	"github.com/SimonWaldherr/boxsql/internal/errs"
)

func TestAllocTruncate(t *testing.T) {
	var r Region
	a, err := r.Alloc(10)
	if err != nil || len(a) != 10 {
		t.Fatalf("alloc: %v %d", err, len(a))
	}
	copy(a, "0123456789")
	mark := r.Used()
	if _, err := r.Alloc(100); err != nil {
		t.Fatal(err)
	}
	if r.Used() != 110 {
		t.Fatalf("used %d", r.Used())
	}
	r.Truncate(mark)
	if r.Used() != mark {
		t.Fatalf("got %d want %d", r.Used(), mark)
	}
	if string(a) != "0123456789" {
		t.Fatalf("earlier allocation clobbered: %q", a)
	}
}

func TestLargeAllocationAddsSlab(t *testing.T) {
	var r Region
	small, _ := r.Alloc(8)
	copy(small, "keepkeep")
	mark := r.Used()
	big, err := r.Alloc(3 * initialSlabSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(big) != 3*initialSlabSize || r.Slabs() != 2 {
		t.Fatalf("len=%d slabs=%d", len(big), r.Slabs())
	}
	r.Truncate(mark)
	if r.Slabs() != 1 || r.Used() != 8 {
		t.Fatalf("slabs=%d used=%d", r.Slabs(), r.Used())
	}
	if string(small) != "keepkeep" {
		t.Fatal("first slab content lost")
	}
	r.Reset()
	if r.Used() != 0 {
		t.Fatal("reset")
	}
}

func TestHighWaterBounded(t *testing.T) {
	var r Region
	for i := 0; i < 1000; i++ {
		mark := r.Used()
		if _, err := r.Alloc(512); err != nil {
			t.Fatal(err)
		}
		r.Truncate(mark)
	}
	if r.Slabs() != 1 || r.Used() != 0 {
		t.Fatalf("slabs=%d used=%d", r.Slabs(), r.Used())
	}
}

func TestLimit(t *testing.T) {
	r := New(64)
	if _, err := r.Alloc(60); err != nil {
		t.Fatal(err)
	}
	_, err := r.Alloc(8)
	if !errs.IsOutOfMemory(err) {
		t.Fatalf("got %v", err)
	}
	r.Truncate(0)
	if _, err := r.Alloc(64); err != nil {
		t.Fatalf("after truncate: %v", err)
	}
}
