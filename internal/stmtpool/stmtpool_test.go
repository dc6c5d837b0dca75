package stmtpool

import (
	"bytes"
	"errors"
	"testing"

	"github.com/SimonWaldherr/boxsql/internal/engine"
	"github.com/SimonWaldherr/boxsql/internal/errs"
)

type recFinalizer struct {
	got  []engine.Handle
	fail map[engine.Handle]bool
}

func (r *recFinalizer) Finalize(h engine.Handle) error {
	r.got = append(r.got, h)
	if r.fail[h] {
		return errors.New("finalize failed")
	}
	return nil
}

func TestInitState(t *testing.T) {
	var stock [StockSize]byte
	p := Init(stock[:])
	if p.Len() != 0 || p.ScratchSize() != 0 || p.Owned() || p.Cap() != StockSize {
		t.Fatalf("unexpected initial state: len=%d scratch=%d owned=%v cap=%d", p.Len(), p.ScratchSize(), p.Owned(), p.Cap())
	}
	if i, n := p.LastSelect(); i != NoSelect || n != 0 {
		t.Fatalf("got last select %d/%d", i, n)
	}
}

func TestStockPathNeverAllocates(t *testing.T) {
	var stock [StockSize]byte
	ca := &CountingAllocator{}
	p := Init(stock[:], WithAllocator(ca))
	for i := 0; i < StockSlots; i++ {
		idx, err := p.Push()
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		p.Set(idx, engine.Handle(100+i))
	}
	f := &recFinalizer{}
	if err := p.Release(f); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ca.Allocs != 0 || ca.Reallocs != 0 || ca.Frees != 0 {
		t.Fatalf("allocator touched: %+v", ca)
	}
	if len(f.got) != StockSlots {
		t.Fatalf("finalized %d handles", len(f.got))
	}
}

func TestGrowthKeepsOrderAndScratch(t *testing.T) {
	var stock [StockSize]byte
	ca := &CountingAllocator{}
	p := Init(stock[:], WithAllocator(ca))

	tags, err := p.Alloc(5, 1)
	if err != nil {
		t.Fatal(err)
	}
	copy(tags, "ifsb-")

	const n = 40
	for i := 0; i < n; i++ {
		idx, err := p.Push()
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if idx != i {
			t.Fatalf("got slot %d want %d", idx, i)
		}
		if h := p.Handle(idx); h != 0 {
			t.Fatalf("slot %d not zeroed: %d", idx, h)
		}
		p.Set(idx, engine.Handle(i+1))
		if p.Len()*SlotSize+p.ScratchSize() > p.Cap() {
			t.Fatalf("areas overlap: len=%d scratch=%d cap=%d", p.Len(), p.ScratchSize(), p.Cap())
		}
	}
	if !p.Owned() {
		t.Fatal("pool should have moved to the heap")
	}
	if ca.Allocs != 1 {
		t.Fatalf("got %d allocs want exactly one copy off the stock storage", ca.Allocs)
	}
	if ca.Reallocs == 0 {
		t.Fatal("owned region should grow through Realloc")
	}
	if got := p.Scratch(); !bytes.Equal(got, []byte("ifsb-")) {
		t.Fatalf("scratch after growth: %q", got)
	}
	if c := p.Cap() / StockSize; p.Cap()%StockSize != 0 || c&(c-1) != 0 {
		t.Fatalf("cap %d is not a doubling of the stock size", p.Cap())
	}
	for i := 0; i < n; i++ {
		if h := p.Handle(i); h != engine.Handle(i+1) {
			t.Fatalf("slot %d holds %d", i, h)
		}
	}

	f := &recFinalizer{}
	if err := p.Release(f); err != nil {
		t.Fatal(err)
	}
	if ca.Frees != 1 {
		t.Fatalf("got %d frees want 1", ca.Frees)
	}
	for i, h := range f.got {
		if h != engine.Handle(i+1) {
			t.Fatalf("finalize order: %v", f.got)
		}
	}
}

func TestScratchGrowthRelocates(t *testing.T) {
	var stock [StockSize]byte
	p := Init(stock[:])
	idx, _ := p.Push()
	p.Set(idx, 7)

	first, err := p.Alloc(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(first, "abcdefgh")
	// Does not fit into the remaining stock bytes.
	big, err := p.Alloc(100, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range big {
		big[i] = 0xEE
	}
	if !p.Owned() {
		t.Fatal("expected growth")
	}
	// The caller storage must not have been modified by the growth.
	if !bytes.Equal(stock[StockSize-8:], []byte("abcdefgh")) {
		t.Fatalf("stock storage changed: %q", stock[StockSize-8:])
	}
	s := p.Scratch()
	if !bytes.Equal(s[len(s)-8:], []byte("abcdefgh")) {
		t.Fatalf("first allocation lost: %q", s[len(s)-8:])
	}
	if p.Handle(0) != 7 {
		t.Fatal("handle lost")
	}
	if p.ScratchSize()%4 != 0 {
		t.Fatalf("scratch size %d not aligned", p.ScratchSize())
	}
}

func TestAlignmentRounding(t *testing.T) {
	p := Init(make([]byte, 64))
	if _, err := p.Alloc(3, 1); err != nil {
		t.Fatal(err)
	}
	if p.ScratchSize() != 3 {
		t.Fatalf("got %d", p.ScratchSize())
	}
	if _, err := p.Alloc(1, 4); err != nil {
		t.Fatal(err)
	}
	if p.ScratchSize() != 4 {
		t.Fatalf("got %d want 4", p.ScratchSize())
	}
	if _, err := p.Alloc(1, 8); err != nil {
		t.Fatal(err)
	}
	if p.ScratchSize() != 8 {
		t.Fatalf("got %d want 8", p.ScratchSize())
	}
}

func TestBadAlignmentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	p := Init(make([]byte, 16))
	_, _ = p.Alloc(1, 16)
}

func TestOutOfMemory(t *testing.T) {
	var stock [StockSize]byte
	p := Init(stock[:], WithAllocator(HeapAllocator{Limit: 128}))
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = p.Push()
	}
	if !errs.IsOutOfMemory(err) {
		t.Fatalf("got %v want out of memory", err)
	}
	// 48 -> 96 fits the limit, 192 does not.
	if p.Len() != 96/SlotSize {
		t.Fatalf("got %d slots", p.Len())
	}
}

func TestPopAndLastSelect(t *testing.T) {
	p := Init(make([]byte, StockSize))
	a, _ := p.Push()
	p.Set(a, 1)
	b, _ := p.Push()
	p.SetLastSelect(b, 3)
	if i, n := p.LastSelect(); i != 1 || n != 3 {
		t.Fatalf("got %d/%d", i, n)
	}
	p.Pop()
	if p.Len() != 1 {
		t.Fatalf("len %d", p.Len())
	}
	if i, _ := p.LastSelect(); i != NoSelect {
		t.Fatal("last select should be cleared with its slot")
	}
	f := &recFinalizer{}
	_ = p.Release(f)
	if len(f.got) != 1 || f.got[0] != 1 {
		t.Fatalf("finalized %v", f.got)
	}
}

func TestReleaseSkipsEmptySlotsAndJoinsErrors(t *testing.T) {
	p := Init(make([]byte, StockSize))
	for _, h := range []engine.Handle{3, 0, 4} {
		i, _ := p.Push()
		p.Set(i, h)
	}
	f := &recFinalizer{fail: map[engine.Handle]bool{3: true}}
	err := p.Release(f)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(f.got) != 2 || f.got[0] != 3 || f.got[1] != 4 {
		t.Fatalf("finalized %v", f.got)
	}
}
