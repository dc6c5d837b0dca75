// Package stmtpool keeps the prepared statements of one execution together
// with a small scratch byte pool in a single region.
//
// Handle slots grow forward from the start of the region, scratch bytes grow
// backward from its end. The region starts out as caller storage (usually an
// array on the caller's stack) and moves to an allocator block only when one
// of the two areas runs out of room; after that it doubles.
package stmtpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/SimonWaldherr/boxsql/internal/engine"
	"github.com/SimonWaldherr/boxsql/internal/errs"
)

// SlotSize is the size and natural alignment of one handle slot.
const SlotSize = 8

// StockSlots is the number of handles that fit in StockSize bytes.
const StockSlots = 6

// StockSize is the size of the caller storage the executor hands to Init.
const StockSize = StockSlots * SlotSize

// NoSelect is the LastSelect index before any result-bearing statement ran.
const NoSelect = math.MaxUint32

// Finalizer releases engine statements.
type Finalizer interface {
	Finalize(h engine.Handle) error
}

// Pool is a statement list and scratch pool sharing one region. The zero
// value is not usable; call Init.
type Pool struct {
	mem   []byte
	owned bool
	alloc Allocator

	stmtCount   uint32
	poolSize    uint32
	lastSelect  uint32
	columnCount uint32
}

// Option configures a Pool.
type Option func(*Pool)

// WithAllocator replaces the heap allocator used for growth.
func WithAllocator(a Allocator) Option {
	return func(p *Pool) {
		if a != nil {
			p.alloc = a
		}
	}
}

// Init sets up a pool over storage. The pool does not take ownership of
// storage and never frees it; its length is rounded down to whole slots.
func Init(storage []byte, opts ...Option) *Pool {
	n := len(storage) &^ (SlotSize - 1)
	p := &Pool{
		mem:        storage[:n:n],
		lastSelect: NoSelect,
		alloc:      HeapAllocator{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Len returns the number of handle slots.
func (p *Pool) Len() int { return int(p.stmtCount) }

// Cap returns the size of the region in bytes.
func (p *Pool) Cap() int { return len(p.mem) }

// Owned reports whether the region was obtained from the allocator.
func (p *Pool) Owned() bool { return p.owned }

// ScratchSize returns the number of scratch bytes in use.
func (p *Pool) ScratchSize() int { return int(p.poolSize) }

// Alloc reserves size bytes of scratch space aligned to alignment, which
// must be a power of two not larger than SlotSize. The returned slice is
// valid until the next Alloc or Push call that grows the region; its
// contents are carried over by the growth, so callers re-derive the slice
// from the region when they need it after growing.
func (p *Pool) Alloc(size, alignment int) ([]byte, error) {
	if alignment <= 0 || alignment&(alignment-1) != 0 || alignment > SlotSize {
		panic(fmt.Sprintf("stmtpool: bad alignment %d", alignment))
	}
	if size < 0 || uint64(size)+uint64(alignment) > math.MaxUint32-uint64(p.poolSize) {
		return nil, errs.OutOfMemory(size, "statement pool")
	}
	poolSize := uint64(p.poolSize) + uint64(size)
	poolSize = (poolSize + uint64(alignment) - 1) &^ uint64(alignment-1)
	poolSizeMax := uint64(len(p.mem)) - uint64(p.stmtCount)*SlotSize

	if poolSize > poolSizeMax {
		if err := p.grow(int(poolSize - poolSizeMax)); err != nil {
			return nil, err
		}
	}

	p.poolSize = uint32(poolSize)
	end := len(p.mem) - int(poolSize)
	return p.mem[end : end+size : end+size], nil
}

// grow enlarges the region by at least need bytes and moves the scratch
// bytes to the new tail.
func (p *Pool) grow(need int) error {
	prev := len(p.mem)
	size := prev
	if size == 0 {
		size = SlotSize
	}
	for size < prev+need {
		if size > math.MaxInt/2 {
			return errs.OutOfMemory(prev+need, "statement pool")
		}
		size += size
	}

	var mem []byte
	if p.owned {
		mem = p.alloc.Realloc(p.mem, size)
	} else {
		mem = p.alloc.Alloc(size)
		if mem != nil {
			copy(mem, p.mem)
		}
	}
	if mem == nil {
		return errs.OutOfMemory(size, "statement pool")
	}
	mem = mem[:size:size]

	ps := int(p.poolSize)
	copy(mem[size-ps:], mem[prev-ps:prev])
	p.mem = mem
	p.owned = true
	return nil
}

// Push reserves a zeroed handle slot at the end of the list and returns its
// index.
func (p *Pool) Push() (int, error) {
	// Reserve through Alloc, then hand the bytes to the handle list.
	if _, err := p.Alloc(SlotSize, 1); err != nil {
		return 0, err
	}
	p.poolSize -= SlotSize
	i := p.stmtCount
	p.stmtCount++
	p.Set(int(i), 0)
	return int(i), nil
}

// Pop drops the last slot without finalizing it. It is used when a slot was
// reserved but the engine produced no statement.
func (p *Pool) Pop() {
	if p.stmtCount == 0 {
		return
	}
	p.stmtCount--
	if p.lastSelect == p.stmtCount {
		p.lastSelect, p.columnCount = NoSelect, 0
	}
}

// Set stores h in slot i.
func (p *Pool) Set(i int, h engine.Handle) {
	p.checkIndex(i)
	binary.NativeEndian.PutUint64(p.mem[i*SlotSize:], uint64(h))
}

// Handle returns the handle stored in slot i.
func (p *Pool) Handle(i int) engine.Handle {
	p.checkIndex(i)
	return engine.Handle(binary.NativeEndian.Uint64(p.mem[i*SlotSize:]))
}

func (p *Pool) checkIndex(i int) {
	if i < 0 || i >= int(p.stmtCount) {
		panic(fmt.Sprintf("stmtpool: slot %d out of range [0,%d)", i, p.stmtCount))
	}
}

// ResetScratch gives all scratch bytes back.
func (p *Pool) ResetScratch() { p.poolSize = 0 }

// Scratch returns the scratch bytes currently in use, most recent first.
func (p *Pool) Scratch() []byte {
	return p.mem[len(p.mem)-int(p.poolSize):]
}

// SetLastSelect records the slot and column count of the most recent
// statement that produced result columns.
func (p *Pool) SetLastSelect(i, columns int) {
	p.checkIndex(i)
	p.lastSelect = uint32(i)
	p.columnCount = uint32(columns)
}

// LastSelect returns the values recorded by SetLastSelect, or NoSelect and 0.
func (p *Pool) LastSelect() (index, columns uint32) {
	return p.lastSelect, p.columnCount
}

// Release finalizes every prepared handle in push order and returns the
// region to the allocator if it came from there. Caller storage is left
// alone. All handles are finalized even if some fail; the failures are
// joined. The pool must not be used afterwards.
func (p *Pool) Release(f Finalizer) error {
	var errList []error
	for i := 0; i < int(p.stmtCount); i++ {
		h := p.Handle(i)
		if h == 0 {
			continue
		}
		if err := f.Finalize(h); err != nil {
			errList = append(errList, err)
		}
	}
	p.stmtCount = 0
	p.poolSize = 0
	p.lastSelect, p.columnCount = NoSelect, 0
	if p.owned {
		p.alloc.Free(p.mem)
		p.owned = false
	}
	p.mem = nil
	return errors.Join(errList...)
}
