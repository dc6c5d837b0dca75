// Package region is a bump allocator for building output records.
//
// Memory is handed out from a list of slabs. Used reports the high-water
// mark and Truncate rolls back to an earlier mark, so a caller can build a
// record, copy it out and give the bytes back: the region then only ever
// grows to the size of the largest single record.
package region

import (
	"github.com/SimonWaldherr/boxsql/internal/errs"
)

const (
	initialSlabSize = 4 * 1024
	growFactor      = 2
)

type slab struct {
	buf  []byte
	used int
}

// Region is a slab bump allocator. The zero value is ready to use.
type Region struct {
	// Limit caps the total number of bytes the region may hold at once.
	// Zero means no limit.
	Limit int

	slabs []slab
	used  int
}

// New returns a region with the given byte limit.
func New(limit int) *Region {
	return &Region{Limit: limit}
}

// Used returns the number of bytes currently allocated; it doubles as the
// mark for Truncate.
func (r *Region) Used() int { return r.used }

// Alloc returns n bytes. Slices returned earlier stay valid: new slabs are
// added, existing ones never move.
func (r *Region) Alloc(n int) ([]byte, error) {
	if n < 0 || (r.Limit > 0 && r.used+n > r.Limit) {
		return nil, errs.OutOfMemory(n, "region")
	}
	if k := len(r.slabs); k > 0 {
		s := &r.slabs[k-1]
		if s.used+n <= len(s.buf) {
			out := s.buf[s.used : s.used+n : s.used+n]
			s.used += n
			r.used += n
			return out, nil
		}
	}
	size := initialSlabSize
	if k := len(r.slabs); k > 0 {
		size = len(r.slabs[k-1].buf) * growFactor
	}
	for size < n {
		size *= growFactor
	}
	r.slabs = append(r.slabs, slab{buf: make([]byte, size), used: n})
	r.used += n
	return r.slabs[len(r.slabs)-1].buf[:n:n], nil
}

// Truncate releases everything allocated after mark. Emptied slabs other
// than the first are dropped.
func (r *Region) Truncate(mark int) {
	if mark < 0 {
		mark = 0
	}
	for r.used > mark && len(r.slabs) > 0 {
		k := len(r.slabs) - 1
		s := &r.slabs[k]
		excess := r.used - mark
		if excess < s.used {
			s.used -= excess
			r.used = mark
			return
		}
		r.used -= s.used
		s.used = 0
		if k > 0 {
			r.slabs = r.slabs[:k]
		}
	}
}

// Reset releases everything.
func (r *Region) Reset() { r.Truncate(0) }

// Slabs returns the number of slabs held, for diagnostics.
func (r *Region) Slabs() int { return len(r.slabs) }
