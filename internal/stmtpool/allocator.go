package stmtpool

// Allocator provides the blocks a Pool grows into. Alloc and Realloc return
// nil when the request cannot be served.
type Allocator interface {
	Alloc(size int) []byte
	// Realloc returns a block of size bytes starting with the contents of b.
	Realloc(b []byte, size int) []byte
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap. A positive Limit caps the size of
// a single block.
type HeapAllocator struct {
	Limit int
}

func (a HeapAllocator) Alloc(size int) []byte {
	if a.Limit > 0 && size > a.Limit {
		return nil
	}
	return make([]byte, size)
}

func (a HeapAllocator) Realloc(b []byte, size int) []byte {
	if a.Limit > 0 && size > a.Limit {
		return nil
	}
	if size <= cap(b) {
		return b[:size]
	}
	nb := make([]byte, size)
	copy(nb, b)
	return nb
}

// Free drops the block; the garbage collector reclaims it.
func (HeapAllocator) Free([]byte) {}

// CountingAllocator wraps another Allocator and counts calls. It is used to
// observe the pool's heap traffic.
type CountingAllocator struct {
	Next                   Allocator
	Allocs, Reallocs, Frees int
}

func (c *CountingAllocator) next() Allocator {
	if c.Next == nil {
		return HeapAllocator{}
	}
	return c.Next
}

func (c *CountingAllocator) Alloc(size int) []byte {
	c.Allocs++
	return c.next().Alloc(size)
}

func (c *CountingAllocator) Realloc(b []byte, size int) []byte {
	c.Reallocs++
	return c.next().Realloc(b, size)
}

func (c *CountingAllocator) Free(b []byte) {
	c.Frees++
	c.next().Free(b)
}
