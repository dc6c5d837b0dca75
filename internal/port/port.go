// Package port collects the row records produced by one execution.
package port

import (
	"github.com/SimonWaldherr/boxsql/internal/tuple"
)

// Port is an ordered sink of row records. It holds one reference to every
// record added to it.
type Port struct {
	rows []*tuple.Record
	size int
}

// Add appends r and takes a reference to it.
func (p *Port) Add(r *tuple.Record) error {
	r.Ref()
	p.rows = append(p.rows, r)
	p.size += r.Len()
	return nil
}

// Len returns the number of records.
func (p *Port) Len() int { return len(p.rows) }

// Size returns the total encoded size of all records.
func (p *Port) Size() int { return p.size }

// Rows returns the records in insertion order.
func (p *Port) Rows() []*tuple.Record { return p.rows }

// Each calls fn for every record until fn returns an error.
func (p *Port) Each(fn func(i int, r *tuple.Record) error) error {
	for i, r := range p.rows {
		if err := fn(i, r); err != nil {
			return err
		}
	}
	return nil
}

// Destroy drops the port's references.
func (p *Port) Destroy() {
	for _, r := range p.rows {
		r.Unref()
	}
	p.rows = nil
	p.size = 0
}
