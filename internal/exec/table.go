package exec

import (
	"encoding/json"
	"strings"

	"github.com/SimonWaldherr/boxsql/internal/rowenc"
)

// Table is the host form of one statement's result.
type Table struct {
	Names []string
	Rows  []rowenc.Row
}

// Get returns the column names for i == 0 and row i (1-based) otherwise.
func (t *Table) Get(i int) any {
	if i == 0 {
		return t.Names
	}
	return t.Rows[i-1]
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

type jsonRow struct {
	Tags   string `json:"tags"`
	Values []any  `json:"values"`
}

// MarshalJSON encodes the table as a sequence: the names first, then one
// object per row.
func (t *Table) MarshalJSON() ([]byte, error) {
	seq := make([]any, 0, len(t.Rows)+1)
	names := t.Names
	if names == nil {
		names = []string{}
	}
	seq = append(seq, names)
	for _, r := range t.Rows {
		seq = append(seq, jsonRow{Tags: r.Tags, Values: r.Values})
	}
	return json.Marshal(seq)
}

func (t *Table) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Names, "\t"))
	for _, r := range t.Rows {
		b.WriteByte('\n')
		b.WriteString(r.String())
	}
	return b.String()
}
