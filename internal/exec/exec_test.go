package exec

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/SimonWaldherr/boxsql/internal/engine/enginetest"
	"github.com/SimonWaldherr/boxsql/internal/errs"
	"github.com/SimonWaldherr/boxsql/internal/port"
	"github.com/SimonWaldherr/boxsql/internal/region"
	"github.com/SimonWaldherr/boxsql/internal/rowenc"
	"github.com/SimonWaldherr/boxsql/internal/stmtpool"
	"github.com/SimonWaldherr/boxsql/internal/tuple"
)

func script() map[string]*enginetest.Stmt {
	return map[string]*enginetest.Stmt{
		"CREATE": {},
		"INSERT": {Params: map[string]int{":v": 1}},
		"SELECT": {
			Columns: []string{"a", "b"},
			Rows:    [][]any{{int64(1), "x"}, {int64(-2), nil}},
		},
		"SELECT2": {
			Columns: []string{"c"},
			Rows:    [][]any{{0.5}},
		},
		"EMPTYSEL": {Columns: []string{"z"}},
		"BADSTEP":  {Columns: []string{"a"}, Rows: [][]any{{int64(1)}, {int64(2)}}, StepErr: "disk I/O error", StepErrAt: 1},
		"BADDML":   {StepErr: "UNIQUE constraint failed: t.a"},
		"BUSY":     {Other: true},
		"BADBIND":  {BindErr: "bind on a busy statement", Placeholders: 1},
	}
}

func TestQueryTables(t *testing.T) {
	c := enginetest.New(script())
	tables, err := Query(c, "CREATE; INSERT; SELECT; SELECT2;\n-- trailing comment\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables want 2", len(tables))
	}
	first := tables[0]
	if strings.Join(first.Names, ",") != "a,b" || first.Len() != 2 {
		t.Fatalf("got %v", first)
	}
	if r := first.Rows[0]; r.Tags != "is" || r.Get(1) != int64(1) || r.Get(2) != "x" {
		t.Fatalf("row 1: %v", r)
	}
	if r := first.Rows[1]; r.Tags != "i-" || r.Get(2) != rowenc.Null {
		t.Fatalf("row 2: %v", r)
	}
	if names, _ := tables[1].Get(0).([]string); len(names) != 1 || names[0] != "c" {
		t.Fatalf("names: %v", tables[1].Get(0))
	}
	if c.Prepared != 4 || c.Finalized != 4 || c.Open() != 0 {
		t.Fatalf("prepared %d finalized %d open %d", c.Prepared, c.Finalized, c.Open())
	}
}

func TestQueryEmptyResultKeepsNames(t *testing.T) {
	c := enginetest.New(script())
	tables, err := Query(c, "EMPTYSEL")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0].Len() != 0 || tables[0].Names[0] != "z" {
		t.Fatalf("got %v", tables)
	}
}

func columnsOf(t *testing.T, rs ResultSet) []string {
	t.Helper()
	vals, err := rs.Desc.Values()
	if err != nil {
		t.Fatalf("description: %v", err)
	}
	names := make([]string, len(vals))
	for i, v := range vals {
		names[i], _ = v.(map[uint64]any)[tuple.FieldName].(string)
	}
	return names
}

func TestExecuteRecords(t *testing.T) {
	c := enginetest.New(script())
	r := region.New(0)
	var p port.Port
	defer p.Destroy()
	sets, err := Execute(c, "SELECT2; CREATE; SELECT", nil, 0, r, &p)
	if err != nil {
		t.Fatal(err)
	}
	defer Unref(sets)
	if len(sets) != 2 {
		t.Fatalf("got %d result sets want 2", len(sets))
	}
	if got := strings.Join(columnsOf(t, sets[0]), ","); got != "c" || sets[0].First != 0 || sets[0].Count != 1 {
		t.Fatalf("first set %q %+v", got, sets[0])
	}
	if got := strings.Join(columnsOf(t, sets[1]), ","); got != "a,b" || sets[1].First != 1 || sets[1].Count != 2 {
		t.Fatalf("second set %q %+v", got, sets[1])
	}
	if p.Len() != 3 {
		t.Fatalf("got %d rows want 3", p.Len())
	}
	first, _ := p.Rows()[0].Values()
	if len(first) != 1 || first[0] != 0.5 {
		t.Fatalf("first row %v", first)
	}
	last, _ := p.Rows()[2].Values()
	if last[0] != int64(-2) || last[1] != nil {
		t.Fatalf("last row %v", last)
	}
	if r.Used() != 0 {
		t.Fatalf("region holds %d bytes", r.Used())
	}
	if c.Finalized != c.Prepared {
		t.Fatalf("prepared %d finalized %d", c.Prepared, c.Finalized)
	}
}

func TestExecuteEmptyResultKeepsDescription(t *testing.T) {
	c := enginetest.New(script())
	var p port.Port
	sets, err := Execute(c, "EMPTYSEL; SELECT2", nil, 0, region.New(0), &p)
	if err != nil {
		t.Fatal(err)
	}
	defer Unref(sets)
	if len(sets) != 2 || sets[0].Count != 0 || sets[1].First != 0 || sets[1].Count != 1 {
		t.Fatalf("got %+v", sets)
	}
	if got := columnsOf(t, sets[0]); len(got) != 1 || got[0] != "z" {
		t.Fatalf("columns %v", got)
	}
}

func TestExecuteBindsEveryStatement(t *testing.T) {
	c := enginetest.New(script())
	params := msgp.AppendMapHeader(nil, 1)
	params = msgp.AppendString(params, ":v")
	params = msgp.AppendInt64(params, 9)
	var p port.Port
	sets, err := Execute(c, "INSERT; INSERT;", params, 1, region.New(0), &p)
	if err != nil || sets != nil || p.Len() != 0 {
		t.Fatalf("sets %v rows %d err %v", sets, p.Len(), err)
	}
	if len(c.Binds) != 2 || c.Binds[0].Handle == c.Binds[1].Handle || c.Binds[1].Value != int64(9) {
		t.Fatalf("binds %+v", c.Binds)
	}
}

func TestExecuteBindsUpToPlaceholderCount(t *testing.T) {
	sc := script()
	sc["PAIR"] = &enginetest.Stmt{Placeholders: 2}
	c := enginetest.New(sc)
	params := msgp.AppendInt64(nil, 1)
	params = msgp.AppendInt64(params, 2)
	params = msgp.AppendInt64(params, 3)
	var p port.Port
	defer p.Destroy()
	sets, err := Execute(c, "PAIR; SELECT2; CREATE", params, 3, region.New(0), &p)
	if err != nil {
		t.Fatal(err)
	}
	defer Unref(sets)
	if len(c.Binds) != 2 || c.Binds[0].Pos != 1 || c.Binds[1].Pos != 2 || c.Binds[1].Value != int64(2) {
		t.Fatalf("binds %+v", c.Binds)
	}
	if len(sets) != 1 || p.Len() != 1 {
		t.Fatalf("sets %d rows %d", len(sets), p.Len())
	}
}

func TestEmptyText(t *testing.T) {
	for _, sql := range []string{"", "   \n\t", "-- nothing\n", ";"} {
		c := enginetest.New(script())
		var p port.Port
		sets, err := Execute(c, sql, nil, 0, region.New(0), &p)
		if err != nil || sets != nil || p.Len() != 0 || c.Prepared != 0 {
			t.Errorf("%q: sets %v rows %d prepared %d err %v", sql, sets, p.Len(), c.Prepared, err)
		}
	}
}

func TestFinalizeOnEveryPath(t *testing.T) {
	badParam := msgp.AppendArrayHeader(nil, 0)
	tests := []struct {
		name   string
		sql    string
		params []byte
		count  int
		alloc  stmtpool.Allocator
		kind   errs.Kind
		msg    string
		rows   int
		sets   int
	}{
		{name: "syntax", sql: "CREATE; nonsense; SELECT", kind: errs.KindEngine, msg: `near "nonsense": syntax error`},
		{name: "step in rows", sql: "SELECT; BADSTEP", kind: errs.KindEngine, msg: "disk I/O error", rows: 3, sets: 2},
		{name: "step after rows", sql: "SELECT2; BADDML; SELECT", kind: errs.KindEngine, msg: "UNIQUE constraint failed", rows: 1, sets: 1},
		{name: "step in dml", sql: "CREATE; BADDML; SELECT", kind: errs.KindEngine, msg: "UNIQUE constraint failed"},
		{name: "busy", sql: "BUSY", kind: errs.KindEngine, msg: "status OTHER"},
		{name: "client bind", sql: "CREATE; INSERT", params: badParam, count: 1, kind: errs.KindClient, msg: "illegal bind target at position 1"},
		{name: "engine bind", sql: "CREATE; BADBIND", params: msgp.AppendInt64(nil, 1), count: 1, kind: errs.KindEngine, msg: "bind on a busy statement"},
		{
			name:  "pool exhausted",
			sql:   strings.Repeat("CREATE;", stmtpool.StockSlots+1),
			alloc: stmtpool.HeapAllocator{Limit: stmtpool.StockSize},
			kind:  errs.KindOutOfMemory, msg: "out of memory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := enginetest.New(script())
			var p port.Port
			defer p.Destroy()
			opts := []Option{WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}
			if tt.alloc != nil {
				opts = append(opts, WithPoolAllocator(tt.alloc))
			}
			sets, err := Execute(c, tt.sql, tt.params, tt.count, region.New(0), &p, opts...)
			defer Unref(sets)
			if len(sets) != tt.sets {
				t.Fatalf("got %d result sets want %d", len(sets), tt.sets)
			}
			if k, ok := errs.KindOf(err); !ok || k != tt.kind || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("got %v want %s error containing %q", err, tt.kind, tt.msg)
			}
			if c.Finalized != c.Prepared || c.Open() != 0 {
				t.Fatalf("prepared %d finalized %d open %d", c.Prepared, c.Finalized, c.Open())
			}
			if p.Len() != tt.rows {
				t.Fatalf("got %d rows want %d", p.Len(), tt.rows)
			}
		})
	}
}

func TestQueryGrowsPastStock(t *testing.T) {
	c := enginetest.New(script())
	alloc := &stmtpool.CountingAllocator{}
	sql := strings.Repeat("SELECT2;", 3*stmtpool.StockSlots)
	tables, err := Query(c, sql, WithPoolAllocator(alloc))
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 3*stmtpool.StockSlots {
		t.Fatalf("got %d tables", len(tables))
	}
	if alloc.Allocs != 1 || alloc.Frees != 1 {
		t.Fatalf("allocs %d frees %d", alloc.Allocs, alloc.Frees)
	}
	for i, tb := range tables {
		if tb.Rows[0].Tags != "f" {
			t.Fatalf("table %d tags %q", i, tb.Rows[0].Tags)
		}
	}
}

func TestTableJSON(t *testing.T) {
	tb := &Table{
		Names: []string{"a", "b"},
		Rows: []rowenc.Row{
			{Values: []any{int64(1), rowenc.Null}, Tags: "i-"},
		},
	}
	b, err := json.Marshal(tb)
	if err != nil {
		t.Fatal(err)
	}
	want := `[["a","b"],{"tags":"i-","values":[1,null]}]`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}
