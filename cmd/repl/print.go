package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/boxsql"
)

const tagHeader = "#"

func printTable(out io.Writer, t *boxsql.Table, format string, tags bool) {
	switch strings.ToLower(format) {
	case "json":
		b, err := json.Marshal(t)
		if err != nil {
			fmt.Fprintln(out, "ERR:", err)
			return
		}
		fmt.Fprintln(out, string(b))
	case "yaml":
		printYAML(out, t, tags)
	case "csv":
		printDelimited(out, t, ',', tags)
	case "tsv":
		printDelimited(out, t, '\t', tags)
	case "markdown", "md":
		printGrid(out, t, tags, true)
	default:
		printGrid(out, t, tags, false)
	}
}

// cells lays out t as strings: a header line then one line per row, with the
// tag column first when tags is set.
func cells(t *boxsql.Table, tags bool) [][]string {
	header := append([]string(nil), t.Names...)
	if tags {
		header = append([]string{tagHeader}, header...)
	}
	lines := [][]string{header}
	for _, r := range t.Rows {
		line := make([]string, 0, len(header))
		if tags {
			line = append(line, r.Tags)
		}
		for _, v := range r.Values {
			line = append(line, cell(v))
		}
		lines = append(lines, line)
	}
	return lines
}

func printGrid(out io.Writer, t *boxsql.Table, tags, markdown bool) {
	lines := cells(t, tags)
	widths := make([]int, len(lines[0]))
	for _, line := range lines {
		for i, c := range line {
			if w := displayWidth(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	sep, left, right := "  ", "", ""
	if markdown {
		sep, left, right = " | ", "| ", " |"
	}
	writeLine := func(line []string) {
		var b strings.Builder
		b.WriteString(left)
		for i, c := range line {
			if i > 0 {
				b.WriteString(sep)
			}
			b.WriteString(padRight(c, widths[i]))
		}
		b.WriteString(right)
		fmt.Fprintln(out, strings.TrimRight(b.String(), " "))
	}

	writeLine(lines[0])
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	writeLine(rule)
	for _, line := range lines[1:] {
		writeLine(line)
	}
}

func printDelimited(out io.Writer, t *boxsql.Table, comma rune, tags bool) {
	w := csv.NewWriter(out)
	w.Comma = comma
	_ = w.WriteAll(cells(t, tags))
}

// printYAML writes one mapping per row, keys in column order.
func printYAML(out io.Writer, t *boxsql.Table, tags bool) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range t.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		if tags {
			m.Content = append(m.Content, scalar(tagHeader), scalar(r.Tags))
		}
		for i, v := range r.Values {
			val := new(yaml.Node)
			if err := val.Encode(yamlValue(v)); err != nil {
				fmt.Fprintln(out, "ERR:", err)
				return
			}
			m.Content = append(m.Content, scalar(t.Names[i]), val)
		}
		seq.Content = append(seq.Content, m)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		fmt.Fprintln(out, "ERR:", err)
	}
	_ = enc.Close()
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func yamlValue(v any) any {
	switch v.(type) {
	case nil:
		return nil
	case int64, float64, string:
		return v
	default:
		if v == boxsql.Null {
			return nil
		}
		return cell(v)
	}
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case []byte:
		return "x'" + hex.EncodeToString(x) + "'"
	default:
		if v == boxsql.Null {
			return "NULL"
		}
		return fmt.Sprint(v)
	}
}

// displayWidth returns the number of terminal columns s occupies; wide and
// fullwidth East Asian runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func padRight(s string, w int) string {
	if d := displayWidth(s); d < w {
		return s + strings.Repeat(" ", w-d)
	}
	return s
}
