package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/SimonWaldherr/boxsql"
)

var flagDSN = flag.String("dsn", ":memory:", "SQLite database (file path, URI or :memory:)")
var flagEcho = flag.Bool("echo", false, "Echo SQL statements before execution")
var flagFormat = flag.String("format", "table", "Output format: table, csv, tsv, json, yaml, markdown")
var flagTags = flag.Bool("tags", true, "Show the type tag column")
var flagErrorsOnly = flag.Bool("errors-only", false, "Only print statements that produce errors (ERR)")

type replOptions struct {
	echo        bool
	format      string
	tags        bool
	errorsOnly  bool
	interactive bool
}

func main() {
	flag.Parse()

	db, err := boxsql.Open(*flagDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		os.Exit(1)
	}
	defer db.Close()

	// If stdin is not a terminal (e.g., redirected from a file) suppress
	// interactive prompts like `sql>` to keep non-interactive output clean.
	interactive := false
	if fi, err := os.Stdin.Stat(); err == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}

	runREPL(db, os.Stdin, os.Stdout, &replOptions{
		echo:        *flagEcho,
		format:      *flagFormat,
		tags:        *flagTags,
		errorsOnly:  *flagErrorsOnly,
		interactive: interactive,
	})
}

func runREPL(db *boxsql.DB, in io.Reader, out io.Writer, opts *replOptions) {
	sc := bufio.NewScanner(in)
	// Scanner token limit is 64K by default; allow larger statements/files.
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	if opts.interactive {
		fmt.Fprintln(out, "boxsql REPL. End statements with ';'. '.help' for help.")
	}

	var buf strings.Builder
	for {
		if opts.interactive {
			if buf.Len() == 0 {
				fmt.Fprint(out, "sql> ")
			} else {
				fmt.Fprint(out, " ... ")
			}
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				fmt.Fprintln(out, "read error:", err)
			}
			// Run a trailing statement without a terminating ';'.
			if q := strings.TrimSpace(buf.String()); q != "" {
				runStatements(db, out, q, opts)
			}
			return
		}

		line := strings.TrimSpace(sc.Text())
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if !handleMeta(out, line, opts) {
				return
			}
			continue
		}
		if line == "" && buf.Len() == 0 {
			continue
		}

		buf.WriteString(sc.Text())
		buf.WriteByte('\n')
		if strings.HasSuffix(line, ";") {
			q := strings.TrimSpace(buf.String())
			buf.Reset()
			runStatements(db, out, q, opts)
		}
	}
}

// runStatements runs q, which may hold several statements, and prints every
// result table.
func runStatements(db *boxsql.DB, out io.Writer, q string, opts *replOptions) {
	if opts.echo {
		fmt.Fprintln(out, "--", q)
	}
	tables, err := db.Query(q)
	if err != nil {
		if opts.errorsOnly && !opts.echo {
			fmt.Fprintln(out, "--", q)
		}
		fmt.Fprintln(out, "ERR:", err)
		return
	}
	if opts.errorsOnly {
		return
	}
	if len(tables) == 0 {
		if opts.interactive {
			fmt.Fprintln(out, "(ok)")
		}
		return
	}
	for i, t := range tables {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printTable(out, t, opts.format, opts.tags)
	}
}

// handleMeta runs a dot command. It returns false when the REPL should end.
func handleMeta(out io.Writer, line string, opts *replOptions) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".help":
		fmt.Fprintln(out, `
.meta:
  .help                 this help
  .tags on|off          show or hide the type tag column
  .format NAME          table, csv, tsv, json, yaml or markdown
  .echo on|off          echo statements before running them
  .quit                 leave

type tags: i integer, f float, s text, b blob, - null`)
	case ".tags":
		if len(fields) > 1 {
			opts.tags = fields[1] == "on"
		}
		fmt.Fprintln(out, "tags:", onOff(opts.tags))
	case ".echo":
		if len(fields) > 1 {
			opts.echo = fields[1] == "on"
		}
		fmt.Fprintln(out, "echo:", onOff(opts.echo))
	case ".format":
		if len(fields) > 1 {
			opts.format = fields[1]
		}
		fmt.Fprintln(out, "format:", opts.format)
	case ".quit", ".exit":
		return false
	default:
		fmt.Fprintln(out, "ERR: unknown command", fields[0], "(try .help)")
	}
	return true
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
