// Package clirepl implements the line-oriented CLI contract a node with
// the "cli" capability exposes on stdin/stdout (spec §6): "?" routes to
// remember, "/" routes to a small command set, anything else to observe.
package clirepl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"memory-mesh/internal/memapi"
)

// REPL drives one interactive session against a memapi.MemoryAPI (which
// may be local or routed over RPC — the CLI doesn't know or care).
type REPL struct {
	memory memapi.MemoryAPI
	source string
	out    io.Writer
}

// New builds a REPL. source names this CLI session as the Source passed
// to Observe for every line the REPL records as an observation.
func New(memory memapi.MemoryAPI, source string, out io.Writer) *REPL {
	return &REPL{memory: memory, source: source, out: out}
}

// Run reads lines from in until EOF, /quit, or an unrecoverable read
// error.
func (r *REPL) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(r.out, "memory-mesh CLI — type /help for commands")
	fmt.Fprint(r.out, "> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(r.out, "> ")
			continue
		}

		if r.dispatch(line) {
			return nil
		}
		fmt.Fprint(r.out, "> ")
	}
	return scanner.Err()
}

// dispatch handles one line and reports whether the session should end.
func (r *REPL) dispatch(line string) bool {
	switch {
	case strings.HasPrefix(line, "?"):
		r.remember(strings.TrimSpace(line[1:]))
	case strings.HasPrefix(line, "/"):
		return r.command(strings.TrimSpace(line[1:]))
	default:
		r.observe(line)
	}
	return false
}

func (r *REPL) remember(query string) {
	answer, err := r.memory.Remember(query)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, answer)
}

func (r *REPL) observe(text string) {
	id, err := r.memory.Observe(text, r.source)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "recorded (%s)\n", id)
}

func (r *REPL) command(cmd string) bool {
	name, _, _ := strings.Cut(cmd, " ")
	switch name {
	case "quit", "exit":
		fmt.Fprintln(r.out, "bye")
		return true
	case "help":
		fmt.Fprintln(r.out, "?<question>     ask what's remembered")
		fmt.Fprintln(r.out, "/status         show schema version and contradiction count")
		fmt.Fprintln(r.out, "/clear          wipe all memory")
		fmt.Fprintln(r.out, "/quit           exit")
		fmt.Fprintln(r.out, "<anything else> record an observation")
	case "status":
		r.status()
	case "clear":
		if err := r.memory.Clear(); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "memory cleared")
	default:
		fmt.Fprintf(r.out, "unknown command /%s (try /help)\n", name)
	}
	return false
}

func (r *REPL) status() {
	contradictions, err := r.memory.GetUnresolvedContradictions()
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	sch, err := r.memory.GetSchema()
	version := "unknown"
	if err == nil {
		if v, ok := sch["schema_version"]; ok {
			version = fmt.Sprintf("%v", v)
		}
	}
	fmt.Fprintf(r.out, "schema_version=%s unresolved_contradictions=%d\n", version, len(contradictions))
}
