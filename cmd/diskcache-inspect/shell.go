package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	diskcache "github.com/calvinalkan/diskcache"
	"github.com/peterh/liner"
)

// shell is the interactive REPL opened by the "shell" subcommand, mirroring
// the teacher's sloty REPL: liner for readline-style editing and persistent
// history, a small fixed command set, no command beyond what the
// non-interactive subcommands already expose.
type shell struct {
	cache *diskcache.Cache
	cfg   Config
	out   io.Writer
	liner *liner.State
}

func cmdShell(cfg Config, out, errOut *os.File, _ []string) int {
	cache, err := openCache(cfg)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}
	defer cache.Close() //nolint:errcheck // REPL exit is best-effort

	r := &shell{cache: cache, cfg: cfg, out: out}

	return r.run()
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".diskcache_inspect_history")
}

func (r *shell) run() int {
	r.liner = liner.NewLiner()
	defer r.liner.Close() //nolint:errcheck // best-effort terminal restore

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFilePath()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close() //nolint:errcheck,gosec // read-only history file
	}

	fmt.Fprintf(r.out, "diskcache-inspect shell (dir=%s)\n", r.cfg.Dir) //nolint:errcheck // best-effort CLI output
	fmt.Fprintln(r.out, "Type 'help' for commands, 'exit' to quit.")    //nolint:errcheck // best-effort CLI output

	for {
		line, err := r.liner.Prompt("diskcache> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF { //nolint:errorlint // liner returns these as sentinels, not wrapped
				break
			}

			fmt.Fprintln(r.out, "error:", err) //nolint:errcheck // best-effort CLI output

			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if r.dispatch(line) {
			break
		}
	}

	r.saveHistory()

	return 0
}

// dispatch runs one REPL command line and reports whether the shell should
// exit.
func (r *shell) dispatch(line string) bool {
	parts := strings.Fields(line)
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "ls":
		doLs(r.cache, r.cfg.ValueCount, r.out, r.out)
	case "get":
		if len(args) < 1 {
			fmt.Fprintln(r.out, "usage: get <key> [slot]") //nolint:errcheck // best-effort CLI output

			return false
		}

		slot := 0

		if len(args) >= 2 {
			n, err := parseSlot(args[1])
			if err != nil {
				fmt.Fprintln(r.out, "error:", err) //nolint:errcheck // best-effort CLI output

				return false
			}

			slot = n
		}

		doGet(r.cache, r.cfg.ValueCount, args[0], slot, r.out, r.out)
	case "rm":
		if len(args) < 1 {
			fmt.Fprintln(r.out, "usage: rm <key>") //nolint:errcheck // best-effort CLI output

			return false
		}

		doRm(r.cache, args[0], r.out, r.out)
	case "size":
		doSize(r.cache, r.out, r.out)
	case "gc":
		doGC(r.cache, r.out, r.out)
	default:
		fmt.Fprintf(r.out, "unknown command: %s (type 'help')\n", cmd) //nolint:errcheck // best-effort CLI output
	}

	return false
}

func (r *shell) printHelp() {
	fmt.Fprintln(r.out, "commands:") //nolint:errcheck // best-effort CLI output
	fmt.Fprintln(r.out, "  ls                 list entries")
	fmt.Fprintln(r.out, "  get <key> [slot]   print a value slot to stdout")
	fmt.Fprintln(r.out, "  rm <key>           remove an entry")
	fmt.Fprintln(r.out, "  size               print current byte total")
	fmt.Fprintln(r.out, "  gc                 evict every entry")
	fmt.Fprintln(r.out, "  exit               leave the shell")
}

func (r *shell) saveHistory() {
	path := historyFilePath()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = r.liner.WriteHistory(f)
		f.Close() //nolint:errcheck,gosec // best-effort history persistence
	}
}
