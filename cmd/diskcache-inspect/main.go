// Command diskcache-inspect is an operator tool for looking inside an
// existing diskcache directory without writing Go code: list entries, dump a
// value slot, remove a key, or drop into an interactive shell.
//
// Usage:
//
//	diskcache-inspect [global flags] <command> [args]
//
// Commands:
//
//	ls      list cache entries
//	get     print one value slot of an entry to stdout
//	rm      remove an entry
//	size    print the current byte total
//	gc      run EvictAll
//	config  print the resolved configuration
//	shell   interactive REPL over the same commands
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	globalFlags, rest, err := parseGlobalFlags(args[1:])
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	cfg, err := LoadConfig(workDir, globalFlags.overrides())
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	cfg.Dir = resolveDir(workDir, cfg.Dir)

	if len(rest) == 0 {
		printUsage(out)

		return 0
	}

	cmdName, cmdArgs := rest[0], rest[1:]

	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut)

		return 1
	}

	return cmd(cfg, out, errOut, cmdArgs)
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "usage: diskcache-inspect [--dir DIR] [--app-version N] [--value-count N] <command> [args]")
	fmt.Fprintln(w, "commands: ls, get, rm, size, gc, config, shell")
}

// globalFlagValues holds the subset of global flags that can override the
// loaded config.
type globalFlagValues struct {
	dir        string
	appVersion int
	valueCount int
	maxSize    int64
}

func (g globalFlagValues) overrides() Config {
	return Config{Dir: g.dir, AppVersion: g.appVersion, ValueCount: g.valueCount, MaxSize: g.maxSize}
}
