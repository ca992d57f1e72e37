package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	diskcache "github.com/calvinalkan/diskcache"
	"github.com/calvinalkan/diskcache/pkg/fs"
)

type commandFunc func(cfg Config, out, errOut *os.File, args []string) int

//nolint:gochecknoglobals // command table, read-only after init
var commands = map[string]commandFunc{
	"ls":     cmdLs,
	"get":    cmdGet,
	"rm":     cmdRm,
	"size":   cmdSize,
	"gc":     cmdGC,
	"config": cmdConfig,
	"shell":  cmdShell,
}

// openCache validates cfg and opens the cache directory against the real
// filesystem. Every subcommand but "config" needs this.
func openCache(cfg Config) (*diskcache.Cache, error) {
	if cfg.ValueCount < 1 {
		return nil, errors.New("value-count must be >= 1 (set via --value-count or config file)")
	}

	if cfg.MaxSize <= 0 {
		return nil, errors.New("max-size must be > 0 (set via --max-size or config file)")
	}

	return diskcache.Open(fs.NewReal(), cfg.Dir, cfg.AppVersion, cfg.ValueCount, cfg.MaxSize, nil)
}

// withCache opens cfg's cache directory, runs fn against it, and closes it
// afterward regardless of fn's outcome. Every one-shot subcommand uses this;
// the interactive shell instead keeps one [diskcache.Cache] open across many
// commands and calls the do* helpers directly.
func withCache(cfg Config, errOut io.Writer, fn func(*diskcache.Cache) int) int {
	cache, err := openCache(cfg)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}
	defer cache.Close() //nolint:errcheck // best-effort on CLI exit

	return fn(cache)
}

func cmdConfig(cfg Config, out, errOut *os.File, _ []string) int {
	text, err := FormatConfig(cfg)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	fprintln(out, text)

	return 0
}

func cmdLs(cfg Config, out, errOut *os.File, _ []string) int {
	return withCache(cfg, errOut, func(cache *diskcache.Cache) int {
		return doLs(cache, cfg.ValueCount, out, errOut)
	})
}

func doLs(cache *diskcache.Cache, valueCount int, out, errOut io.Writer) int {
	it, err := cache.Snapshots()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	type row struct {
		key    string
		length int64
	}

	var rows []row

	for {
		snap, ok := it.Next()
		if !ok {
			break
		}

		var total int64

		for i := 0; i < valueCount; i++ {
			total += snap.Length(i)
		}

		rows = append(rows, row{key: snap.Key(), length: total})

		if err := snap.Close(); err != nil {
			fprintln(errOut, "error closing snapshot for", snap.Key()+":", err)
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })

	for _, r := range rows {
		fmt.Fprintf(out, "%s\t%d\n", r.key, r.length) //nolint:errcheck // best-effort CLI output
	}

	return 0
}

func cmdGet(cfg Config, out, errOut *os.File, args []string) int {
	if len(args) < 1 {
		fprintln(errOut, "usage: diskcache-inspect get <key> [slot]")

		return 1
	}

	slot := 0

	if len(args) >= 2 {
		n, err := parseSlot(args[1])
		if err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		slot = n
	}

	return withCache(cfg, errOut, func(cache *diskcache.Cache) int {
		return doGet(cache, cfg.ValueCount, args[0], slot, out, errOut)
	})
}

func doGet(cache *diskcache.Cache, valueCount int, key string, slot int, out, errOut io.Writer) int {
	snap, err := cache.Get(key)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if snap == nil {
		fprintln(errOut, "not found:", key)

		return 1
	}

	defer snap.Close() //nolint:errcheck // best-effort after streaming the value

	if slot < 0 || slot >= valueCount {
		fprintln(errOut, "error: slot out of range")

		return 1
	}

	if _, err := io.Copy(out, snap.Source(slot)); err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

func cmdRm(cfg Config, out, errOut *os.File, args []string) int {
	if len(args) < 1 {
		fprintln(errOut, "usage: diskcache-inspect rm <key>")

		return 1
	}

	return withCache(cfg, errOut, func(cache *diskcache.Cache) int {
		return doRm(cache, args[0], out, errOut)
	})
}

func doRm(cache *diskcache.Cache, key string, out, errOut io.Writer) int {
	existed, err := cache.Remove(key)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if !existed {
		fprintln(errOut, "not found:", key)

		return 1
	}

	fprintln(out, "removed:", key)

	return 0
}

func cmdSize(cfg Config, out, errOut *os.File, _ []string) int {
	return withCache(cfg, errOut, func(cache *diskcache.Cache) int {
		return doSize(cache, out, errOut)
	})
}

func doSize(cache *diskcache.Cache, out, errOut io.Writer) int {
	size, err := cache.Size()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	fprintln(out, size)

	return 0
}

func cmdGC(cfg Config, out, errOut *os.File, _ []string) int {
	return withCache(cfg, errOut, func(cache *diskcache.Cache) int {
		return doGC(cache, out, errOut)
	})
}

func doGC(cache *diskcache.Cache, out, errOut io.Writer) int {
	if err := cache.EvictAll(); err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	fprintln(out, "evicted all entries")

	return 0
}

func parseSlot(s string) (int, error) {
	var n int

	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid slot index %q", s)
	}

	return n, nil
}
