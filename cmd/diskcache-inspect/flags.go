package main

import (
	flag "github.com/spf13/pflag"
)

// parseGlobalFlags consumes the flags that precede the subcommand name
// (--dir, --app-version, --value-count, --max-size) and returns them plus
// the unparsed remainder (the subcommand and its own args).
func parseGlobalFlags(args []string) (globalFlagValues, []string, error) {
	fs := flag.NewFlagSet("diskcache-inspect", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() {}

	dir := fs.String("dir", "", "cache directory")
	appVersion := fs.Int("app-version", 0, "application version the journal header must match")
	valueCount := fs.Int("value-count", 0, "number of value slots per entry")
	maxSize := fs.Int64("max-size", 0, "byte cap for the cache")

	if err := fs.Parse(args); err != nil {
		return globalFlagValues{}, nil, err
	}

	return globalFlagValues{
		dir:        *dir,
		appVersion: *appVersion,
		valueCount: *valueCount,
		maxSize:    *maxSize,
	}, fs.Args(), nil
}
