package diskcache

import "regexp"

// keyPattern is the on-disk key contract (§4.6 of the design): keys appear
// verbatim in journal records and file names, so the character set is
// deliberately narrow and must never be relaxed for an existing cache
// directory to remain readable by older code.
var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

// validateKey reports whether key is a legal cache key, returning
// [ErrIllegalArgument] wrapped for the named operation if not.
func validateKey(op, key string) error {
	if keyPattern.MatchString(key) {
		return nil
	}

	return wrap(op, key, ErrIllegalArgument)
}
