package diskcache

import (
	"github.com/calvinalkan/diskcache/pkg/fs"
)

// Snapshot is a short-lived, consistent reader over one Entry's N value
// slots at the moment [Cache.Get] was called, returned by that call.
// Multiple Snapshots per entry may coexist, and a Snapshot continues to
// yield its original bytes even if a concurrent edit commits a new version
// of the same key: it holds its own open handles to the clean files that
// existed when it was taken, and a rename-on-commit republishes the name
// without disturbing an already-open file.
type Snapshot struct {
	cache   *Cache
	key     string
	entry   *entry
	sources []fs.File
	lengths []int64
	seq     int64

	closed bool
}

// Key returns the cache key this snapshot was opened for.
func (s *Snapshot) Key() string { return s.key }

// Source returns the open source for value slot i. Repeated calls for the
// same index return the same handle, so a caller reading slot i twice
// always sees the same bytes from the same position onward.
func (s *Snapshot) Source(i int) Source {
	return s.sources[i]
}

// Length returns the byte length of slot i captured at snapshot time.
func (s *Snapshot) Length(i int) int64 {
	return s.lengths[i]
}

// Edit is shorthand for Cache.Edit(key, sequence), where sequence is the
// entry's version at the moment this snapshot was taken. It succeeds only
// if the entry hasn't been committed again since.
func (s *Snapshot) Edit() (*Editor, error) {
	return s.cache.Edit(s.key, s.seq)
}

// Close closes every open source and releases this snapshot's hold on the
// entry's files. If the entry was removed while this snapshot was open (it
// became a zombie) and this was the last outstanding hold, Close deletes
// the entry's residual files.
func (s *Snapshot) Close() error {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	if s.closed {
		return wrap("Close", s.key, ErrIllegalState)
	}

	s.closed = true

	var firstErr error

	for _, src := range s.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.cache.releaseSnapshotLocked(s.entry, len(s.sources))

	return wrap("Close", s.key, firstErr)
}
