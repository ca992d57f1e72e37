package diskcache

import (
	"container/list"
	"fmt"
	"path/filepath"
)

// entryState names a position in the per-entry state machine (§4.7).
type entryState uint8

const (
	stateUnborn entryState = iota
	stateDirtyNew
	stateClean
	stateDirtyUpdate
	stateZombie
	stateDead
)

func (s entryState) String() string {
	switch s {
	case stateUnborn:
		return "unborn"
	case stateDirtyNew:
		return "dirty-new"
	case stateClean:
		return "clean"
	case stateDirtyUpdate:
		return "dirty-update"
	case stateZombie:
		return "zombie"
	case stateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// entry is one cache key's metadata: the engine's in-memory projection of
// what the journal says about that key, plus the live reference counts that
// the journal knows nothing about.
type entry struct {
	key     string
	lengths []int64 // one per value slot, valid when readable

	readable bool
	zombie   bool
	state    entryState

	currentEditor *Editor

	// lockingSourceCount counts open value-file handles held by live
	// Snapshots against this entry (incremented once per opened slot,
	// decremented once per closed slot — see Cache.Get and Snapshot.Close).
	lockingSourceCount int

	// sequenceNumber increments on every commit. Snapshot.Edit uses it to
	// detect that the entry changed since the snapshot was taken.
	sequenceNumber int64
}

func newEntry(key string, valueCount int) *entry {
	return &entry{key: key, lengths: make([]int64, valueCount), state: stateUnborn}
}

// cleanFilePath returns "<dir>/<key>.<i>", the durable value file for slot i.
func (e *entry) cleanFilePath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d", e.key, i))
}

// dirtyFilePath returns "<dir>/<key>.<i>.tmp", the in-progress value file
// for slot i during an edit.
func (e *entry) dirtyFilePath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.tmp", e.key, i))
}

func (e *entry) totalLength() int64 {
	var total int64
	for _, n := range e.lengths {
		total += n
	}

	return total
}

// entryTable is the insertion-ordered key -> *entry map that doubles as the
// cache's LRU list: front is least recently used, back is most recently
// used. It is not safe for concurrent use; callers hold the engine monitor.
type entryTable struct {
	byKey map[string]*list.Element
	order *list.List
}

func newEntryTable() *entryTable {
	return &entryTable{byKey: make(map[string]*list.Element), order: list.New()}
}

func (t *entryTable) get(key string) (*entry, bool) {
	el, ok := t.byKey[key]
	if !ok {
		return nil, false
	}

	return el.Value.(*entry), true //nolint:forcetypeassert
}

// put inserts e if key is new, or moves an existing key's entry to the
// tail (MRU position) — every successful insert or commit is a promotion.
func (t *entryTable) put(e *entry) {
	if el, ok := t.byKey[e.key]; ok {
		el.Value = e
		t.order.MoveToBack(el)

		return
	}

	t.byKey[e.key] = t.order.PushBack(e)
}

// promote moves an existing key to the tail (MRU position). No-op if key
// isn't present.
func (t *entryTable) promote(key string) {
	if el, ok := t.byKey[key]; ok {
		t.order.MoveToBack(el)
	}
}

func (t *entryTable) delete(key string) {
	el, ok := t.byKey[key]
	if !ok {
		return
	}

	t.order.Remove(el)
	delete(t.byKey, key)
}

// front returns the least-recently-used entry.
func (t *entryTable) front() (*entry, bool) {
	el := t.order.Front()
	if el == nil {
		return nil, false
	}

	return el.Value.(*entry), true //nolint:forcetypeassert
}

func (t *entryTable) len() int { return t.order.Len() }

// snapshotKeys returns a copy of every key currently in the table, in LRU
// order, for callers that need a stable iteration set (Cache.Snapshots,
// EvictAll, Close, trimming, journal replay and rebuild).
func (t *entryTable) snapshotKeys() []string {
	keys := make([]string, 0, t.order.Len())

	for el := t.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key) //nolint:forcetypeassert
	}

	return keys
}
