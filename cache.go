// Package diskcache implements a journaled, size-bounded, content-addressed
// on-disk LRU cache: a key maps to a fixed number of byte-slot "values",
// durably persisted as plain files, with an append-only journal recording
// DIRTY/CLEAN/REMOVE/READ events for crash recovery and LRU reconstruction.
//
// The engine ([Cache]) orchestrates two short-lived collaborators:
//   - [Editor], an exclusive writer for one entry's value slots, obtained
//     from [Cache.Edit] and finished with [Editor.Commit] or [Editor.Abort].
//   - [Snapshot], a consistent reader over one entry's value slots at a
//     point in time, obtained from [Cache.Get] and released with
//     [Snapshot.Close].
//
// The cache does not interpret the bytes it stores, does not implement any
// HTTP freshness policy, and assumes exclusive single-process access to its
// directory.
package diskcache

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/calvinalkan/diskcache/internal/journal"
	"github.com/calvinalkan/diskcache/internal/scheduler"
	"github.com/calvinalkan/diskcache/pkg/fs"
)

const (
	journalFileName       = "journal"
	journalBackupFileName = "journal.bkp"

	// rebuildMinThreshold is the floor of the "redundant ≥ max(2000,
	// liveEntryCount)" rebuild trigger. Preserved literally per the design's
	// open question: it has no significance beyond behavioral parity.
	rebuildMinThreshold = 2000
)

// Option configures a [Cache] at construction time.
type Option func(*Cache)

// WithMaxCount caps the number of live entries in addition to [Cache]'s
// byte-size cap. Zero (the default) means no count cap.
func WithMaxCount(n int64) Option {
	return func(c *Cache) { c.maxCount = n }
}

// WithAllowConcurrentReadWrite controls whether an edit may proceed while a
// Snapshot holds open readers on the same entry, and whether Get may open a
// Snapshot while an Editor is active on it (§5: "platforms whose
// filesystem semantics forbid opening a file for read while it is open for
// write by the same process"). Default true, matching platforms (Linux,
// macOS) where this is safe; set false to reproduce the stricter behavior.
func WithAllowConcurrentReadWrite(allow bool) Option {
	return func(c *Cache) { c.allowConcurrentReadWrite = allow }
}

// Cache is the engine: it owns the entry table, the journal writer, and the
// background scheduler, and exposes the public get/edit/remove operations.
// All exported methods acquire an internal monitor for their duration;
// value-slot I/O (Sink/Source reads and writes) happens outside it so large
// values can stream without blocking unrelated cache operations.
type Cache struct {
	fsys       fs.FS
	dir        string
	appVersion int
	valueCount int
	maxSize    int64
	maxCount   int64

	allowConcurrentReadWrite bool

	scheduler scheduler.Scheduler
	atomic    *fs.AtomicWriter

	mu sync.Mutex

	initialized bool
	closed      bool
	errored     bool
	trimFailed  bool

	table *entryTable
	size  int64

	journalFile  fs.File
	redundantOps int
}

// Open constructs a [Cache] over dir using fsys for all filesystem access.
// Initialization (creating the directory, reading or writing the journal,
// replaying it, computing size) is lazy: it happens on the first call that
// needs it, not here. sched runs the engine's background rebuild/trim
// tasks; pass [scheduler.NewFake] in tests for deterministic step-by-step
// execution, or nil to get a [scheduler.NewSerial].
func Open(fsys fs.FS, dir string, appVersion, valueCount int, maxSize int64, sched scheduler.Scheduler, opts ...Option) (*Cache, error) {
	if fsys == nil {
		return nil, wrap("Open", "", fmt.Errorf("%w: fsys is nil", ErrIllegalArgument))
	}

	if valueCount < 1 {
		return nil, wrap("Open", "", fmt.Errorf("%w: valueCount must be >= 1", ErrIllegalArgument))
	}

	if maxSize <= 0 {
		return nil, wrap("Open", "", fmt.Errorf("%w: maxSize must be > 0", ErrIllegalArgument))
	}

	if sched == nil {
		sched = scheduler.NewSerial()
	}

	c := &Cache{
		fsys:                     fsys,
		dir:                      filepath.Clean(dir),
		appVersion:               appVersion,
		valueCount:               valueCount,
		maxSize:                  maxSize,
		allowConcurrentReadWrite: true,
		scheduler:                sched,
		atomic:                   fs.NewAtomicWriter(fsys),
		table:                    newEntryTable(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Get looks up key and returns an open [Snapshot], or (nil, nil) if the key
// doesn't exist, was never committed, is a zombie (logically removed), or
// (when [WithAllowConcurrentReadWrite] is false) an Editor is active on it.
func (c *Cache) Get(key string) (*Snapshot, error) {
	if err := validateKey("Get", key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, wrap("Get", key, ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return nil, wrap("Get", key, err)
	}

	e, ok := c.table.get(key)
	if !ok || !e.readable || e.zombie {
		return nil, nil
	}

	if !c.allowConcurrentReadWrite && e.currentEditor != nil {
		return nil, nil
	}

	sources := make([]fs.File, 0, c.valueCount)

	for i := range c.valueCount {
		f, err := c.fsys.Open(e.cleanFilePath(c.dir, i))
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
				e.lockingSourceCount--
			}

			c.dropMissingEntryLocked(e)

			return nil, nil
		}

		sources = append(sources, f)
		e.lockingSourceCount++
	}

	lengths := append([]int64(nil), e.lengths...)

	c.table.promote(key)

	if journalErr := c.appendJournalLocked(false, journal.EncodeRead(key)); journalErr != nil {
		c.markErroredLocked(journalErr)
	}

	c.maybeScheduleRebuildLocked()

	return &Snapshot{cache: c, key: key, entry: e, sources: sources, lengths: lengths, seq: e.sequenceNumber}, nil
}

// Edit begins an exclusive write against key and returns an [Editor]. It
// fails with [ErrClosed] once the cache is closed. It returns (nil, nil) if
// the cache is errored or trim-failed, another Editor for key is
// already open, key is a zombie, expectedSequence is given (>= 0) and
// doesn't match the entry's current sequence number, or (when
// [WithAllowConcurrentReadWrite] is false) a Snapshot currently holds the
// entry open. Pass expectedSequence = -1 to skip the staleness check.
func (c *Cache) Edit(key string, expectedSequence int64) (*Editor, error) {
	if err := validateKey("Edit", key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, wrap("Edit", key, ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return nil, wrap("Edit", key, err)
	}

	// §7: a trim failure refuses new edits until a subsequent
	// flush/remove/evictAll succeeds and re-enables trimming.
	if c.errored || c.trimFailed {
		return nil, nil
	}

	e, exists := c.table.get(key)

	if expectedSequence >= 0 {
		if !exists || e.sequenceNumber != expectedSequence {
			return nil, nil
		}
	}

	if exists {
		if e.currentEditor != nil || e.zombie {
			return nil, nil
		}

		if !c.allowConcurrentReadWrite && e.lockingSourceCount > 0 {
			return nil, nil
		}
	} else {
		e = newEntry(key, c.valueCount)
		c.table.put(e)
	}

	wasReadable := e.readable

	if wasReadable {
		e.state = stateDirtyUpdate
	} else {
		e.state = stateDirtyNew
	}

	ed := newEditor(c, e, wasReadable)
	e.currentEditor = ed

	if err := c.appendJournalLocked(true, journal.EncodeDirty(key)); err != nil {
		e.currentEditor = nil

		if !wasReadable {
			c.table.delete(key)
		}

		c.markErroredLocked(err)

		return nil, nil
	}

	return ed, nil
}

// Remove deletes key's entry, reporting whether it existed. If an Editor
// for key is currently open, it is detached (see [Editor.detach]) rather
// than forcibly closed. If Snapshots currently hold the entry's files open,
// the entry becomes a zombie: dropped from the table but its files persist
// until the last Snapshot closes.
func (c *Cache) Remove(key string) (bool, error) {
	if err := validateKey("Remove", key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, wrap("Remove", key, ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return false, wrap("Remove", key, err)
	}

	e, ok := c.table.get(key)
	if !ok {
		return false, nil
	}

	if err := c.removeEntryLocked(e); err != nil {
		return true, wrap("Remove", key, err)
	}

	// A successful remove is one of the "subsequent flush/remove/evictAll
	// succeeds" events that re-enables trimming per spec.md §7.
	c.trimFailed = false

	return true, nil
}

// EvictAll removes every entry, in LRU order, using the same logic as
// [Cache.Remove].
func (c *Cache) EvictAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrap("EvictAll", "", ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return wrap("EvictAll", "", err)
	}

	for _, key := range c.table.snapshotKeys() {
		if e, ok := c.table.get(key); ok {
			if err := c.removeEntryLocked(e); err != nil {
				return wrap("EvictAll", key, err)
			}
		}
	}

	c.trimFailed = false

	return nil
}

// Size returns the current live (non-zombie) byte total.
func (c *Cache) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, wrap("Size", "", ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return 0, wrap("Size", "", err)
	}

	return c.size, nil
}

// SetMaxSize updates the byte cap and schedules a trim.
func (c *Cache) SetMaxSize(n int64) error {
	if n <= 0 {
		return wrap("SetMaxSize", "", fmt.Errorf("%w: maxSize must be > 0", ErrIllegalArgument))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrap("SetMaxSize", "", ErrClosed)
	}

	c.maxSize = n
	c.trimFailed = false
	c.scheduleTrimLocked()

	return nil
}

// Flush forces pending journal writes to durable storage and runs any
// pending trim synchronously.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrap("Flush", "", ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return wrap("Flush", "", err)
	}

	if c.journalFile != nil {
		if err := c.journalFile.Sync(); err != nil {
			c.markErroredLocked(err)

			return wrap("Flush", "", fmt.Errorf("%w: %w", ErrIO, err))
		}
	}

	if err := c.trimLocked(); err != nil {
		c.trimFailed = true

		return wrap("Flush", "", err)
	}

	c.trimFailed = false

	return nil
}

// Close completes in-flight edits (aborting brand-new, never-committed
// entries; leaving updates at their previous clean state), flushes and
// closes the journal. After Close, every other Cache method except
// [Cache.Stats] fails with [ErrClosed].
func (c *Cache) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	if c.initialized {
		for _, key := range c.table.snapshotKeys() {
			e, ok := c.table.get(key)
			if !ok || e.currentEditor == nil {
				continue
			}

			ed := e.currentEditor

			if ed.wasReadable {
				e.currentEditor = nil
				e.state = stateClean
				_ = c.appendJournalLocked(false, journal.EncodeClean(key, e.lengths))
			} else {
				c.table.delete(key)
				_ = c.appendJournalLocked(false, journal.EncodeRemove(key))
			}

			for i := range c.valueCount {
				_ = c.fsys.Remove(e.dirtyFilePath(c.dir, i))
			}

			ed.done = true
		}

		if c.journalFile != nil {
			_ = c.journalFile.Sync()
			_ = c.journalFile.Close()
			c.journalFile = nil
		}
	}

	c.closed = true

	// Close below blocks until any in-flight trim/rebuild task finishes, and
	// those tasks lock c.mu themselves (they check c.closed and return
	// immediately once set above), so the scheduler must be stopped with the
	// monitor released.
	c.mu.Unlock()

	c.scheduler.Close()

	return nil
}

// SnapshotIterator walks a captured-at-start set of keys, re-resolving each
// against the live table as it advances (see [Cache.Snapshots]).
type SnapshotIterator struct {
	cache   *Cache
	keys    []string
	pos     int
	lastKey string
}

// Next advances and opens the next live entry's Snapshot, skipping keys
// that have since been removed. Returns (nil, false) once the captured key
// set is exhausted.
func (it *SnapshotIterator) Next() (*Snapshot, bool) {
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		it.pos++

		snap, err := it.cache.Get(key)
		if err != nil || snap == nil {
			continue
		}

		it.lastKey = key

		return snap, true
	}

	return nil, false
}

// Remove deletes the entry most recently yielded by Next.
func (it *SnapshotIterator) Remove() (bool, error) {
	if it.lastKey == "" {
		return false, wrap("Remove", "", ErrIllegalState)
	}

	return it.cache.Remove(it.lastKey)
}

// Snapshots returns an iterator over a copy of the current key set, in LRU
// order. Concurrent insertions during iteration are not visible; concurrent
// removals are skipped; concurrent updates are visible with their new
// lengths (each key is re-resolved against the live table via Cache.Get).
func (c *Cache) Snapshots() (*SnapshotIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, wrap("Snapshots", "", ErrClosed)
	}

	if err := c.ensureInitLocked(); err != nil {
		return nil, wrap("Snapshots", "", err)
	}

	return &SnapshotIterator{cache: c, keys: c.table.snapshotKeys()}, nil
}

// Stats is a read-only snapshot of engine counters, exposed for monitoring
// and tests; it has no effect on cache behavior.
type Stats struct {
	EntryCount   int64
	Size         int64
	MaxSize      int64
	RedundantOps int64
	Errored      bool
	TrimFailed   bool
}

// Stats reports current engine counters without triggering initialization.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		EntryCount:   int64(c.table.len()),
		Size:         c.size,
		MaxSize:      c.maxSize,
		RedundantOps: int64(c.redundantOps),
		Errored:      c.errored,
		TrimFailed:   c.trimFailed,
	}
}

// removeEntryLocked implements the shared remove/evictAll/trim logic: an
// active editor is detached, files are deleted (or the entry is zombied if
// readers hold it open), a REMOVE record is emitted, and size is adjusted.
// The returned error is the journal append failure, if any; callers that
// drive trimming (trimLocked) propagate it so a trim failure is observable
// rather than silently swallowed.
func (c *Cache) removeEntryLocked(e *entry) error {
	if e.currentEditor != nil {
		e.currentEditor.detach()
		e.currentEditor = nil
	}

	if e.readable {
		c.size -= e.totalLength()
	}

	c.table.delete(e.key)

	if e.lockingSourceCount > 0 {
		e.zombie = true
		e.state = stateZombie
	} else {
		c.deleteEntryFilesLocked(e)
		e.state = stateDead
	}

	journalErr := c.appendJournalLocked(true, journal.EncodeRemove(e.key))
	if journalErr != nil {
		c.markErroredLocked(journalErr)
	}

	return journalErr
}

// dropMissingEntryLocked handles a clean file vanishing out from under the
// engine (external interference, which per §5 is undefined behavior the
// engine tolerates by treating the entry as gone).
func (c *Cache) dropMissingEntryLocked(e *entry) {
	if e.readable {
		c.size -= e.totalLength()
	}

	c.table.delete(e.key)
	c.deleteEntryFilesLocked(e)

	if journalErr := c.appendJournalLocked(true, journal.EncodeRemove(e.key)); journalErr != nil {
		c.markErroredLocked(journalErr)
	}
}

// releaseSnapshotLocked decrements e's reader count by n and, if it reaches
// zero while e is a zombie, deletes its residual files.
func (c *Cache) releaseSnapshotLocked(e *entry, n int) {
	e.lockingSourceCount -= n

	if e.zombie && e.lockingSourceCount <= 0 {
		c.deleteEntryFilesLocked(e)
		e.state = stateDead
	}
}

// deleteEntryFilesLocked removes every clean and dirty file that could
// exist for e, ignoring not-exist errors.
func (c *Cache) deleteEntryFilesLocked(e *entry) {
	for i := range c.valueCount {
		_ = c.fsys.Remove(e.cleanFilePath(c.dir, i))
		_ = c.fsys.Remove(e.dirtyFilePath(c.dir, i))
	}
}

func (c *Cache) markErroredLocked(err error) {
	if err != nil {
		c.errored = true
	}
}

// appendJournalLocked writes line to the open journal file. When sync is
// true (commit, remove, edit-begin), the write is fsynced before returning,
// matching §5's "journal appends ... must be flushed before returning
// control to callers that depend on durability". READ records pass
// sync=false.
func (c *Cache) appendJournalLocked(sync bool, line string) error {
	if c.journalFile == nil {
		return fmt.Errorf("%w: journal not open", ErrIO)
	}

	if _, err := c.journalFile.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: append journal: %w", ErrIO, err)
	}

	if sync {
		if err := c.journalFile.Sync(); err != nil {
			return fmt.Errorf("%w: sync journal: %w", ErrIO, err)
		}
	}

	c.redundantOps++

	return nil
}

func (c *Cache) maybeScheduleRebuildLocked() {
	threshold := rebuildMinThreshold
	if live := c.table.len(); live > threshold {
		threshold = live
	}

	if c.redundantOps >= threshold {
		c.scheduleRebuildLocked()
	}
}

func (c *Cache) scheduleRebuildLocked() {
	c.scheduler.Submit("rebuild", func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return
		}

		if err := c.rebuildLocked(); err != nil {
			c.markErroredLocked(err)
		} else {
			c.errored = false
		}
	})
}

func (c *Cache) scheduleTrimLocked() {
	c.scheduler.Submit("trim", func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return
		}

		if err := c.trimLocked(); err != nil {
			c.trimFailed = true
		} else {
			c.trimFailed = false
		}
	})
}

// trimLocked evicts least-recently-used entries while size or count exceeds
// the configured caps. An entry with a live editor is skipped — it remains
// in place until commit/abort, which re-triggers a trim. A failure evicting
// any entry aborts the trim and is returned so the caller can latch
// trimFailed (§7).
func (c *Cache) trimLocked() error {
	for _, key := range c.table.snapshotKeys() {
		if !c.overCapLocked() {
			break
		}

		e, ok := c.table.get(key)
		if !ok || e.currentEditor != nil {
			// An entry being edited stays in place; its commit or abort
			// re-triggers a trim.
			continue
		}

		if err := c.removeEntryLocked(e); err != nil {
			return err
		}
	}

	return nil
}

func (c *Cache) overCapLocked() bool {
	if c.size > c.maxSize {
		return true
	}

	if c.maxCount > 0 && int64(c.table.len()) > c.maxCount {
		return true
	}

	return false
}

// ensureInitLocked lazily opens (or creates) the cache directory and
// journal, replaying it into the in-memory table. Safe to call repeatedly:
// a failed attempt is retried on the next call.
func (c *Cache) ensureInitLocked() error {
	if c.initialized {
		return nil
	}

	if err := c.initLocked(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	c.initialized = true

	return nil
}

func (c *Cache) initLocked() error {
	if err := c.fsys.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	journalPath := filepath.Join(c.dir, journalFileName)
	backupPath := filepath.Join(c.dir, journalBackupFileName)

	if err := c.recoverBackupLocked(journalPath, backupPath); err != nil {
		return err
	}

	journalExists, err := c.fsys.Exists(journalPath)
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}

	table := newEntryTable()

	var (
		size         int64
		redundant    int
		needsRebuild bool
	)

	if journalExists {
		replayedTable, replayedSize, replayedRedundant, truncated, purge, err := c.replayJournalLocked(journalPath)
		if err != nil {
			return err
		}

		if purge {
			if err := c.purgeDirectoryLocked(); err != nil {
				return err
			}

			table = newEntryTable()
			size = 0
			redundant = 0
			needsRebuild = true
		} else {
			table = replayedTable
			size = replayedSize
			redundant = replayedRedundant
			needsRebuild = truncated
		}
	} else {
		needsRebuild = true
	}

	c.table = table
	c.size = size
	c.redundantOps = redundant
	c.errored = false
	c.trimFailed = false

	if needsRebuild {
		if err := c.rebuildLocked(); err != nil {
			return err
		}
	} else {
		f, err := c.fsys.OpenFile(journalPath, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open journal for append: %w", err)
		}

		c.journalFile = f
	}

	return nil
}

// recoverBackupLocked implements §4.1's "on open: if journal.bkp exists and
// journal does not, atomically rename backup to journal". A backup that
// exists alongside a live journal is a stray from an interrupted rebuild
// and is simply discarded; the live journal remains authoritative.
func (c *Cache) recoverBackupLocked(journalPath, backupPath string) error {
	backupExists, err := c.fsys.Exists(backupPath)
	if err != nil {
		return fmt.Errorf("stat journal backup: %w", err)
	}

	if !backupExists {
		return nil
	}

	journalExists, err := c.fsys.Exists(journalPath)
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}

	if !journalExists {
		return c.fsys.Rename(backupPath, journalPath)
	}

	return c.fsys.Remove(backupPath)
}

// replayJournalLocked reads the header and body of the journal at
// journalPath. purge=true means the header itself didn't match and the
// caller must purge the whole directory. truncated=true means the header
// matched but a body line was malformed or unterminated, and the caller
// should immediately rebuild to drop the garbage tail.
func (c *Cache) replayJournalLocked(journalPath string) (table *entryTable, size int64, redundant int, truncated, purge bool, err error) {
	f, err := c.fsys.Open(journalPath)
	if err != nil {
		return nil, 0, 0, false, false, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	if _, err := journal.ReadHeader(br, c.appVersion, c.valueCount); err != nil {
		return nil, 0, 0, false, true, nil
	}

	table = newEntryTable()
	dirtyPending := make(map[string]bool)

	total := 0

	scanner := journal.NewScanner(br, c.valueCount)
	for scanner.Next() {
		total++

		rec := scanner.Record()

		switch rec.Kind {
		case journal.Dirty:
			e, ok := table.get(rec.Key)
			if !ok {
				e = newEntry(rec.Key, c.valueCount)
				table.put(e)
			}

			dirtyPending[rec.Key] = true
		case journal.Clean:
			e, ok := table.get(rec.Key)
			if !ok {
				e = newEntry(rec.Key, c.valueCount)
			}

			e.lengths = rec.Lengths
			e.readable = true
			e.state = stateClean
			table.put(e)
			delete(dirtyPending, rec.Key)
		case journal.Remove:
			table.delete(rec.Key)
			delete(dirtyPending, rec.Key)
		case journal.Read:
			table.promote(rec.Key)
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		truncated = true
	}

	// An unresolved DIRTY record means the edit never reached a CLEAN or
	// REMOVE before the journal ended. Its dirty (temp) files are garbage
	// and are discarded; if the entry had no prior CLEAN record at all it
	// was a creation that never finished, so the entry itself is dropped.
	// If it did (an update that didn't finish), the previous clean files
	// and the CLEAN-record lengths already applied above stay authoritative.
	for key := range dirtyPending {
		e, ok := table.get(key)
		if !ok {
			continue
		}

		for i := range c.valueCount {
			_ = c.fsys.Remove(e.dirtyFilePath(c.dir, i))
		}

		if !e.readable {
			table.delete(key)
		}
	}

	for _, key := range table.snapshotKeys() {
		if e, ok := table.get(key); ok {
			size += e.totalLength()
		}
	}

	redundant = total - table.len()
	if redundant < 0 {
		redundant = 0
	}

	return table, size, redundant, truncated, false, nil
}

// purgeDirectoryLocked implements §4.1's "any mismatch ... causes the
// entire directory to be purged and a fresh journal written": every file
// directly under the cache directory is removed.
func (c *Cache) purgeDirectoryLocked() error {
	entries, err := c.fsys.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("purge: read dir: %w", err)
	}

	for _, de := range entries {
		if err := c.fsys.RemoveAll(filepath.Join(c.dir, de.Name())); err != nil {
			return fmt.Errorf("purge: remove %q: %w", de.Name(), err)
		}
	}

	return nil
}

// rebuildLocked rewrites the journal compactly: a backup file containing
// only the header plus one CLEAN line per readable entry and one DIRTY line
// per entry mid-edit, then atomically rename over the live journal.
func (c *Cache) rebuildLocked() error {
	journalPath := filepath.Join(c.dir, journalFileName)
	backupPath := filepath.Join(c.dir, journalBackupFileName)

	var body bytes.Buffer

	if err := journal.WriteHeader(&body, c.appVersion, c.valueCount); err != nil {
		return fmt.Errorf("rebuild: write header: %w", err)
	}

	for _, key := range c.table.snapshotKeys() {
		e, ok := c.table.get(key)
		if !ok {
			continue
		}

		switch {
		case e.currentEditor != nil:
			body.WriteString(journal.EncodeDirty(key))
		case e.readable:
			body.WriteString(journal.EncodeClean(key, e.lengths))
		}
	}

	if err := c.atomic.Write(backupPath, bytes.NewReader(body.Bytes()), c.atomic.DefaultOptions()); err != nil {
		return fmt.Errorf("rebuild: write backup: %w", err)
	}

	if c.journalFile != nil {
		_ = c.journalFile.Close()
		c.journalFile = nil
	}

	if err := c.fsys.Rename(backupPath, journalPath); err != nil {
		return fmt.Errorf("rebuild: rename backup over journal: %w", err)
	}

	f, err := c.fsys.OpenFile(journalPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("rebuild: reopen journal for append: %w", err)
	}

	c.journalFile = f
	c.redundantOps = 0

	return nil
}

