package diskcache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/calvinalkan/diskcache/internal/journal"
	"github.com/calvinalkan/diskcache/pkg/fs"
)

// Sink is a byte sink for one value slot of an in-progress edit. Sink
// satisfies [io.Writer] and [io.Closer]; closing is optional from the
// caller's point of view — [Editor.Commit] and [Editor.Abort] sync and
// close any sink the caller left open — but closing early frees the
// underlying file descriptor sooner.
//
// If the editor backing this Sink is detached (see [Editor.detach]), Write
// and Close silently discard: the sink becomes a black hole, matching §9's
// "black-hole sinks after editor detach" pattern.
type Sink interface {
	io.Writer
	io.Closer
}

// Source is a byte source over an already-open value file, positioned at
// the start. Satisfies [io.Reader] and [io.Closer].
type Source interface {
	io.Reader
	io.Closer
}

// Editor is a short-lived exclusive writer for one cache entry's N value
// slots, returned by [Cache.Edit]. At most one Editor exists per entry at a
// time. An Editor is inoperable after [Editor.Commit] or [Editor.Abort]
// returns; any further call fails with [ErrIllegalState].
type Editor struct {
	cache       *Cache
	entry       *entry
	wasReadable bool

	done     bool
	detached atomic.Bool

	sinkFiles []fs.File // nil until NewSink(i) is called; cleared when closed
	written   []bool
}

func newEditor(c *Cache, e *entry, wasReadable bool) *Editor {
	return &Editor{
		cache:       c,
		entry:       e,
		wasReadable: wasReadable,
		sinkFiles:   make([]fs.File, c.valueCount),
		written:     make([]bool, c.valueCount),
	}
}

// NewSink returns a byte sink that truncates and writes to value slot
// index's dirty file. Calling NewSink twice for the same index returns a
// fresh sink backed by a fresh (re-truncated) file; the first sink's
// underlying file is closed.
func (ed *Editor) NewSink(index int) (Sink, error) {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()

	if ed.done {
		return nil, wrap("NewSink", ed.entry.key, ErrIllegalState)
	}

	if index < 0 || index >= ed.cache.valueCount {
		return nil, wrap("NewSink", ed.entry.key, fmt.Errorf("%w: slot index %d out of range", ErrIllegalArgument, index))
	}

	if ed.detached.Load() {
		return discardSink{}, nil
	}

	if ed.sinkFiles[index] != nil {
		_ = ed.sinkFiles[index].Close()
		ed.sinkFiles[index] = nil
	}

	path := ed.entry.dirtyFilePath(ed.cache.dir, index)

	f, err := ed.cache.fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, wrap("NewSink", ed.entry.key, fmt.Errorf("%w: %w", ErrIO, err))
	}

	ed.sinkFiles[index] = f
	ed.written[index] = true

	return &fileSink{f: f, ed: ed, index: index}, nil
}

// NewSource returns a byte source over the current (pre-edit) clean file
// for index, letting the caller fall back to the previous value while an
// update is in progress. Returns (nil, nil) if the entry has no previous
// committed version (a creation, not an update) or the clean file is
// missing.
func (ed *Editor) NewSource(index int) (Source, error) {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()

	if ed.done {
		return nil, wrap("NewSource", ed.entry.key, ErrIllegalState)
	}

	if index < 0 || index >= ed.cache.valueCount {
		return nil, wrap("NewSource", ed.entry.key, fmt.Errorf("%w: slot index %d out of range", ErrIllegalArgument, index))
	}

	if !ed.wasReadable {
		return nil, nil
	}

	path := ed.entry.cleanFilePath(ed.cache.dir, index)

	f, err := ed.cache.fsys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, wrap("NewSource", ed.entry.key, fmt.Errorf("%w: %w", ErrIO, err))
	}

	return f, nil
}

// Commit finalizes the edit: dirty files with a written sink are renamed
// over their clean files; slots without a sink retain the previous clean
// file and length (legal only for an update, never for a brand new entry).
// Commit emits a CLEAN journal record, updates LRU order, updates the
// cache's tracked size, and schedules a trim.
//
// If the Editor was detached (the engine raced this edit with a
// remove/evictAll), Commit discards everything written and behaves like
// Abort of an orphan: it deletes all files (unless an open Snapshot still
// holds them, in which case they go when it closes) and emits REMOVE instead.
func (ed *Editor) Commit() error {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()

	if ed.done {
		return wrap("Commit", ed.entry.key, ErrIllegalState)
	}

	ed.done = true

	closeErr := ed.closeOpenSinksLocked()

	c := ed.cache
	e := ed.entry

	if ed.detached.Load() {
		e.currentEditor = nil
		c.table.delete(e.key)

		// Mirror removeEntryLocked's zombie guard: a Snapshot opened before
		// the detach may still hold this entry's files open, in which case
		// they must persist until that Snapshot closes rather than being
		// force-deleted out from under it.
		if e.lockingSourceCount > 0 {
			e.zombie = true
			e.state = stateZombie
		} else {
			c.deleteEntryFilesLocked(e)
			e.state = stateDead
		}

		_ = c.appendJournalLocked(true, journal.EncodeRemove(e.key))
		c.scheduleTrimLocked()

		return wrap("Commit", e.key, closeErr)
	}

	if closeErr != nil {
		e.currentEditor = nil
		ed.abortFilesLocked()

		if !ed.wasReadable {
			c.table.delete(e.key)
		}

		return wrap("Commit", e.key, fmt.Errorf("%w: %w", ErrIO, closeErr))
	}

	newLengths := make([]int64, c.valueCount)

	for i := range c.valueCount {
		if ed.written[i] {
			dirtyPath := e.dirtyFilePath(c.dir, i)
			cleanPath := e.cleanFilePath(c.dir, i)

			info, statErr := c.fsys.Stat(dirtyPath)
			if statErr != nil {
				e.currentEditor = nil
				ed.abortFilesLocked()

				if !ed.wasReadable {
					c.table.delete(e.key)
				}

				return wrap("Commit", e.key, fmt.Errorf("%w: slot %d: %w", ErrIO, i, statErr))
			}

			if renameErr := c.fsys.Rename(dirtyPath, cleanPath); renameErr != nil {
				e.currentEditor = nil

				return wrap("Commit", e.key, fmt.Errorf("%w: slot %d: %w", ErrIO, i, renameErr))
			}

			newLengths[i] = info.Size()

			continue
		}

		if !ed.wasReadable {
			e.currentEditor = nil
			ed.abortFilesLocked()
			c.table.delete(e.key)

			return wrap("Commit", e.key, fmt.Errorf("%w: missing value for slot %d", ErrIllegalState, i))
		}

		newLengths[i] = e.lengths[i]
	}

	// The renames above only survive a crash once the directory itself is
	// synced; do that before the CLEAN record makes them authoritative.
	dirFile, dirErr := c.fsys.Open(c.dir)
	if dirErr == nil {
		dirErr = errors.Join(dirFile.Sync(), dirFile.Close())
	}

	if dirErr != nil {
		e.currentEditor = nil

		return wrap("Commit", e.key, fmt.Errorf("%w: sync dir: %w", ErrIO, dirErr))
	}

	var prevContribution int64
	if ed.wasReadable {
		prevContribution = e.totalLength()
	}

	e.lengths = newLengths
	e.readable = true
	e.zombie = false
	e.state = stateClean
	e.sequenceNumber++
	e.currentEditor = nil

	c.size += e.totalLength() - prevContribution

	c.table.put(e)

	if journalErr := c.appendJournalLocked(true, journal.EncodeClean(e.key, newLengths)); journalErr != nil {
		c.markErroredLocked(journalErr)
	}

	c.scheduleTrimLocked()

	return nil
}

// Abort discards the edit: every dirty file is deleted. If the entry was
// never readable (this was a creation), the entry is dropped and a REMOVE
// record is emitted. Otherwise the entry keeps its previous clean state and
// a CLEAN record with the unchanged lengths is emitted, re-establishing
// recency.
func (ed *Editor) Abort() error {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()

	if ed.done {
		return wrap("Abort", ed.entry.key, ErrIllegalState)
	}

	ed.done = true

	_ = ed.closeOpenSinksLocked()
	ed.abortFilesLocked()

	c := ed.cache
	e := ed.entry
	e.currentEditor = nil

	if ed.detached.Load() {
		c.table.delete(e.key)

		// Mirror removeEntryLocked's zombie guard: a Snapshot opened before
		// the detach may still hold this entry's files open, in which case
		// they must persist until that Snapshot closes rather than being
		// force-deleted out from under it.
		if e.lockingSourceCount > 0 {
			e.zombie = true
			e.state = stateZombie
		} else {
			c.deleteEntryFilesLocked(e)
			e.state = stateDead
		}

		_ = c.appendJournalLocked(true, journal.EncodeRemove(e.key))
		c.scheduleTrimLocked()

		return nil
	}

	if !ed.wasReadable {
		c.table.delete(e.key)
		c.scheduleTrimLocked()

		return wrap("Abort", e.key, c.appendJournalLocked(true, journal.EncodeRemove(e.key)))
	}

	e.state = stateClean
	c.scheduleTrimLocked()

	return wrap("Abort", e.key, c.appendJournalLocked(true, journal.EncodeClean(e.key, e.lengths)))
}

// detach is called by the engine, under the cache monitor, when a
// remove/evictAll races with this still-open edit. Sinks already handed
// out (and any handed out afterward) become black holes; the eventual
// Commit is recognized as an orphan and behaves like an Abort that also
// removes any previously-committed files.
func (ed *Editor) detach() {
	ed.detached.Store(true)
}

func (ed *Editor) closeOpenSinksLocked() error {
	var errs []error

	for i, f := range ed.sinkFiles {
		if f == nil {
			continue
		}

		errs = append(errs, f.Sync(), f.Close())
		ed.sinkFiles[i] = nil
	}

	return errors.Join(errs...)
}

// abortFilesLocked deletes every dirty file for this edit, ignoring
// not-exist errors.
func (ed *Editor) abortFilesLocked() {
	for i := range ed.cache.valueCount {
		_ = ed.cache.fsys.Remove(ed.entry.dirtyFilePath(ed.cache.dir, i))
	}
}

// fileSink writes directly to an open dirty-file handle, bypassing the
// cache monitor: per the concurrency model, value I/O must not block other
// cache operations. detached is read without the monitor; Editor.detach
// flips it with a plain atomic store.
type fileSink struct {
	f     fs.File
	ed    *Editor
	index int
}

func (s *fileSink) Write(p []byte) (int, error) {
	if s.ed.detached.Load() {
		return len(p), nil
	}

	return s.f.Write(p)
}

func (s *fileSink) Close() error {
	if s.ed.detached.Load() {
		return nil
	}

	ed := s.ed

	ed.cache.mu.Lock()
	f := ed.sinkFiles[s.index]
	ed.sinkFiles[s.index] = nil
	ed.cache.mu.Unlock()

	if f == nil {
		// Already closed by Commit/Abort or a subsequent NewSink call.
		return nil
	}

	return errors.Join(f.Sync(), f.Close())
}

// discardSink is the black hole returned by NewSink once an Editor has
// been detached.
type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Close() error                { return nil }
