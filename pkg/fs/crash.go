package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TempDirer is the minimal subset of *testing.T/*testing.B that [NewCrash]
// needs, kept tiny so this package never imports the testing package.
type TempDirer interface {
	TempDir() string
}

// Crash is a test-only [FS] that simulates crash consistency.
//
// Crash runs operations against a real on-disk working directory (so
// returned [File] values have real OS file descriptors), while tracking a
// separate in-memory durable snapshot: a file's bytes become durable only
// when [File.Sync] succeeds on that file's handle; a directory's current
// entries (names and, for plain files, their bytes) become durable only
// when [File.Sync] succeeds on an open handle to that directory. This
// mirrors the requirement that a rename needs its parent directory fsynced
// to survive a crash.
//
// [Crash.SimulateCrash] discards the working directory and re-materializes
// only the durable snapshot into a fresh one, simulating a power loss: any
// write, rename, or remove that was never fsynced is rolled back.
//
// Crash assumes a flat directory layout (no nested subdirectories need
// their own durability tracking), which matches this package's only
// consumer. It is not meant for production use.
type Crash struct {
	tb   TempDirer
	real FS

	mu      sync.Mutex
	workDir string
	files   map[string][]byte // durable snapshot: rel path -> contents
	dirs    map[string]bool   // durable snapshot: rel dir path -> exists
}

// NewCrash creates a [Crash] rooted at a fresh temp directory from tb.
func NewCrash(tb TempDirer, real FS) (*Crash, error) {
	if tb == nil {
		return nil, fmt.Errorf("fs: tb is nil")
	}

	if real == nil {
		return nil, fmt.Errorf("fs: real is nil")
	}

	return &Crash{
		tb:      tb,
		real:    real,
		workDir: tb.TempDir(),
		files:   map[string][]byte{},
		dirs:    map[string]bool{".": true},
	}, nil
}

// SimulateCrash rotates to a fresh working directory and restores only the
// durable snapshot, simulating a process crash or power loss.
func (c *Crash) SimulateCrash() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newDir := c.tb.TempDir()

	for rel := range c.dirs {
		if rel == "." {
			continue
		}

		err := c.real.MkdirAll(filepath.Join(newDir, rel), 0o750)
		if err != nil {
			return fmt.Errorf("fs: crash: recreate dir %q: %w", rel, err)
		}
	}

	for rel, data := range c.files {
		abs := filepath.Join(newDir, rel)

		err := c.real.MkdirAll(filepath.Dir(abs), 0o750)
		if err != nil {
			return fmt.Errorf("fs: crash: recreate parent of %q: %w", rel, err)
		}

		err = c.real.WriteFile(abs, data, 0o644)
		if err != nil {
			return fmt.Errorf("fs: crash: restore %q: %w", rel, err)
		}
	}

	c.workDir = newDir

	return nil
}

func (c *Crash) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(c.workDir, path)
}

func (c *Crash) rel(path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(c.workDir, abs)
	}

	r, err := filepath.Rel(c.workDir, abs)
	if err != nil {
		return abs
	}

	return r
}

func (c *Crash) wrap(path string, f File) File {
	return &crashFile{File: f, c: c, rel: c.rel(path)}
}

func (c *Crash) Open(path string) (File, error) {
	f, err := c.real.Open(c.abs(path))
	if err != nil {
		return nil, err
	}

	return c.wrap(path, f), nil
}

func (c *Crash) Create(path string) (File, error) {
	f, err := c.real.Create(c.abs(path))
	if err != nil {
		return nil, err
	}

	return c.wrap(path, f), nil
}

func (c *Crash) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := c.real.OpenFile(c.abs(path), flag, perm)
	if err != nil {
		return nil, err
	}

	return c.wrap(path, f), nil
}

func (c *Crash) ReadFile(path string) ([]byte, error) {
	return c.real.ReadFile(c.abs(path))
}

func (c *Crash) WriteFile(path string, data []byte, perm os.FileMode) error {
	return c.real.WriteFile(c.abs(path), data, perm)
}

func (c *Crash) ReadDir(path string) ([]os.DirEntry, error) {
	return c.real.ReadDir(c.abs(path))
}

func (c *Crash) MkdirAll(path string, perm os.FileMode) error {
	return c.real.MkdirAll(c.abs(path), perm)
}

func (c *Crash) Stat(path string) (os.FileInfo, error) {
	return c.real.Stat(c.abs(path))
}

func (c *Crash) Exists(path string) (bool, error) {
	return c.real.Exists(c.abs(path))
}

func (c *Crash) Remove(path string) error {
	return c.real.Remove(c.abs(path))
}

func (c *Crash) RemoveAll(path string) error {
	return c.real.RemoveAll(c.abs(path))
}

func (c *Crash) Rename(oldpath, newpath string) error {
	return c.real.Rename(c.abs(oldpath), c.abs(newpath))
}

var _ FS = (*Crash)(nil)

// crashFile wraps an open [File] created through [Crash] and records the
// durable snapshot update when [crashFile.Sync] succeeds.
type crashFile struct {
	File

	c   *Crash
	rel string
}

// Sync commits the file's current on-disk contents into the durable
// snapshot. If the handle is a directory, every entry currently present in
// that directory is snapshotted (file contents for plain files, existence
// for subdirectories), mirroring the real requirement that a directory
// fsync is what makes a rename or unlink durable.
func (f *crashFile) Sync() error {
	err := f.File.Sync()
	if err != nil {
		return err
	}

	info, statErr := os.Stat(f.c.abs(f.rel))
	if statErr != nil {
		return fmt.Errorf("fs: crash: stat %q for sync: %w", f.rel, statErr)
	}

	f.c.mu.Lock()
	defer f.c.mu.Unlock()

	if info.IsDir() {
		return f.c.snapshotDirLocked(f.rel)
	}

	data, readErr := os.ReadFile(f.c.abs(f.rel))
	if readErr != nil {
		return fmt.Errorf("fs: crash: read back %q for sync: %w", f.rel, readErr)
	}

	f.c.files[f.rel] = data

	return nil
}

// snapshotDirLocked records every current entry of rel (relative to workDir)
// into the durable snapshot. Callers must hold c.mu.
func (c *Crash) snapshotDirLocked(rel string) error {
	c.dirs[rel] = true

	entries, err := os.ReadDir(c.abs(rel))
	if err != nil {
		return fmt.Errorf("fs: crash: readdir %q for sync: %w", rel, err)
	}

	// Durable entries of rel that are gone now were renamed away or
	// unlinked; this sync makes that durable too.
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[filepath.Join(rel, entry.Name())] = true
	}

	for name := range c.files {
		if filepath.Dir(name) == rel && !present[name] {
			delete(c.files, name)
		}
	}

	for _, entry := range entries {
		entryRel := filepath.Join(rel, entry.Name())
		if entryRel == "." {
			entryRel = entry.Name()
		}

		if entry.IsDir() {
			c.dirs[entryRel] = true

			continue
		}

		data, readErr := os.ReadFile(c.abs(entryRel))
		if readErr != nil {
			return fmt.Errorf("fs: crash: read back %q for sync: %w", entryRel, readErr)
		}

		c.files[entryRel] = data
	}

	return nil
}

var _ File = (*crashFile)(nil)
