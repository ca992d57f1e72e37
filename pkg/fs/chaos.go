package fs

import (
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ChaosConfig controls fault injection probabilities.
//
// Each rate is a float64 from 0.0 (never) to 1.0 (always). The zero value
// disables all fault injection.
type ChaosConfig struct {
	// ReadFailRate controls how often File.Read fails entirely with EIO.
	ReadFailRate float64

	// PartialReadRate controls how often File.Read returns a short read
	// (n < len(p), err == nil), valid io.Reader behavior that exercises
	// callers that don't loop until EOF.
	PartialReadRate float64

	// WriteFailRate controls how often File.Write fails entirely (ENOSPC).
	WriteFailRate float64

	// PartialWriteRate controls how often File.Write writes only a prefix
	// of p before returning io.ErrShortWrite.
	PartialWriteRate float64

	// SyncFailRate controls how often File.Sync fails (EIO). A sync failure
	// can surface a write that was previously accepted without error.
	SyncFailRate float64

	// CloseFailRate controls how often File.Close reports EIO. The
	// underlying descriptor is always closed regardless.
	CloseFailRate float64

	// OpenFailRate controls how often FS.Open fails (EIO) and FS.Create/
	// FS.OpenFile fail (EDQUOT).
	OpenFailRate float64

	// RenameFailRate controls how often FS.Rename fails (EROFS).
	RenameFailRate float64

	// RemoveFailRate controls how often FS.Remove/FS.RemoveAll fail (EIO).
	RemoveFailRate float64

	// StatFailRate controls how often FS.Stat/FS.Exists fail (EIO).
	StatFailRate float64

	// Rand supplies randomness. Defaults to a new fixed-seed PCG source if nil.
	Rand *rand.Rand
}

// Chaos wraps an [FS] and injects faults according to [ChaosConfig].
//
// Chaos is safe for concurrent use. It is a thin pass-through for every
// operation the config doesn't target, so it can wrap [Real] in tests without
// changing behavior until a fault rate is set above zero.
type Chaos struct {
	fs  FS
	mu  sync.Mutex
	cfg ChaosConfig
}

// NewChaos wraps fs with fault injection governed by cfg.
func NewChaos(fsys FS, cfg ChaosConfig) *Chaos {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(1, 2))
	}

	return &Chaos{fs: fsys, cfg: cfg}
}

// SetConfig atomically replaces the fault injection configuration.
func (c *Chaos) SetConfig(cfg ChaosConfig) {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(1, 2))
	}

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Chaos) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg.Rand.Float64() < rate
}

// These use golang.org/x/sys/unix rather than the syscall package so the
// injected errno values are guaranteed portable across the unix platforms
// this cache runs on, instead of depending on whatever subset of errno
// names the standard library's syscall package happens to expose per-GOOS.
func eio() error { return &os.PathError{Op: "chaos", Err: unix.EIO} }

func enospc() error { return &os.PathError{Op: "chaos", Err: unix.ENOSPC} }

// edquot simulates a per-user/group quota being exceeded, a common real
// cause of an open/create failing even though the filesystem itself has
// free space.
func edquot() error { return &os.PathError{Op: "chaos", Err: unix.EDQUOT} }

// erofs simulates the filesystem having been remounted read-only underneath
// the process, a realistic cause of a rename suddenly failing mid-rebuild.
func erofs(oldpath, newpath string) error {
	return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: unix.EROFS}
}

func (c *Chaos) Open(path string) (File, error) {
	if c.roll(c.cfg.OpenFailRate) {
		return nil, eio()
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) Create(path string) (File, error) {
	if c.roll(c.cfg.OpenFailRate) {
		return nil, edquot()
	}

	f, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.roll(c.cfg.OpenFailRate) {
		return nil, edquot()
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.roll(c.cfg.ReadFailRate) {
		return nil, eio()
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	if c.roll(c.cfg.WriteFailRate) {
		return enospc()
	}

	return c.fs.WriteFile(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) { return c.fs.ReadDir(path) }

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.fs.MkdirAll(path, perm) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.roll(c.cfg.StatFailRate) {
		return nil, eio()
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if c.roll(c.cfg.StatFailRate) {
		return false, eio()
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if c.roll(c.cfg.RemoveFailRate) {
		return eio()
	}

	return c.fs.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	if c.roll(c.cfg.RemoveFailRate) {
		return eio()
	}

	return c.fs.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.roll(c.cfg.RenameFailRate) {
		return erofs(oldpath, newpath)
	}

	return c.fs.Rename(oldpath, newpath)
}

var _ FS = (*Chaos)(nil)

// chaosFile wraps an open [File] and injects faults on Read/Write/Sync/Close.
type chaosFile struct {
	File

	c *Chaos
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if f.c.roll(f.c.cfg.ReadFailRate) {
		return 0, eio()
	}

	if f.c.roll(f.c.cfg.PartialReadRate) && len(p) > 1 {
		half := len(p)/2 + 1
		n, err := f.File.Read(p[:half])

		return n, err
	}

	return f.File.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.c.roll(f.c.cfg.WriteFailRate) {
		return 0, enospc()
	}

	if f.c.roll(f.c.cfg.PartialWriteRate) && len(p) > 1 {
		half := len(p) / 2

		n, err := f.File.Write(p[:half])
		if err != nil {
			return n, err
		}

		return n, io.ErrShortWrite
	}

	return f.File.Write(p)
}

func (f *chaosFile) Sync() error {
	if f.c.roll(f.c.cfg.SyncFailRate) {
		return eio()
	}

	return f.File.Sync()
}

func (f *chaosFile) Close() error {
	closeErr := f.File.Close()

	if f.c.roll(f.c.cfg.CloseFailRate) {
		return errors.Join(closeErr, eio())
	}

	return closeErr
}

var _ File = (*chaosFile)(nil)
