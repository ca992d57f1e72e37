package fs_test

import (
	"errors"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/diskcache/pkg/fs"
)

func deterministicRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestChaos_PassesThroughWithZeroConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{})

	path := filepath.Join(dir, "f.txt")

	err := chaos.WriteFile(path, []byte("hello"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := chaos.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestChaos_OpenFailRate_One_AlwaysFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{
		OpenFailRate: 1,
		Rand:         deterministicRand(1),
	})

	_, err := chaos.Create(filepath.Join(dir, "f.txt"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestChaos_WriteFailRate_One_AlwaysFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{
		WriteFailRate: 1,
		Rand:          deterministicRand(1),
	})

	err := chaos.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestChaos_PartialWriteRate_One_ReturnsShortWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{
		PartialWriteRate: 1,
		Rand:             deterministicRand(1),
	})

	f, err := chaos.Create(filepath.Join(dir, "f.txt"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	n, err := f.Write([]byte("0123456789"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err=%v, want io.ErrShortWrite", err)
	}

	if n >= 10 {
		t.Fatalf("n=%d, want a short write", n)
	}
}

func TestChaos_PartialReadRate_One_ReturnsShortRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	content := strings.Repeat("x", 100)

	err := fs.NewReal().WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{
		PartialReadRate: 1,
		Rand:            deterministicRand(1),
	})

	f, err := chaos.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 100)

	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if n >= 100 {
		t.Fatalf("n=%d, want a short read", n)
	}
}

func TestChaos_SyncFailRate_One_AlwaysFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{
		SyncFailRate: 1,
		Rand:         deterministicRand(1),
	})

	f, err := chaos.Create(filepath.Join(dir, "f.txt"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Sync(); err == nil {
		t.Fatalf("expected Sync error, got nil")
	}
}

func TestChaos_RenameFailRate_One_AlwaysFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{
		RenameFailRate: 1,
		Rand:           deterministicRand(1),
	})

	src := filepath.Join(dir, "a.txt")

	err := fs.NewReal().WriteFile(src, []byte("x"), 0o644)
	if err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	err = chaos.Rename(src, filepath.Join(dir, "b.txt"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestChaos_SetConfig_ChangesRatesAtRuntime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{Rand: deterministicRand(1)})

	path := filepath.Join(dir, "f.txt")

	if err := chaos.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile before SetConfig: %v", err)
	}

	chaos.SetConfig(fs.ChaosConfig{WriteFailRate: 1, Rand: deterministicRand(1)})

	if err := chaos.WriteFile(path, []byte("x"), 0o644); err == nil {
		t.Fatalf("expected error after SetConfig, got nil")
	}
}
