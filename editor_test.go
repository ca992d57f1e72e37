package diskcache_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	diskcache "github.com/calvinalkan/diskcache"
	"github.com/calvinalkan/diskcache/internal/scheduler"
	"github.com/calvinalkan/diskcache/pkg/fs"
)

func Test_Editor_Commit_Twice_Is_IllegalState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := diskcache.Open(fs.NewReal(), dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	sink, err := ed.NewSink(0)
	require.NoError(t, err)
	_, _ = sink.Write([]byte("x"))
	require.NoError(t, sink.Close())

	require.NoError(t, ed.Commit())

	err = ed.Commit()
	require.Error(t, err)
	require.True(t, errors.Is(err, diskcache.ErrIllegalState))
}

func Test_Editor_Abort_Twice_Is_IllegalState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := diskcache.Open(fs.NewReal(), dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)
	require.NoError(t, ed.Abort())

	err = ed.Abort()
	require.Error(t, err)
	require.True(t, errors.Is(err, diskcache.ErrIllegalState))
}

func Test_Editor_Commit_New_Entry_Missing_Slot_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := diskcache.Open(fs.NewReal(), dir, 1, 2, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	sink, err := ed.NewSink(0)
	require.NoError(t, err)
	_, _ = sink.Write([]byte("x"))
	require.NoError(t, sink.Close())

	err = ed.Commit()
	require.Error(t, err)
	require.True(t, errors.Is(err, diskcache.ErrIllegalState))

	_, ok := readAll(t, c, "k1", 2)
	require.False(t, ok, "a failed creation-commit must not leave a readable entry")
}

func Test_Editor_NewSource_Falls_Back_To_Previous_Value(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := diskcache.Open(fs.NewReal(), dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	set(t, c, "k1", "old-value")

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	src, err := ed.NewSource(0)
	require.NoError(t, err)
	require.NotNil(t, src)

	b, err := io.ReadAll(src)
	require.NoError(t, err)
	require.Equal(t, "old-value", string(b))
	require.NoError(t, src.Close())

	require.NoError(t, ed.Abort())
}

func Test_Editor_NewSource_Nil_For_Brand_New_Entry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := diskcache.Open(fs.NewReal(), dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	src, err := ed.NewSource(0)
	require.NoError(t, err)
	require.Nil(t, src)

	require.NoError(t, ed.Abort())
}

func Test_Remove_Detaches_InFlight_Editor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	c, err := diskcache.Open(fsys, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	set(t, c, "k1", "v1")

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	sink, err := ed.NewSink(0)
	require.NoError(t, err)

	existed, err := c.Remove("k1")
	require.NoError(t, err)
	require.True(t, existed)

	// Writes after detach are silently discarded, never error.
	_, err = sink.Write([]byte("ignored"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.NoError(t, ed.Commit())

	_, ok := readAll(t, c, "k1", 1)
	require.False(t, ok, "a detached editor's commit must not resurrect the removed entry")
}

// Test_Detached_Editor_Commit_Preserves_Files_Held_By_Open_Snapshot covers
// the race where a Snapshot is already open on a key when an Editor for
// that same key is detached by a Remove: the detached editor's eventual
// Commit must not force-delete files the Snapshot still owns, only the
// zombie bookkeeping that releases them once the Snapshot closes.
func Test_Detached_Editor_Commit_Preserves_Files_Held_By_Open_Snapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	c, err := diskcache.Open(fsys, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	set(t, c, "k1", "v1")

	snap, err := c.Get("k1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	existed, err := c.Remove("k1")
	require.NoError(t, err)
	require.True(t, existed)

	require.NoError(t, ed.Commit())

	// The zombie's files must still be on disk and readable through the
	// Snapshot taken before the remove/detach raced the edit.
	b, err := io.ReadAll(snap.Source(0))
	require.NoError(t, err)
	require.Equal(t, "v1", string(b))

	require.NoError(t, snap.Close())

	_, err = fsys.Stat(filepath.Join(dir, "k1.0"))
	require.True(t, errors.Is(err, os.ErrNotExist), "zombie files must be deleted once the last Snapshot closes")
}

// Test_Detached_Editor_Abort_Preserves_Files_Held_By_Open_Snapshot is the
// Abort counterpart of Test_Detached_Editor_Commit_Preserves_Files_Held_By_Open_Snapshot.
func Test_Detached_Editor_Abort_Preserves_Files_Held_By_Open_Snapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	c, err := diskcache.Open(fsys, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	set(t, c, "k1", "v1")

	snap, err := c.Get("k1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	existed, err := c.Remove("k1")
	require.NoError(t, err)
	require.True(t, existed)

	require.NoError(t, ed.Abort())

	b, err := io.ReadAll(snap.Source(0))
	require.NoError(t, err)
	require.Equal(t, "v1", string(b))

	require.NoError(t, snap.Close())

	_, err = fsys.Stat(filepath.Join(dir, "k1.0"))
	require.True(t, errors.Is(err, os.ErrNotExist), "zombie files must be deleted once the last Snapshot closes")
}

func Test_Editor_NewSink_Called_Twice_Overwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := diskcache.Open(fs.NewReal(), dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	sink1, err := ed.NewSink(0)
	require.NoError(t, err)
	_, _ = sink1.Write([]byte("first"))
	require.NoError(t, sink1.Close())

	sink2, err := ed.NewSink(0)
	require.NoError(t, err)
	_, _ = sink2.Write([]byte("second"))
	require.NoError(t, sink2.Close())

	require.NoError(t, ed.Commit())

	got, ok := readAll(t, c, "k1", 1)
	require.True(t, ok)
	require.Equal(t, "second", got[0])
}
