package diskcache_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	diskcache "github.com/calvinalkan/diskcache"
	"github.com/calvinalkan/diskcache/internal/scheduler"
	"github.com/calvinalkan/diskcache/pkg/fs"
)

// Test_Chaos_Edit_Surfaces_Write_Failures_Without_Corrupting_State verifies
// that a sink write failing under injected ENOSPC propagates to the caller
// instead of silently truncating the stored value, and that the entry never
// becomes readable as a result.
func Test_Chaos_Edit_Surfaces_Write_Failures_Without_Corrupting_State(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{})

	c, err := diskcache.Open(chaos, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	// Inject write failures only once the journal has its DIRTY record, so
	// the sink write is the one that fails, not the journal append.
	chaos.SetConfig(fs.ChaosConfig{WriteFailRate: 1})

	sink, err := ed.NewSink(0)
	require.NoError(t, err)

	_, writeErr := sink.Write([]byte("hello"))
	require.Error(t, writeErr, "a chaos-injected write failure must surface to the caller")

	chaos.SetConfig(fs.ChaosConfig{})

	require.NoError(t, sink.Close())
	require.NoError(t, ed.Abort())

	snap, err := c.Get("k1")
	require.NoError(t, err)
	require.Nil(t, snap, "an aborted edit must never become readable")
}

// Test_Chaos_Partial_Reads_Are_Still_Fully_Consumed_By_Callers verifies that
// a Source reader handles short reads (valid io.Reader behavior) correctly
// when drained with io.ReadAll, the way every caller in this repo drains it.
func Test_Chaos_Partial_Reads_Are_Still_Fully_Consumed_By_Callers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	real := fs.NewReal()

	c, err := diskcache.Open(real, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	ed, err := c.Edit("k1", -1)
	require.NoError(t, err)

	sink, err := ed.NewSink(0)
	require.NoError(t, err)
	_, err = sink.Write([]byte("the quick brown fox jumps over the lazy dog"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, ed.Commit())
	require.NoError(t, c.Close())

	chaos := fs.NewChaos(real, fs.ChaosConfig{PartialReadRate: 1})

	c2, err := diskcache.Open(chaos, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c2.Close() //nolint:errcheck // test cleanup

	snap, err := c2.Get("k1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	defer snap.Close() //nolint:errcheck // test cleanup

	b, err := io.ReadAll(snap.Source(0))
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox jumps over the lazy dog", string(b))
}

// Test_Chaos_Rename_Failure_During_Rebuild_Is_Reported verifies that a
// rebuild whose atomic rename is injected with a failure latches the
// engine's errored state rather than silently leaving a half-written journal.
func Test_Chaos_Rename_Failure_During_Rebuild_Is_Reported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{})
	sched := scheduler.NewFake()

	c, err := diskcache.Open(chaos, dir, 1, 1, 1<<20, sched)
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	set(t, c, "k1", "v1")

	// Only hits append READ records, so the reads must find an entry for the
	// redundant-op count to reach the rebuild threshold.
	for i := 0; i < 2100; i++ {
		_, ok := readAll(t, c, "k1", 1)
		require.True(t, ok)
	}

	chaos.SetConfig(fs.ChaosConfig{RenameFailRate: 1})
	sched.RunAll()
	chaos.SetConfig(fs.ChaosConfig{})

	require.True(t, c.Stats().Errored, "a failed rebuild must latch the errored state")

	// A failed rebuild must not wedge the cache: normal operations still
	// succeed afterwards even though the redundant-op count wasn't reduced.
	_, err = c.Get("k1")
	require.NoError(t, err)
}

// Test_Crash_Drops_Uncommitted_Dirty_Files_On_Reopen reproduces spec.md §8's
// "crash simulated by dropping the engine without close" scenario: a DIRTY
// entry whose journal record was fsynced but whose CLEAN record never was
// (because the process died mid-commit) must vanish on reopen, and its
// orphaned dirty file must be purged rather than served.
func Test_Crash_Drops_Uncommitted_Dirty_Files_On_Reopen(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal())
	require.NoError(t, err)

	c, err := diskcache.Open(crash, ".", 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	set(t, c, "committed", "durable-value")

	// Start a second edit but crash before it is ever committed, simulating
	// the process dying mid-write. The DIRTY journal record for it was
	// appended (and fsynced as part of the append path), and closing the
	// sink fsynced its dirty value file, but no CLEAN record ever followed,
	// so reopening must discard that file rather than serve it.
	ed, err := c.Edit("uncommitted", -1)
	require.NoError(t, err)

	sink, err := ed.NewSink(0)
	require.NoError(t, err)
	_, err = sink.Write([]byte("never-committed"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.NoError(t, crash.SimulateCrash())

	c2, err := diskcache.Open(crash, ".", 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c2.Close() //nolint:errcheck // test cleanup

	got, ok := readAll(t, c2, "committed", 1)
	require.True(t, ok, "a fully committed and synced entry must survive a crash")
	require.Equal(t, []string{"durable-value"}, got)

	snap, err := c2.Get("uncommitted")
	require.NoError(t, err)
	require.Nil(t, snap, "an entry that never completed a synced commit must not survive a crash")
}

// Test_Crash_With_Queued_Rebuild_Leaves_Previous_Journal_Readable verifies
// that a crash occurring after enough reads to queue a journal rebuild, but
// before that rebuild ever runs, leaves the cache able to recover from
// whatever journal state actually made it to durable storage.
func Test_Crash_With_Queued_Rebuild_Leaves_Previous_Journal_Readable(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal())
	require.NoError(t, err)

	sched := scheduler.NewFake()

	c, err := diskcache.Open(crash, ".", 1, 1, 1<<20, sched)
	require.NoError(t, err)

	set(t, c, "k1", "v1")

	for i := 0; i < 2100; i++ {
		_, err := c.Get("k1")
		require.NoError(t, err)
	}

	require.NoError(t, crash.SimulateCrash())

	c2, err := diskcache.Open(crash, ".", 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c2.Close() //nolint:errcheck // test cleanup

	got, ok := readAll(t, c2, "k1", 1)
	require.True(t, ok, "data committed before the queued rebuild ever ran must still be readable")
	require.Equal(t, []string{"v1"}, got)
}

func Test_Chaos_Wraps_Real_Transparently_When_Disabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), fs.ChaosConfig{})

	c, err := diskcache.Open(chaos, dir, 1, 1, 1<<20, scheduler.NewFake())
	require.NoError(t, err)

	defer c.Close() //nolint:errcheck // test cleanup

	set(t, c, "k1", "v1")

	got, ok := readAll(t, c, "k1", 1)
	require.True(t, ok)
	require.Equal(t, []string{"v1"}, got)
	require.False(t, errors.Is(err, diskcache.ErrIO))
}
