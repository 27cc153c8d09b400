package temptracker

import (
	"testing"
	"time"

	"github.com/fileforge/atomix/internal/fsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTrackerCreateTempAndPromote(t *testing.T) {
	fsys := fsx.NewMemFS()
	tr := New(fsys, ".atomix.tmp.", "")

	rec, err := tr.CreateTemp("/dest", "/dest/a.txt", time.Minute)
	require.NoError(t, err)
	assert.Len(t, tr.ListActive(), 1)

	require.NoError(t, tr.Promote(rec.OperationID, "/dest/a.txt"))
	assert.Empty(t, tr.ListActive())
}

func TestTrackerCleanup(t *testing.T) {
	fsys := fsx.NewMemFS()
	tr := New(fsys, ".atomix.tmp.", "")

	rec, err := tr.CreateTemp("/dest", "/dest/a.txt", time.Minute)
	require.NoError(t, err)

	require.NoError(t, tr.Cleanup(rec.OperationID))
	_, statErr := fsys.Stat(rec.TempPath)
	assert.Error(t, statErr)
	assert.Empty(t, tr.ListActive())
}

func TestTrackerCleanupAbandoned(t *testing.T) {
	fsys := fsx.NewMemFS()
	tr := New(fsys, ".atomix.tmp.", "")

	rec, err := tr.CreateTemp("/dest", "/dest/a.txt", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	count := tr.CleanupAbandoned(0)
	assert.Equal(t, 1, count)
	_, statErr := fsys.Stat(rec.TempPath)
	assert.Error(t, statErr)
}

func TestTrackerCleanupStaleFindsUntrackedOrphans(t *testing.T) {
	fsys := fsx.NewMemFS()
	tr := New(fsys, ".atomix.tmp.", "")

	require.NoError(t, fsys.MkdirAll("/dest", 0o755))
	f, err := fsys.Create("/dest/.atomix.tmp.orphan")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	count := tr.CleanupStale("/dest", 0)
	assert.Equal(t, 1, count)
	_, statErr := fsys.Stat("/dest/.atomix.tmp.orphan")
	assert.Error(t, statErr)
}

func TestTrackerShutdownRefusesNewCreatesAndCleansUpTracked(t *testing.T) {
	fsys := fsx.NewMemFS()
	tr := New(fsys, ".atomix.tmp.", "")

	rec, err := tr.CreateTemp("/dest", "/dest/a.txt", time.Minute)
	require.NoError(t, err)

	tr.Shutdown()

	_, statErr := fsys.Stat(rec.TempPath)
	assert.Error(t, statErr)

	_, err = tr.CreateTemp("/dest", "/dest/b.txt", time.Minute)
	assert.Error(t, err)
}

func TestTrackerBackgroundSweepStopsCleanlyOnShutdown(t *testing.T) {
	fsys := fsx.NewMemFS()
	tr := New(fsys, ".atomix.tmp.", "")
	tr.sweepInterval = time.Millisecond

	tr.StartBackgroundSweep("/dest", time.Hour)
	time.Sleep(5 * time.Millisecond)
	tr.Shutdown()
}
