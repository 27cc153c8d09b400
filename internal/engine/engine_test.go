package engine

import (
	"context"
	"os"
	"testing"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/creator"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/writer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.NewEngineConfig(
		true, "", ".tmp-", ".tmp",
		30,
		false, false,
		64*1024, 3, 100,
		true, "", 5,
		false, "sha256",
		0,
		"/var/atomix/txn", true,
		1000, 1000,
		false, true,
		"default", "",
	)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fsys := fsx.NewMemFS()
	e, _, err := New(Options{Fsys: fsys, Cfg: testConfig()})
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

// Scenario 1: create("/t/a.txt", "hello\n") on empty target.
func TestScenarioCreateOnEmptyTarget(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Create("/t/a.txt", []byte("hello\n"), creator.Options{})
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), res.Mode)
	assert.EqualValues(t, 6, res.BytesWritten)

	content, err := afero.ReadFile(e.fsys, "/t/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	assert.Empty(t, res.BackupPath)

	snap := e.Metrics()
	assert.EqualValues(t, 1, snap.OperationTypes["create"])
	assert.EqualValues(t, 1, snap.Successful)
	assert.EqualValues(t, 6, snap.TotalBytesProcessed)
}

// Scenario 2: create("/t/a.txt", "x") over an existing file with overwrite=false.
func TestScenarioCreateRefusesExistingWithoutOverwrite(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.fsys, "/t/a.txt", []byte("hello\n"), 0o644))

	_, err := e.Create("/t/a.txt", []byte("x"), creator.Options{})
	require.Error(t, err)
	assert.True(t, atomixerr.Is(err, atomixerr.AlreadyExists))

	content, err := afero.ReadFile(e.fsys, "/t/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
}

// Scenario 3: write("/t/a.txt", "new", {createBackup, overwrite: true}) over "old".
func TestScenarioWriteOverwriteRemovesBackupOnSuccess(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.fsys, "/t/a.txt", []byte("old"), 0o644))

	res, err := e.Write("/t/a.txt", []byte("new"), writer.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.BytesWritten)

	content, err := afero.ReadFile(e.fsys, "/t/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))

	entries, err := afero.ReadDir(e.fsys, "/t")
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".backup-")
	}
}

// Scenario 4 setup: begin -> write("/t/1","A") -> checkpoint "mid" -> write("/t/2","B") -> commit
// without rolling back; both files land. The rollback to "mid" is Scenario 4b below.
func TestScenarioCheckpointThenCommit(t *testing.T) {
	e := newTestEngine(t)

	txID, err := e.Begin("scenario4")
	require.NoError(t, err)

	_, err = e.Write("/t/1", []byte("A"), writer.Options{TxnID: txID})
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint(txID, "mid"))

	_, err = e.Write("/t/2", []byte("B"), writer.Options{TxnID: txID})
	require.NoError(t, err)

	require.NoError(t, e.Commit(txID))

	content, err := afero.ReadFile(e.fsys, "/t/1")
	require.NoError(t, err)
	assert.Equal(t, "A", string(content))
	content2, err := afero.ReadFile(e.fsys, "/t/2")
	require.NoError(t, err)
	assert.Equal(t, "B", string(content2))
}

// Scenario 4b: rollback to a checkpoint before commit undoes only the tail.
func TestScenarioRollbackToCheckpointUndoesTailBeforeCommit(t *testing.T) {
	e := newTestEngine(t)

	txID, err := e.Begin("scenario4b")
	require.NoError(t, err)

	_, err = e.Write("/t/1", []byte("A"), writer.Options{TxnID: txID})
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint(txID, "mid"))

	_, err = e.Write("/t/2", []byte("B"), writer.Options{TxnID: txID})
	require.NoError(t, err)

	require.NoError(t, e.Rollback(txID, "mid"))
	require.NoError(t, e.Commit(txID))

	content, err := afero.ReadFile(e.fsys, "/t/1")
	require.NoError(t, err)
	assert.Equal(t, "A", string(content))

	_, statErr := e.fsys.Stat("/t/2")
	assert.True(t, os.IsNotExist(statErr))
}

// Scenario 5: writeMany with stopOnError unwinds the batch on failure.
func TestScenarioWriteManyStopsOnErrorAndUnwinds(t *testing.T) {
	e := newTestEngine(t)

	results, err := e.WriteMany([]writer.FileWrite{
		{Path: "/t/1", Content: []byte("A")},
		{Path: "/nope/2", Content: []byte("B"), Options: writer.Options{ChecksumAlgorithm: "bogus-algo"}},
		{Path: "/t/3", Content: []byte("C")},
	}, writer.BatchOptions{StopOnError: true})

	require.Error(t, err)
	assert.Len(t, results, 2)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])

	_, statErr := e.fsys.Stat("/t/1")
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = e.fsys.Stat("/t/3")
	assert.True(t, os.IsNotExist(statErr))
}

// Scenario 6: append("/t/log", "line\n") over "prev\n".
func TestScenarioAppend(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.fsys, "/t/log", []byte("prev\n"), 0o644))

	res, err := e.Append("/t/log", []byte("line\n"), writer.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 10, res.BytesWritten)

	res2, err := e.Read(context.Background(), "/t/log", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "prev\nline\n", string(res2.Content))
}

func TestEngineDeleteIsRollbackable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.fsys, "/t/a.txt", []byte("hello"), 0o644))

	txID, err := e.Begin("delete-txn")
	require.NoError(t, err)

	res, err := e.Delete("/t/a.txt", DeleteOptions{TxnID: txID, RetainBackup: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BackupPath)

	_, statErr := e.fsys.Stat("/t/a.txt")
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, e.Rollback(txID, ""))

	content, err := afero.ReadFile(e.fsys, "/t/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestEngineMetricsSurviveRestart(t *testing.T) {
	fsys := fsx.NewMemFS()
	cfg := testConfig()

	e1, _, err := New(Options{Fsys: fsys, Cfg: cfg})
	require.NoError(t, err)
	_, err = e1.Create("/t/a.txt", []byte("hello"), creator.Options{})
	require.NoError(t, err)
	e1.Shutdown()

	e2, _, err := New(Options{Fsys: fsys, Cfg: cfg})
	require.NoError(t, err)
	defer e2.Shutdown()

	snap := e2.Metrics()
	assert.EqualValues(t, 1, snap.TotalOperations)
	assert.EqualValues(t, 1, snap.OperationTypes["create"])
}

func TestEngineHistoryUsesConfiguredSQLiteBackend(t *testing.T) {
	fsys := fsx.NewMemFS()
	cfg := config.NewEngineConfig(
		true, "", ".tmp-", ".tmp",
		30,
		false, false,
		64*1024, 3, 100,
		true, "", 5,
		false, "sha256",
		0,
		"/var/atomix/txn", true,
		1000, 1000,
		false, true,
		"default", "",
	).WithHistoryBackend("sqlite", ":memory:")

	e, _, err := New(Options{Fsys: fsys, Cfg: cfg})
	require.NoError(t, err)
	defer e.Shutdown()

	_, err = e.Create("/t/a.txt", []byte("hello"), creator.Options{})
	require.NoError(t, err)

	entries, err := e.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "committed", string(entries[0].Status))
}

func TestEngineChangeModeJoinsTransaction(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.fsys, "/t/a.txt", []byte("x"), 0o644))

	txID, err := e.Begin("chmod-txn")
	require.NoError(t, err)

	_, err = e.ChangeMode("/t/a.txt", 0o600, txID)
	require.NoError(t, err)

	require.NoError(t, e.Rollback(txID, ""))

	info, err := e.fsys.Stat("/t/a.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
