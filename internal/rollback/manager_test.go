package rollback

import (
	"os"
	"testing"
	"time"

	"github.com/fileforge/atomix/internal/checksum"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerBeginStageCommit(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)

	tx, err := m.Begin("write two files")
	require.NoError(t, err)

	_, err = m.StageFile(tx.ID, "a.txt", []byte("hello"), checksum.SHA256, 0o644)
	require.NoError(t, err)
	_, err = m.StageFile(tx.ID, "b.txt", []byte("world"), checksum.SHA256, 0o644)
	require.NoError(t, err)

	require.NoError(t, m.MarkIntent(tx.ID))
	require.NoError(t, m.Commit(tx.ID, "/dest"))

	a, err := afero.ReadFile(fsys, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(a))

	b, err := afero.ReadFile(fsys, "/dest/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))

	assert.Empty(t, m.ListActive())

	entries, err := m.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusCommitted, entries[0].Status)
}

func TestManagerCommitIsIdempotent(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)

	tx, err := m.Begin("idempotent commit")
	require.NoError(t, err)
	_, err = m.StageFile(tx.ID, "a.txt", []byte("v1"), checksum.SHA256, 0o644)
	require.NoError(t, err)
	require.NoError(t, m.MarkIntent(tx.ID))
	require.NoError(t, m.Commit(tx.ID, "/dest"))

	// Re-registering the already-committed transaction id and committing
	// again must be a no-op rather than an error.
	reloaded, err := m.reconstruct(tx.ID)
	require.NoError(t, err)
	require.NoError(t, m.Commit(reloaded.ID, "/dest"))
}

func TestManagerRollbackFileCreate(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)

	tx, err := m.Begin("create then rollback")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/dest/new.txt", []byte("created"), 0o644))
	require.NoError(t, m.AddOperation(tx.ID, RollbackOperation{
		Kind:       KindFileCreate,
		TargetPath: "/dest/new.txt",
	}))

	require.NoError(t, m.Rollback(tx.ID, ""))

	_, err = fsys.Stat("/dest/new.txt")
	assert.True(t, os.IsNotExist(err))

	entries, err := m.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusRolledBack, entries[0].Status)
}

func TestManagerRollbackFileOverwriteRestoresBackup(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)

	require.NoError(t, afero.WriteFile(fsys, "/dest/existing.txt", []byte("original"), 0o644))

	tx, err := m.Begin("overwrite then rollback")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/dest/existing.txt.bak", []byte("original"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/dest/existing.txt", []byte("overwritten"), 0o644))

	require.NoError(t, m.AddOperation(tx.ID, RollbackOperation{
		Kind:       KindFileOverwrite,
		TargetPath: "/dest/existing.txt",
		BackupPath: "/dest/existing.txt.bak",
	}))

	require.NoError(t, m.Rollback(tx.ID, ""))

	content, err := afero.ReadFile(fsys, "/dest/existing.txt")
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestManagerLookupDistinguishesNotFoundFromClosed(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)

	_, err := m.lookup("nonexistent")
	var rbErr *Error
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, "transaction-not-found", rbErr.Code)

	tx, err := m.Begin("closes after commit")
	require.NoError(t, err)
	require.NoError(t, m.MarkIntent(tx.ID))
	require.NoError(t, m.Commit(tx.ID, "/dest"))

	// Within the committed-retention window, a closed transaction id is
	// distinguishable from one that never existed.
	_, err = m.lookup(tx.ID)
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, "transaction-closed", rbErr.Code)
	assert.Contains(t, rbErr.Message, "committed")
}

func TestManagerLookupForgetsAfterRetentionWindow(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)
	m.SetCommittedRetention(time.Nanosecond)

	tx, err := m.Begin("expires almost immediately")
	require.NoError(t, err)
	require.NoError(t, m.MarkIntent(tx.ID))
	require.NoError(t, m.Commit(tx.ID, "/dest"))

	time.Sleep(time.Millisecond)

	var rbErr *Error
	_, err = m.lookup(tx.ID)
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, "transaction-not-found", rbErr.Code)
}

func TestManagerCheckpointScopesRollback(t *testing.T) {
	fsys := fsx.NewMemFS()
	m := NewManager(fsys, "/var/atomix/txn", 10)

	tx, err := m.Begin("two creates, rollback only the second")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/dest/one.txt", []byte("one"), 0o644))
	require.NoError(t, m.AddOperation(tx.ID, RollbackOperation{Kind: KindFileCreate, TargetPath: "/dest/one.txt"}))

	require.NoError(t, m.CreateCheckpoint(tx.ID, "after-one"))

	require.NoError(t, afero.WriteFile(fsys, "/dest/two.txt", []byte("two"), 0o644))
	require.NoError(t, m.AddOperation(tx.ID, RollbackOperation{Kind: KindFileCreate, TargetPath: "/dest/two.txt"}))

	require.NoError(t, m.Rollback(tx.ID, "after-one"))

	_, err = fsys.Stat("/dest/one.txt")
	assert.NoError(t, err, "checkpoint should have preserved the first file")
	_, err = fsys.Stat("/dest/two.txt")
	assert.True(t, os.IsNotExist(err))
}
