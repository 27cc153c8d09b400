package backupstore

import (
	"strings"
	"testing"
	"time"

	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.NewEngineConfig(
		true, "", ".tmp", ".tmp",
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

func TestStoreCreateAndRestore(t *testing.T) {
	fsys := fsx.NewMemFS()
	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt", []byte("original"), 0o644))

	store := New(fsys, testConfig())
	backupPath, err := store.Create("/dest/a.txt")
	require.NoError(t, err)
	assert.Contains(t, backupPath, "a.backup-")
	assert.True(t, strings.HasSuffix(backupPath, ".txt"), "backup path %q must keep the target extension", backupPath)

	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt", []byte("overwritten"), 0o644))
	require.NoError(t, store.Restore(backupPath, "/dest/a.txt"))

	content, err := afero.ReadFile(fsys, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestStoreRestoreMissingBackupFails(t *testing.T) {
	fsys := fsx.NewMemFS()
	store := New(fsys, testConfig())

	err := store.Restore("/dest/nonexistent.backup-x", "/dest/a.txt")
	require.Error(t, err)
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	fsys := fsx.NewMemFS()
	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt.backup-1", []byte("x"), 0o644))
	store := New(fsys, testConfig())

	require.NoError(t, store.Remove("/dest/a.txt.backup-1"))
	require.NoError(t, store.Remove("/dest/a.txt.backup-1")) // already gone, still no error
}

func TestStoreRotateKeepsOnlyMostRecent(t *testing.T) {
	fsys := fsx.NewMemFS()
	store := New(fsys, testConfig())

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		path := "/backups/a.txt.backup-" + string(rune('a'+i))
		require.NoError(t, afero.WriteFile(fsys, path, []byte("x"), 0o644))
		require.NoError(t, fsys.Chtimes(path, base.Add(time.Duration(i)*time.Minute), base.Add(time.Duration(i)*time.Minute)))
	}

	require.NoError(t, store.Rotate("/backups", "a.txt.backup-", "", 2))

	entries, err := afero.ReadDir(fsys, "/backups")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// Scenario 3's glob: "a.backup-*.txt" leaves exactly min(existing, maxKept).
func TestStoreCreateRotatesDownToBackupMaxKept(t *testing.T) {
	fsys := fsx.NewMemFS()
	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt", []byte("v0"), 0o644))
	store := New(fsys, testConfig()) // BackupMaxKept=5 per testConfig

	for i := 0; i < 8; i++ {
		_, err := store.Create("/dest/a.txt")
		require.NoError(t, err)
	}

	entries, err := afero.ReadDir(fsys, "/dest")
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if strings.Contains(e.Name(), "a.backup-") && strings.HasSuffix(e.Name(), ".txt") {
			backups++
		}
	}
	assert.Equal(t, 5, backups)
}
