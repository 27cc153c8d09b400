package creator

import (
	"os"
	"testing"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/rollback"
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

func TestCreatorCreateNewFile(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	cr := New(fsys, testConfig(), rb)

	res, err := cr.Create("/dest/a.txt", []byte("hello world"), Options{})
	require.NoError(t, err)
	assert.EqualValues(t, len("hello world"), res.BytesWritten)

	content, err := afero.ReadFile(fsys, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestCreatorRefusesExistingWithoutOverwrite(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	cr := New(fsys, testConfig(), rb)

	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt", []byte("existing"), 0o644))

	_, err := cr.Create("/dest/a.txt", []byte("new"), Options{})
	require.Error(t, err)
	assert.True(t, atomixerr.Is(err, atomixerr.AlreadyExists))
}

func TestCreatorOverwriteCreatesAndRemovesBackup(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	cr := New(fsys, testConfig(), rb)

	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt", []byte("original"), 0o644))

	res, err := cr.Create("/dest/a.txt", []byte("overwritten"), Options{Overwrite: true})
	require.NoError(t, err)

	content, err := afero.ReadFile(fsys, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "overwritten", string(content))

	// Backup is removed on success unless RetainBackup is set.
	if res.BackupPath != "" {
		_, statErr := fsys.Stat(res.BackupPath)
		assert.True(t, os.IsNotExist(statErr))
	}
}

func TestCreatorMissingAncestorFailsWhenDirsNotCreated(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	cr := New(fsys, testConfig(), rb)

	no := false
	_, err := cr.Create("/missing/dir/a.txt", []byte("x"), Options{CreateDirs: &no})
	require.Error(t, err)
	assert.True(t, atomixerr.Is(err, atomixerr.FileNotFound))
}

func TestCreatorRollsBackOnStageFailure(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	cr := New(fsys, testConfig(), rb)

	_, err := cr.Create("/dest/a.txt", []byte("x"), Options{ChecksumAlgorithm: "bogus-algo"})
	require.Error(t, err)
	assert.Empty(t, rb.ListActive())
}
