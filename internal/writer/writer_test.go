package writer

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

func TestWriterWritesNewFile(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	res, err := w.Write("/dest/a.txt", []byte("hello"), Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.BytesWritten)

	content, err := afero.ReadFile(fsys, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestWriterAppendsToExistingFile(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	require.NoError(t, afero.WriteFile(fsys, "/dest/a.txt", []byte("hello "), 0o644))

	_, err := w.Append("/dest/a.txt", []byte("world"), Options{})
	require.NoError(t, err)

	content, err := afero.ReadFile(fsys, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestWriterFailsWhenOverMaxFileSize(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	_, err := w.Write("/dest/a.txt", []byte("0123456789"), Options{MaxFileSize: 5})
	require.Error(t, err)
	assert.True(t, atomixerr.Is(err, atomixerr.FileTooLarge))
}

func TestWriterVerifyAfterWriteDetectsGoodWrite(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	res, err := w.Write("/dest/a.txt", []byte("verified content"), Options{VerifyAfterWrite: true})
	require.NoError(t, err)
	assert.NotNil(t, res.Checksum)
}

func TestWriterWriteJSONRejectsUnserializable(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	_, err := w.WriteJSON("/dest/a.json", func() {}, Options{})
	require.Error(t, err)
	assert.True(t, atomixerr.Is(err, atomixerr.JSONSerializationError))

	_, statErr := fsys.Stat("/dest/a.json")
	assert.Error(t, statErr, "no file should be created on a serialization failure")
}

func TestWriterWriteJSONPrettyPrints(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	_, err := w.WriteJSON("/dest/a.json", map[string]int{"a": 1}, Options{})
	require.NoError(t, err)

	content, err := afero.ReadFile(fsys, "/dest/a.json")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(content))
}

func TestWriterWriteManyStopsOnErrorAndUnwindsBatch(t *testing.T) {
	fsys := fsx.NewMemFS()
	rb := rollback.NewManager(fsys, "/var/atomix/txn", 10)
	w := New(fsys, testConfig(), rb)

	files := []FileWrite{
		{Path: "/dest/one.txt", Content: []byte("one")},
		{Path: "/dest/two.txt", Content: []byte("0123456789"), Options: Options{MaxFileSize: 1}},
		{Path: "/dest/three.txt", Content: []byte("three")},
	}

	results, err := w.WriteMany(files, BatchOptions{StopOnError: true})
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])

	_, statErr := fsys.Stat("/dest/one.txt")
	assert.True(t, os.IsNotExist(statErr), "first file should have been unlinked by batch rollback")
	_, statErr = fsys.Stat("/dest/three.txt")
	assert.True(t, os.IsNotExist(statErr), "writer should stop before reaching the third file")
}
