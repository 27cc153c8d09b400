// Package writer implements the engine's Writer (spec §4.2): write, append,
// writeJson and writeMany, all staged through the same write-ahead log the
// Creator uses so a crash mid-write never leaves a half-written target.
package writer

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/backupstore"
	"github.com/fileforge/atomix/internal/checksum"
	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
	"github.com/fileforge/atomix/internal/rollback"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Options configures one Write/Append/WriteJSON call.
type Options struct {
	Append              bool
	MaxFileSize         int64 // 0 = use cfg.MaxFileSizeBytes()
	Mode                os.FileMode
	PreservePermissions bool
	VerifyAfterWrite    bool
	ChecksumAlgorithm   checksum.Algorithm
	RetainBackup        bool
	TxnID               rollback.TransactionID
}

// Result is returned on a successful write.
type Result struct {
	Path         string
	BytesWritten int64
	Mode         os.FileMode
	OperationID  string
	Checksum     *checksum.FileChecksum
	Duration     time.Duration
}

// Writer is the engine's write/append/writeJson/writeMany component.
type Writer struct {
	fsys   fsx.FS
	cfg    config.Config
	rb     *rollback.Manager
	backup *backupstore.Store
}

// New builds a Writer sharing the engine's transaction manager with Creator
// and PermissionManager.
func New(fsys fsx.FS, cfg config.Config, rb *rollback.Manager) *Writer {
	return &Writer{fsys: fsys, cfg: cfg, rb: rb, backup: backupstore.New(fsys, cfg)}
}

// Write stages content (or, if opts.Append, the original bytes plus content)
// and commits it to path.
func (w *Writer) Write(path string, content []byte, opts Options) (*Result, error) {
	start := time.Now()

	exists, existingMode, existingContent, err := w.readExisting(path, opts.Append)
	if err != nil {
		return nil, atomixerr.Wrap(atomixerr.InvalidOperation, path, err)
	}

	expected := content
	if opts.Append && exists {
		expected = make([]byte, 0, len(existingContent)+len(content))
		expected = append(expected, existingContent...)
		expected = append(expected, content...)
	}

	maxSize := opts.MaxFileSize
	if maxSize == 0 {
		maxSize = w.cfg.MaxFileSizeBytes()
	}
	if maxSize > 0 && int64(len(expected)) > maxSize {
		return nil, atomixerr.New(atomixerr.FileTooLarge, "content exceeds max file size")
	}

	if err := w.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, atomixerr.Wrap(atomixerr.PermissionDenied, filepath.Dir(path), err)
	}

	algo := opts.ChecksumAlgorithm
	if algo == "" {
		algo, err = checksum.ParseAlgorithm(w.cfg.ChecksumAlgorithm())
		if err != nil {
			algo = checksum.SHA256
		}
	}

	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}
	if (opts.PreservePermissions || w.cfg.PreservePermissions()) && exists {
		mode = existingMode
	}

	joiningExternal := opts.TxnID != ""
	txID := opts.TxnID
	if !joiningExternal {
		tx, err := w.rb.Begin("write " + path)
		if err != nil {
			return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, path, err)
		}
		txID = tx.ID
	}

	operationID := uuid.NewString()

	var backupPath string
	var originalMode os.FileMode
	if exists {
		originalMode = existingMode
		backupPath, err = w.backup.Create(path)
		if err != nil {
			if !joiningExternal {
				_ = w.rb.Rollback(txID, "")
			}
			return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, path, err)
		}
	}

	cs, err := w.rb.StageFile(txID, path, expected, algo, uint32(mode))
	if err != nil {
		if !joiningExternal {
			_ = w.rb.Rollback(txID, "")
		}
		return nil, err
	}

	if opts.VerifyAfterWrite || w.cfg.VerifyAfterWrite() {
		if err := w.verifyStaged(txID, path, expected, cs); err != nil {
			if !joiningExternal {
				_ = w.rb.Rollback(txID, "")
			}
			return nil, err
		}
	}

	kind := rollback.KindFileCreate
	if exists {
		kind = rollback.KindFileOverwrite
	}
	op := rollback.RollbackOperation{
		Kind:         kind,
		TargetPath:   path,
		BackupPath:   backupPath,
		OriginalMode: originalMode,
		OperationID:  operationID,
	}
	if err := w.rb.AddOperation(txID, op); err != nil {
		if !joiningExternal {
			_ = w.rb.Rollback(txID, "")
		}
		return nil, err
	}

	if joiningExternal {
		return &Result{Path: path, Mode: mode, OperationID: operationID, Checksum: cs, Duration: time.Since(start)}, nil
	}

	if err := w.rb.MarkIntent(txID); err != nil {
		_ = w.rb.Rollback(txID, "")
		return nil, err
	}
	if err := w.rb.Commit(txID, ""); err != nil {
		_ = w.rb.Rollback(txID, "")
		return nil, err
	}

	if backupPath != "" && !opts.RetainBackup {
		if err := w.backup.Remove(backupPath); err != nil {
			logx.Get().Warn("write: backup cleanup failed path=%s error=%v", backupPath, err)
		}
	}

	logx.Get().Info("file written path=%s bytes=%d append=%t duration_ms=%d", path, cs.Size, opts.Append, time.Since(start).Milliseconds())
	return &Result{
		Path:         path,
		BytesWritten: cs.Size,
		Mode:         mode,
		OperationID:  operationID,
		Checksum:     cs,
		Duration:     time.Since(start),
	}, nil
}

// Append is sugar for Write with Options.Append forced on.
func (w *Writer) Append(path string, content []byte, opts Options) (*Result, error) {
	opts.Append = true
	return w.Write(path, content, opts)
}

// WriteJSON marshals value as pretty-printed (2-space indent) UTF-8 JSON and
// writes it, failing with json-serialization-error before any I/O if value
// cannot be serialized.
func (w *Writer) WriteJSON(path string, value any, opts Options) (*Result, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, atomixerr.Wrap(atomixerr.JSONSerializationError, path, err)
	}
	return w.Write(path, data, opts)
}

// FileWrite is one entry of a WriteMany batch.
type FileWrite struct {
	Path    string
	Content []byte
	Options Options
}

// BatchOptions configures WriteMany.
type BatchOptions struct {
	StopOnError bool
}

// WriteMany writes each file in order. If StopOnError and an entry fails,
// every target already written earlier in this batch is unlinked
// (best-effort) — the batch's net filesystem effect is reversed, not the
// pre-existing contents of files the batch didn't touch (those backups were
// already discarded on each individual success, per spec §4.2).
func (w *Writer) WriteMany(files []FileWrite, opts BatchOptions) ([]*Result, error) {
	results := make([]*Result, 0, len(files))
	var written []string

	for i, f := range files {
		res, err := w.Write(f.Path, f.Content, f.Options)
		if err != nil {
			results = append(results, nil)
			if opts.StopOnError {
				w.unlinkBatch(written)
				return results, atomixerr.Wrap(atomixerr.InvalidOperation, f.Path,
					errBatchEntry{index: i, path: f.Path, cause: err})
			}
			continue
		}
		results = append(results, res)
		written = append(written, f.Path)
	}
	return results, nil
}

func (w *Writer) unlinkBatch(paths []string) {
	for _, p := range paths {
		if err := w.fsys.Remove(p); err != nil && !os.IsNotExist(err) {
			logx.Get().Warn("writeMany: batch rollback unlink failed path=%s error=%v", p, err)
		}
	}
}

type errBatchEntry struct {
	index int
	path  string
	cause error
}

func (e errBatchEntry) Error() string {
	return "writeMany: entry " + e.path + " failed: " + e.cause.Error()
}

func (e errBatchEntry) Unwrap() error { return e.cause }

// readExisting returns the current contents of path when it exists. The
// full read is only necessary for append (to build the expected
// concatenation); other callers still get the existence/mode check cheaply
// via Stat.
func (w *Writer) readExisting(path string, needContent bool) (exists bool, mode os.FileMode, content []byte, err error) {
	info, statErr := w.fsys.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, 0, nil, nil
		}
		return false, 0, nil, statErr
	}
	if !needContent {
		return true, info.Mode().Perm(), nil, nil
	}
	data, err := afero.ReadFile(w.fsys, path)
	if err != nil {
		return true, info.Mode().Perm(), nil, err
	}
	return true, info.Mode().Perm(), data, nil
}

// verifyStaged re-reads the staged (pre-rename) file and asserts byte-length
// and full byte equality against expected, then revalidates the checksum —
// spec §4.2's "verification" step.
func (w *Writer) verifyStaged(txID rollback.TransactionID, path string, expected []byte, cs *checksum.FileChecksum) error {
	tx, err := w.rb.ActiveTransaction(txID)
	if err != nil {
		return err
	}
	stagePath := filepath.Join(tx.StageDir(), path)

	data, err := afero.ReadFile(w.fsys, stagePath)
	if err != nil {
		return atomixerr.Wrap(atomixerr.VerificationFailed, stagePath, err)
	}
	if len(data) != len(expected) {
		return atomixerr.New(atomixerr.VerificationFailed, "staged length mismatch for "+path)
	}
	if !bytes.Equal(data, expected) {
		return atomixerr.New(atomixerr.VerificationFailed, "staged content mismatch for "+path)
	}
	if err := checksum.ValidateFileChecksum(w.fsys, stagePath, cs); err != nil {
		return atomixerr.Wrap(atomixerr.VerificationFailed, stagePath, err)
	}
	return nil
}
