// Package engine wires Creator, Writer, TempFileTracker, BackupStore,
// PermissionManager and the RollbackLog/TransactionManager into the single
// public API spec.md describes: an atomic file operations engine exposing
// create/read/write/delete/permission-change operations with transactional,
// crash-consistent semantics.
//
// Modeled on the teacher's singleton engine pattern: construction registers
// the tracker's SIGINT/SIGTERM handlers when Options.RegisterSignals is set
// (spec §9 "Global state"), and Shutdown stops the tracker's sweep and
// signal-watching goroutines. Tests build one Engine per test and tear it
// down explicitly rather than relying on a package-level singleton.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fileforge/atomix/internal/atomixcollab"
	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/backupstore"
	"github.com/fileforge/atomix/internal/checksum"
	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/creator"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
	"github.com/fileforge/atomix/internal/metrics"
	"github.com/fileforge/atomix/internal/permission"
	"github.com/fileforge/atomix/internal/rollback"
	"github.com/fileforge/atomix/internal/rollback/history"
	"github.com/fileforge/atomix/internal/temptracker"
	"github.com/fileforge/atomix/internal/writer"
	"github.com/google/uuid"
)

// Engine is the atomic file operations engine: one instance owns one
// RollbackLog/TransactionManager and shares it with Creator, Writer and
// PermissionManager, so every standalone call and every transaction-joined
// call is undone by the same compensating-action machinery.
type Engine struct {
	fsys fsx.FS
	cfg  config.Config

	rb           *rollback.Manager
	creator      *creator.Creator
	writer       *writer.Writer
	perm         *permission.Manager
	backup       *backupstore.Store
	tracker      *temptracker.Tracker
	reader       atomixcollab.Reader
	metrics      *metrics.Collector
	metricsPath  string
	historyStore io.Closer // non-nil only when cfg.HistoryBackend() == "sqlite"

	destRoot string
}

// Options configures New.
type Options struct {
	Fsys             fsx.FS // nil = afero.NewOsFs()
	Cfg              config.Config
	DestRoot         string // root directory recovered/committed transactions apply into
	TempPrefix       string // "" = cfg.TempPrefix()
	TempSuffix       string // "" = cfg.TempSuffix()
	Reader           atomixcollab.Reader // nil = atomixcollab.NewDefaultReader(fsys)
	RegisterSignals  bool                // install the tracker's os.Interrupt/SIGTERM handlers
}

// New builds an Engine: loads the transaction manager (running startup
// recovery unless disabled), wires every component to share it, and starts
// the tracker's background sweep. Callers must call Shutdown when done.
func New(opts Options) (*Engine, *rollback.RecoveryResult, error) {
	fsys := opts.Fsys
	if fsys == nil {
		fsys = fsx.NewOsFS()
	}
	cfg := opts.Cfg
	if cfg == nil {
		return nil, nil, atomixerr.New(atomixerr.InvalidOperation, "engine: Options.Cfg is required")
	}

	rb, recovery, err := rollback.RunStartupRecovery(fsys, cfg, opts.DestRoot)
	if err != nil {
		return nil, recovery, err
	}

	var historyStore io.Closer
	if cfg.HistoryBackend() == "sqlite" {
		dbPath := cfg.HistoryDBPath()
		if dbPath == "" {
			dbPath = filepath.Join(cfg.TxnBaseDir(), "history.sqlite3")
		}
		sqliteStore, err := history.OpenSQLiteStore(dbPath)
		if err != nil {
			return nil, recovery, fmt.Errorf("engine: open sqlite history store: %w", err)
		}
		rb.SetHistoryStore(sqliteStore)
		historyStore = sqliteStore
	}

	prefix := opts.TempPrefix
	if prefix == "" {
		prefix = cfg.TempPrefix()
	}
	suffix := opts.TempSuffix
	if suffix == "" {
		suffix = cfg.TempSuffix()
	}
	tracker := temptracker.New(fsys, prefix, suffix)
	tracker.StartBackgroundSweep(cfg.TempDir(), cfg.OperationTimeout())
	if opts.RegisterSignals {
		tracker.RegisterExitHandlers()
	}

	reader := opts.Reader
	if reader == nil {
		reader = atomixcollab.NewDefaultReader(fsys)
	}

	metricsPath := filepath.Join(cfg.TxnBaseDir(), "metrics.json")
	collector, err := metrics.Load(fsys, metricsPath)
	if err != nil {
		return nil, recovery, err
	}

	backup := backupstore.New(fsys, cfg)
	if bucket := cfg.BackupS3Bucket(); bucket != "" {
		mirrored, err := backupstore.NewWithS3Mirror(context.Background(), fsys, cfg, bucket, cfg.BackupS3KeyPrefix())
		if err != nil {
			return nil, recovery, fmt.Errorf("engine: configure s3 backup mirror: %w", err)
		}
		backup = mirrored
	}

	e := &Engine{
		fsys:         fsys,
		cfg:          cfg,
		rb:           rb,
		creator:      creator.New(fsys, cfg, rb),
		writer:       writer.New(fsys, cfg, rb),
		perm:         permission.New(fsys, rb),
		backup:       backup,
		tracker:      tracker,
		reader:       reader,
		metrics:      collector,
		metricsPath:  metricsPath,
		historyStore: historyStore,
		destRoot:     opts.DestRoot,
	}
	return e, recovery, nil
}

// Shutdown stops the tracker's background sweep and unlinks every
// outstanding tracked temp file (spec §4.3: "during shutdown, the tracker
// refuses new createTemp calls, unlinks every tracked temp file
// best-effort, stops its timer, and completes").
func (e *Engine) Shutdown() {
	e.tracker.Shutdown()
	if err := e.metrics.Persist(e.fsys, e.metricsPath); err != nil {
		logx.Get().Warn("shutdown: metrics persist failed path=%s error=%v", e.metricsPath, err)
	}
	if e.historyStore != nil {
		if err := e.historyStore.Close(); err != nil {
			logx.Get().Warn("shutdown: history store close failed error=%v", err)
		}
	}
}

// Metrics returns a snapshot of every operation this Engine instance has
// performed, matching spec §6's metrics consumer contract.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// Create delegates to Creator.Create, folding the result into this
// Engine's metrics collector.
func (e *Engine) Create(path string, content []byte, opts creator.Options) (*creator.Result, error) {
	start := time.Now()
	res, err := e.creator.Create(path, content, opts)
	bytes := int64(0)
	if res != nil {
		bytes = res.BytesWritten
		if bytes == 0 && res.Checksum != nil {
			bytes = res.Checksum.Size
		}
	}
	e.metrics.RecordOperation(metrics.OpCreate, time.Since(start), bytes, 1, 0, err)
	return res, err
}

// Write delegates to Writer.Write.
func (e *Engine) Write(path string, content []byte, opts writer.Options) (*writer.Result, error) {
	start := time.Now()
	res, err := e.writer.Write(path, content, opts)
	bytes := int64(0)
	if res != nil {
		bytes = res.BytesWritten
	}
	e.metrics.RecordOperation(metrics.OpWrite, time.Since(start), bytes, 1, 0, err)
	return res, err
}

// Append delegates to Writer.Append.
func (e *Engine) Append(path string, content []byte, opts writer.Options) (*writer.Result, error) {
	start := time.Now()
	res, err := e.writer.Append(path, content, opts)
	bytes := int64(0)
	if res != nil {
		bytes = res.BytesWritten
	}
	e.metrics.RecordOperation(metrics.OpWrite, time.Since(start), bytes, 1, 0, err)
	return res, err
}

// WriteJSON delegates to Writer.WriteJSON.
func (e *Engine) WriteJSON(path string, value any, opts writer.Options) (*writer.Result, error) {
	start := time.Now()
	res, err := e.writer.WriteJSON(path, value, opts)
	bytes := int64(0)
	if res != nil {
		bytes = res.BytesWritten
	}
	e.metrics.RecordOperation(metrics.OpWrite, time.Since(start), bytes, 1, 0, err)
	return res, err
}

// WriteMany delegates to Writer.WriteMany, recording one metrics entry per
// batch entry that actually ran.
func (e *Engine) WriteMany(files []writer.FileWrite, opts writer.BatchOptions) ([]*writer.Result, error) {
	start := time.Now()
	results, err := e.writer.WriteMany(files, opts)
	for _, r := range results {
		bytes := int64(0)
		var entryErr error
		if r == nil {
			entryErr = err
		} else {
			bytes = r.BytesWritten
		}
		e.metrics.RecordOperation(metrics.OpWrite, time.Since(start), bytes, 1, 0, entryErr)
	}
	return results, err
}

// ReadOptions is re-exported so callers don't need to import atomixcollab
// directly for the common case.
type ReadOptions = atomixcollab.ReadOptions

// ReadResult is re-exported, see ReadOptions.
type ReadResult = atomixcollab.Result

// Read delegates to the configured Reader collaborator (spec §6).
func (e *Engine) Read(ctx context.Context, path string, opts ReadOptions) (*ReadResult, error) {
	start := time.Now()
	res, err := e.reader.ReadFile(ctx, path, opts)
	bytes := int64(0)
	if res != nil {
		bytes = res.Size
	}
	e.metrics.RecordOperation(metrics.OpRead, time.Since(start), bytes, 0, 0, err)
	return res, err
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	RetainBackup bool
	TxnID        rollback.TransactionID
}

// DeleteResult is returned on a successful Delete.
type DeleteResult struct {
	Path        string
	OperationID string
	BackupPath  string
	Duration    time.Duration
}

// Delete removes path, backing it up first so the removal is a compensable
// `file_delete` rollback operation (spec §3 data model; compensation table
// in §4.5: "copy backup over target; reapply originalPermissions if
// captured"). Mirrors Creator/Writer's implicit-transaction-or-join shape.
func (e *Engine) Delete(path string, opts DeleteOptions) (*DeleteResult, error) {
	start := time.Now()

	info, statErr := e.fsys.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, atomixerr.Wrap(atomixerr.FileNotFound, path, statErr)
		}
		return nil, atomixerr.Wrap(atomixerr.PermissionDenied, path, statErr)
	}
	originalMode := info.Mode().Perm()

	joiningExternal := opts.TxnID != ""
	txID := opts.TxnID
	if !joiningExternal {
		tx, err := e.rb.Begin("delete " + path)
		if err != nil {
			return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, path, err)
		}
		txID = tx.ID
	}

	operationID := uuid.NewString()
	backupPath, err := e.backup.Create(path)
	if err != nil {
		if !joiningExternal {
			_ = e.rb.Rollback(txID, "")
		}
		e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, err)
		return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, path, err)
	}

	op := rollback.RollbackOperation{
		Kind:         rollback.KindFileDelete,
		TargetPath:   path,
		BackupPath:   backupPath,
		OriginalMode: originalMode,
		OperationID:  operationID,
	}
	if err := e.rb.AddOperation(txID, op); err != nil {
		if !joiningExternal {
			_ = e.rb.Rollback(txID, "")
		}
		e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, err)
		return nil, err
	}

	if err := e.fsys.Remove(path); err != nil {
		if !joiningExternal {
			_ = e.rb.Rollback(txID, "")
		}
		werr := atomixerr.Wrap(atomixerr.WriteFailed, path, err)
		e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, werr)
		return nil, werr
	}

	if joiningExternal {
		e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, nil)
		return &DeleteResult{Path: path, OperationID: operationID, BackupPath: backupPath, Duration: time.Since(start)}, nil
	}

	if err := e.rb.MarkIntent(txID); err != nil {
		_ = e.rb.Rollback(txID, "")
		e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, err)
		return nil, err
	}
	if err := e.rb.Commit(txID, ""); err != nil {
		_ = e.rb.Rollback(txID, "")
		e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, err)
		return nil, err
	}

	result := &DeleteResult{Path: path, OperationID: operationID, Duration: time.Since(start)}
	if opts.RetainBackup {
		result.BackupPath = backupPath
	} else if err := e.backup.Remove(backupPath); err != nil {
		logx.Get().Warn("delete: backup cleanup failed path=%s error=%v", backupPath, err)
	}

	e.metrics.RecordOperation(metrics.OpDelete, time.Since(start), 0, 0, 0, nil)
	logx.Get().Info("file deleted path=%s duration_ms=%d", path, time.Since(start).Milliseconds())
	return result, nil
}

// ChangeMode delegates to PermissionManager.ChangeMode.
func (e *Engine) ChangeMode(path string, mode os.FileMode, txID rollback.TransactionID) (*permission.Result, error) {
	return e.perm.ChangeMode(path, mode, txID)
}

// ChangeOwnership delegates to PermissionManager.ChangeOwnership.
func (e *Engine) ChangeOwnership(path string, uid, gid int) (*permission.Result, error) {
	return e.perm.ChangeOwnership(path, uid, gid)
}

// PreserveFrom delegates to PermissionManager.PreserveFrom.
func (e *Engine) PreserveFrom(source, target string, preserveOwnership bool) (*permission.Result, error) {
	return e.perm.PreserveFrom(source, target, preserveOwnership)
}

// Begin starts a new caller-managed transaction that Create/Write/Delete/
// ChangeMode calls can join via their Options.TxnID field.
func (e *Engine) Begin(description string) (rollback.TransactionID, error) {
	tx, err := e.rb.Begin(description)
	if err != nil {
		return "", err
	}
	return tx.ID, nil
}

// Checkpoint names the current position in txID's operation list.
func (e *Engine) Checkpoint(txID rollback.TransactionID, name string) error {
	return e.rb.CreateCheckpoint(txID, name)
}

// Commit finishes txID: every joined operation's staged file is renamed
// into place under destRoot. Leave Options.DestRoot empty (the default)
// when every Create/Write call in the transaction used absolute target
// paths, matching Creator/Writer's own implicit single-operation commits
// (which always commit with destRoot ""); a non-empty DestRoot is for
// transactions built from paths relative to a staging root.
func (e *Engine) Commit(txID rollback.TransactionID) error {
	if err := e.rb.MarkIntent(txID); err != nil {
		return err
	}
	return e.rb.Commit(txID, e.destRoot)
}

// Rollback undoes txID, either entirely (toCheckpoint == "") or back to a
// named checkpoint.
func (e *Engine) Rollback(txID rollback.TransactionID, toCheckpoint string) error {
	return e.rb.Rollback(txID, toCheckpoint)
}

// History returns up to limit recently finished transactions, for the
// CLI's `doctor` command.
func (e *Engine) History(limit int) ([]rollback.HistoryEntry, error) {
	return e.rb.GetHistory(limit)
}

// GC runs one tracker sweep pass immediately instead of waiting for the
// background ticker, for the CLI's `gc` command.
func (e *Engine) GC(maxAge time.Duration) (abandoned, stale int) {
	abandoned = e.tracker.CleanupAbandoned(maxAge)
	stale = e.tracker.CleanupStale(e.cfg.TempDir(), maxAge)
	return abandoned, stale
}

// ChecksumOf computes path's checksum under the engine's configured
// algorithm (or algo, if non-empty), for callers and tests asserting the
// checksum round-trip property (spec §8).
func (e *Engine) ChecksumOf(path string, algo checksum.Algorithm) (*checksum.FileChecksum, error) {
	if algo == "" {
		var err error
		algo, err = checksum.ParseAlgorithm(e.cfg.ChecksumAlgorithm())
		if err != nil {
			algo = checksum.SHA256
		}
	}
	return checksum.CalculateFileChecksum(e.fsys, path, algo)
}
