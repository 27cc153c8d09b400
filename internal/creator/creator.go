// Package creator implements the engine's Creator (spec §4.1): create a new
// file, or overwrite an existing one, with crash-consistent staging via the
// rollback package's write-ahead log.
package creator

import (
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
)

// Options configures one Create call. Zero value is a sane "create a new
// file, fail if it already exists" default.
type Options struct {
	Overwrite           bool
	CreateDirs          *bool // nil = default on (matches spec: "ancestor creation is default-on")
	Mode                os.FileMode
	PreservePermissions bool
	RetainBackup        bool // keep the backup after a successful overwrite instead of deleting it
	ChecksumAlgorithm   checksum.Algorithm

	// TxnID, when non-empty, joins this create into a caller-managed
	// transaction instead of Creator's own implicit one-operation
	// transaction.
	TxnID rollback.TransactionID
}

func (o Options) createDirs() bool {
	if o.CreateDirs == nil {
		return true
	}
	return *o.CreateDirs
}

// Result is returned on a successful Create.
type Result struct {
	Path         string
	BytesWritten int64
	Mode         os.FileMode
	OperationID  string
	Checksum     *checksum.FileChecksum
	Duration     time.Duration
	BackupPath   string
}

// Creator is the engine's file-creation component.
type Creator struct {
	fsys   fsx.FS
	cfg    config.Config
	rb     *rollback.Manager
	backup *backupstore.Store
}

// New builds a Creator. rb is the shared transaction manager (also used by
// Writer and PermissionManager) so Creator's implicit one-operation
// transactions share the same WAL directory and history ring buffer as
// everything else in the engine.
func New(fsys fsx.FS, cfg config.Config, rb *rollback.Manager) *Creator {
	return &Creator{fsys: fsys, cfg: cfg, rb: rb, backup: backupstore.New(fsys, cfg)}
}

// Create writes content to path, per spec §4.1's 8-step algorithm:
// existence check, ancestor creation, staging, durable write, optional
// backup, atomic rename, permission application, and cleanup.
func (c *Creator) Create(path string, content []byte, opts Options) (*Result, error) {
	start := time.Now()

	exists, existingMode, statErr := c.stat(path)
	if statErr != nil {
		return nil, atomixerr.Wrap(atomixerr.InvalidOperation, path, statErr)
	}
	if exists && !opts.Overwrite {
		return nil, atomixerr.New(atomixerr.AlreadyExists, "target already exists: "+path)
	}

	dir := filepath.Dir(path)
	if opts.createDirs() {
		if err := c.fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, atomixerr.Wrap(atomixerr.PermissionDenied, dir, err)
		}
	} else if ok, _ := afExists(c.fsys, dir); !ok {
		return nil, atomixerr.New(atomixerr.FileNotFound, "ancestor directory does not exist: "+dir)
	}

	algo := opts.ChecksumAlgorithm
	if algo == "" {
		var err error
		algo, err = checksum.ParseAlgorithm(c.cfg.ChecksumAlgorithm())
		if err != nil {
			algo = checksum.SHA256
		}
	}

	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}
	if (opts.PreservePermissions || c.cfg.PreservePermissions()) && exists {
		mode = existingMode
	}

	joiningExternal := opts.TxnID != ""
	txID := opts.TxnID
	if !joiningExternal {
		tx, err := c.rb.Begin("create " + path)
		if err != nil {
			return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, path, err)
		}
		txID = tx.ID
	}

	operationID := uuid.NewString()

	var backupPath string
	var originalMode os.FileMode
	if exists && opts.Overwrite {
		originalMode = existingMode
		var err error
		backupPath, err = c.backup.Create(path)
		if err != nil {
			if !joiningExternal {
				_ = c.rb.Rollback(txID, "")
			}
			return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, path, err)
		}
	}

	cs, err := c.rb.StageFile(txID, path, content, algo, uint32(mode))
	if err != nil {
		if !joiningExternal {
			_ = c.rb.Rollback(txID, "")
		}
		return nil, err
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
	if err := c.rb.AddOperation(txID, op); err != nil {
		if !joiningExternal {
			_ = c.rb.Rollback(txID, "")
		}
		return nil, err
	}

	if joiningExternal {
		// The caller's transaction commits everything together; Create's
		// job ends at staging plus journaling the compensating action.
		return &Result{
			Path:        path,
			Mode:        mode,
			OperationID: operationID,
			Checksum:    cs,
			Duration:    time.Since(start),
			BackupPath:  backupPath,
		}, nil
	}

	if err := c.rb.MarkIntent(txID); err != nil {
		_ = c.rb.Rollback(txID, "")
		return nil, err
	}
	if err := c.rb.Commit(txID, ""); err != nil {
		_ = c.rb.Rollback(txID, "")
		return nil, err
	}

	if backupPath != "" && !opts.RetainBackup {
		if err := c.backup.Remove(backupPath); err != nil {
			logx.Get().Warn("create: backup cleanup failed path=%s error=%v", backupPath, err)
		}
	}

	logx.Get().Info("file created path=%s bytes=%d mode=%s duration_ms=%d", path, cs.Size, mode, time.Since(start).Milliseconds())
	return &Result{
		Path:         path,
		BytesWritten: cs.Size,
		Mode:         mode,
		OperationID:  operationID,
		Checksum:     cs,
		Duration:     time.Since(start),
	}, nil
}

func (c *Creator) stat(path string) (exists bool, mode os.FileMode, err error) {
	info, statErr := c.fsys.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, 0, nil
		}
		return false, 0, statErr
	}
	return true, info.Mode().Perm(), nil
}

func afExists(fsys fsx.FS, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	return false, err
}

