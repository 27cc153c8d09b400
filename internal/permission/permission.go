// Package permission implements the engine's PermissionManager (spec
// §4.6): ChangeMode, ChangeOwnership and PreserveFrom. Only ChangeMode
// called with a transaction id records a permission_change rollback
// operation, so only that mode change can be undone like any other tracked
// write; ChangeMode without a transaction id, ChangeOwnership and
// PreserveFrom record none.
package permission

import (
	"os"
	"time"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
	"github.com/fileforge/atomix/internal/rollback"
)

// Result is returned on a successful permission change.
type Result struct {
	Path         string
	Mode         os.FileMode
	OriginalMode os.FileMode
	OperationID  string
	Duration     time.Duration
}

// Manager is the engine's PermissionManager.
type Manager struct {
	fsys fsx.FS
	rb   *rollback.Manager
}

// New builds a permission Manager sharing the engine's transaction manager
// with Creator and Writer, so a permission change's compensating action
// rolls back the same way theirs do.
func New(fsys fsx.FS, rb *rollback.Manager) *Manager {
	return &Manager{fsys: fsys, rb: rb}
}

func validateMode(mode os.FileMode) error {
	if mode&^os.FileMode(0o777) != 0 {
		return atomixerr.New(atomixerr.InvalidOperation, "mode must satisfy 0 <= mode <= 0o777")
	}
	return nil
}

func validateID(id int, label string) error {
	if id < 0 {
		return atomixerr.New(atomixerr.InvalidOperation, label+" must be a non-negative integer")
	}
	return nil
}

// ChangeMode applies newMode to path. If the caller passes a txID (joining
// a caller-managed transaction), the rollback operation is recorded there
// instead of Manager applying the change outside any transaction.
func (m *Manager) ChangeMode(path string, newMode os.FileMode, txID rollback.TransactionID) (*Result, error) {
	start := time.Now()
	if err := validateMode(newMode); err != nil {
		return nil, err
	}

	info, err := m.fsys.Stat(path)
	if err != nil {
		return nil, atomixerr.Wrap(atomixerr.FileNotFound, path, err)
	}
	originalMode := info.Mode().Perm()

	if err := m.fsys.Chmod(path, newMode); err != nil {
		return nil, atomixerr.Wrap(atomixerr.PermissionDenied, path, err)
	}

	op := rollback.RollbackOperation{
		Kind:         rollback.KindPermissionChange,
		TargetPath:   path,
		OriginalMode: originalMode,
	}
	if txID != "" {
		if err := m.rb.AddOperation(txID, op); err != nil {
			logx.Get().Warn("permission: failed to journal rollback operation path=%s error=%v", path, err)
		}
	}

	logx.Get().Info("permission changed path=%s mode=%s duration_ms=%d", path, newMode, time.Since(start).Milliseconds())
	return &Result{Path: path, Mode: newMode, OriginalMode: originalMode, Duration: time.Since(start)}, nil
}

// ChangeOwnership applies uid/gid to path. Ownership changes are not
// journaled as a compensable rollback step (the engine has no reliable
// cross-platform way to read back "original ownership" the way it reads
// back mode via Stat — afero's portable FileInfo does not expose uid/gid);
// callers that need ownership rollback must capture it themselves via
// preserveOwnership before calling this.
func (m *Manager) ChangeOwnership(path string, uid, gid int) (*Result, error) {
	start := time.Now()
	if err := validateID(uid, "uid"); err != nil {
		return nil, err
	}
	if err := validateID(gid, "gid"); err != nil {
		return nil, err
	}

	if err := m.fsys.Chown(path, uid, gid); err != nil {
		return nil, atomixerr.Wrap(atomixerr.PermissionDenied, path, err)
	}

	logx.Get().Info("ownership changed path=%s uid=%d gid=%d duration_ms=%d", path, uid, gid, time.Since(start).Milliseconds())
	return &Result{Path: path, Duration: time.Since(start)}, nil
}

// PreserveFrom copies source's mode onto target, and its ownership too when
// preserveOwnership is set.
func (m *Manager) PreserveFrom(source, target string, preserveOwnership bool) (*Result, error) {
	info, err := m.fsys.Stat(source)
	if err != nil {
		return nil, atomixerr.Wrap(atomixerr.FileNotFound, source, err)
	}

	res, err := m.ChangeMode(target, info.Mode().Perm(), "")
	if err != nil {
		return nil, err
	}

	if preserveOwnership {
		if uid, gid, ok := ownershipOf(info); ok {
			if _, err := m.ChangeOwnership(target, uid, gid); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}
