package rollback

import (
	"fmt"
	"os"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
)

// compensate undoes a single RollbackOperation according to its Kind, per
// the compensating-actions table (spec §4.5): file_create unlinks, overwrite
// and delete restore from backup, directory_create removes the directory,
// and permission_change chmods back to the original mode (ownership is not
// restored).
func compensate(fsys fsx.FS, op *RollbackOperation) error {
	switch op.Kind {
	case KindFileCreate:
		return compensateFileCreate(fsys, op)
	case KindFileOverwrite:
		return compensateFileOverwrite(fsys, op)
	case KindFileDelete:
		return compensateFileDelete(fsys, op)
	case KindDirectoryCreate:
		return compensateDirectoryCreate(fsys, op)
	case KindPermissionChange:
		return compensatePermissionChange(fsys, op)
	default:
		return atomixerr.New(atomixerr.InvalidOperation, "unknown rollback operation kind: "+string(op.Kind))
	}
}

func compensateFileCreate(fsys fsx.FS, op *RollbackOperation) error {
	if err := fsys.Remove(op.TargetPath); err != nil && !os.IsNotExist(err) {
		op.addStep(StepDelete, "undo file_create: remove created file", op.TargetPath, false)
		return atomixerr.Wrap(atomixerr.RollbackFailed, op.TargetPath, err)
	}
	op.addStep(StepDelete, "undo file_create: remove created file", op.TargetPath, true)
	return nil
}

func compensateFileOverwrite(fsys fsx.FS, op *RollbackOperation) error {
	if op.BackupPath == "" {
		return atomixerr.New(atomixerr.NoBackupAvailable, "no backup recorded for file_overwrite rollback")
	}
	if err := fsx.AtomicRename(fsys, op.BackupPath, op.TargetPath); err != nil {
		op.addStep(StepRename, "undo file_overwrite: restore backup", op.TargetPath, false)
		return atomixerr.Wrap(atomixerr.RollbackFailed, op.TargetPath, err)
	}
	if op.OriginalMode != 0 {
		if err := fsys.Chmod(op.TargetPath, op.OriginalMode); err != nil {
			logx.Get().Warn("rollback: failed to restore original mode path=%s error=%v", op.TargetPath, err)
		}
	}
	op.addStep(StepRename, "undo file_overwrite: restore backup", op.TargetPath, true)
	return nil
}

func compensateFileDelete(fsys fsx.FS, op *RollbackOperation) error {
	if op.BackupPath == "" {
		return atomixerr.New(atomixerr.NoBackupAvailable, "no backup recorded for file_delete rollback")
	}
	if err := fsx.AtomicRename(fsys, op.BackupPath, op.TargetPath); err != nil {
		op.addStep(StepRename, "undo file_delete: recreate from backup", op.TargetPath, false)
		return atomixerr.Wrap(atomixerr.RollbackFailed, op.TargetPath, err)
	}
	if op.OriginalMode != 0 {
		if err := fsys.Chmod(op.TargetPath, op.OriginalMode); err != nil {
			logx.Get().Warn("rollback: failed to restore original mode path=%s error=%v", op.TargetPath, err)
		}
	}
	op.addStep(StepRename, "undo file_delete: recreate from backup", op.TargetPath, true)
	return nil
}

func compensateDirectoryCreate(fsys fsx.FS, op *RollbackOperation) error {
	if err := fsys.Remove(op.TargetPath); err != nil && !os.IsNotExist(err) {
		op.addStep(StepDelete, "undo directory_create: remove created directory", op.TargetPath, false)
		return atomixerr.Wrap(atomixerr.RollbackFailed, op.TargetPath, err)
	}
	op.addStep(StepDelete, "undo directory_create: remove created directory", op.TargetPath, true)
	return nil
}

func compensatePermissionChange(fsys fsx.FS, op *RollbackOperation) error {
	if op.OriginalMode == 0 {
		return atomixerr.New(atomixerr.NoBackupAvailable, "no original mode recorded for permission_change rollback")
	}
	if err := fsys.Chmod(op.TargetPath, op.OriginalMode); err != nil {
		op.addStep(StepPermissions, fmt.Sprintf("undo permission_change: restore mode %o", op.OriginalMode), op.TargetPath, false)
		return atomixerr.Wrap(atomixerr.RollbackFailed, op.TargetPath, err)
	}
	op.addStep(StepPermissions, fmt.Sprintf("undo permission_change: restore mode %o", op.OriginalMode), op.TargetPath, true)
	return nil
}
