// Package rollback implements the engine's RollbackLog and TransactionManager
// (spec §4.5): a write-ahead log of staged files durable across crashes, plus
// an in-memory/forensics model of rollback steps and operations used to undo
// a partially-applied batch.
package rollback

import (
	"fmt"
	"os"
	"time"
)

// TransactionID identifies one transaction. Generated with ulid so history
// entries sort by creation time without a separate index.
type TransactionID string

// Status is the externally visible lifecycle state of a Transaction.
type Status string

const (
	StatusActive     Status = "active"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	default:
		return false
	}
}

// walPhase tracks the on-disk durability markers (stage/intent/commit) that
// make the manager's Commit idempotent across a crash. This is separate from
// Status: a transaction can be walPhase "intent" while its Status is still
// "active" from the caller's point of view, until forward recovery finishes.
type walPhase string

const (
	phaseStaged walPhase = "staged"
	phaseIntent walPhase = "intent"
	phaseCommit walPhase = "committed"
)

// OperationKind is one of the five compensable operation shapes the spec's
// rollback model distinguishes (§4.5).
type OperationKind string

const (
	KindFileCreate       OperationKind = "file_create"
	KindFileOverwrite    OperationKind = "file_overwrite"
	KindFileDelete       OperationKind = "file_delete"
	KindDirectoryCreate  OperationKind = "directory_create"
	KindPermissionChange OperationKind = "permission_change"
)

// StepKind classifies a single RollbackStep.
type StepKind string

const (
	StepBackup      StepKind = "backup"
	StepWrite       StepKind = "write"
	StepRename      StepKind = "rename"
	StepDelete      StepKind = "delete"
	StepPermissions StepKind = "permissions"
)

// RollbackStep is one journaled action taken while applying a
// RollbackOperation — recorded so a partially-applied operation can be
// unwound step by step instead of all-or-nothing.
type RollbackStep struct {
	StepNumber  int       `json:"stepNumber"`
	Description string    `json:"description"`
	Kind        StepKind  `json:"kind"`
	Path        string    `json:"path"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
}

// RollbackOperation is one compensable unit of work inside a transaction:
// a single create/overwrite/delete/mkdir/chmod plus everything needed to
// undo it.
type RollbackOperation struct {
	Kind           OperationKind  `json:"kind"`
	TargetPath     string         `json:"targetPath"`
	BackupPath     string         `json:"backupPath,omitempty"`
	OriginalMode   os.FileMode    `json:"originalMode,omitempty"`
	OriginalUID    int            `json:"originalUid,omitempty"`
	OriginalGID    int            `json:"originalGid,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	OperationID    string         `json:"operationId"`
	OperationIndex int            `json:"operationIndex"`
	Steps          []RollbackStep `json:"steps"`
	Completed      bool           `json:"completed"`
}

// addStep appends a journal entry and returns it, numbering steps from 1.
func (op *RollbackOperation) addStep(kind StepKind, description, path string, success bool) RollbackStep {
	step := RollbackStep{
		StepNumber:  len(op.Steps) + 1,
		Description: description,
		Kind:        kind,
		Path:        path,
		Timestamp:   time.Now().UTC(),
		Success:     success,
	}
	op.Steps = append(op.Steps, step)
	return step
}

// Checkpoint names a point in a transaction's operation list that Rollback
// can unwind to, instead of unwinding the whole transaction.
type Checkpoint struct {
	Name           string    `json:"name"`
	OperationIndex int       `json:"operationIndex"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Metadata carries the transaction's free-form description plus its
// checkpoint history.
type Metadata struct {
	Description string       `json:"description,omitempty"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
}

// Transaction groups operations that succeed or fail together (spec §3).
type Transaction struct {
	ID         TransactionID       `json:"id"`
	Operations []RollbackOperation `json:"operations"`
	StartTime  time.Time           `json:"startTime"`
	Status     Status              `json:"status"`
	Metadata   Metadata            `json:"metadata"`

	// baseDir/stageDir/undoDir/phase/manifestFiles are write-ahead-log
	// bookkeeping, not part of the public data model; they let Commit
	// survive a crash between staging and the final rename.
	baseDir       string
	stageDir      string
	undoDir       string
	phase         walPhase
	manifestFiles []stagedFile

	// finishedAt is when Commit/Rollback closed this transaction, used by
	// Manager.findAny to evict it once committedRetention has elapsed.
	finishedAt time.Time
}

// manifest is the on-disk record of a transaction's staged files, the WAL
// unit that makes Commit idempotent across process restarts.
type manifest struct {
	ID          TransactionID `json:"id"`
	Description string        `json:"description"`
	Files       []stagedFile  `json:"files"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// stagedFile is one entry of manifest.Files: a file written under stageDir
// awaiting the commit-time rename into place.
type stagedFile struct {
	Destination  string      `json:"destination"`
	Size         int64       `json:"size"`
	Mode         os.FileMode `json:"mode"`
	ChecksumAlgo string      `json:"checksumAlgo,omitempty"`
	ChecksumHex  string      `json:"checksumHex,omitempty"`
}

// intentMarker is written once every file in a transaction has been staged
// and verified; its presence tells forward recovery "safe to finish the
// rename phase", its absence tells recovery "discard, nothing was promised".
type intentMarker struct {
	TransactionID TransactionID `json:"transactionId"`
	MarkedAt      time.Time     `json:"markedAt"`
	Ready         bool          `json:"ready"`
}

// commitMarker is written after every staged file has been renamed into
// place; its presence makes a repeated Commit call a no-op.
type commitMarker struct {
	TransactionID  TransactionID `json:"transactionId"`
	CommittedAt    time.Time     `json:"committedAt"`
	CommittedFiles []string      `json:"committedFiles"`
}

// restoreOp is the undo-side counterpart of a stagedFile: what Rollback
// needs to put a path back the way it was.
type restoreOp struct {
	Kind       string `json:"kind"` // "overwrite", "delete", "create"
	TargetPath string `json:"targetPath"`
	UndoPath   string `json:"undoPath,omitempty"`
}

// BaseDir is the transaction's on-disk work directory.
func (tx *Transaction) BaseDir() string { return tx.baseDir }

// StageDir is where files awaiting commit are written.
func (tx *Transaction) StageDir() string { return tx.stageDir }

// UndoDir is where backups for this transaction's rollback operations may be
// kept, so a backup never outlives the transaction directory it belongs to.
func (tx *Transaction) UndoDir() string { return tx.undoDir }

// Error distinguishes what callers need to branch on differently: a
// transaction id that was never issued (transaction-not-found) vs. one that
// existed but has already been committed or rolled back and so can no
// longer accept operations (transaction-closed).
type Error struct {
	TransactionID TransactionID
	Code          string
	Message       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transaction %s: %s: %s", e.TransactionID, e.Code, e.Message)
}
