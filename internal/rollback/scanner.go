package rollback

import (
	"path/filepath"
	"time"

	"github.com/fileforge/atomix/internal/fsx"
	"github.com/spf13/afero"
)

// scanState classifies a transaction directory found on disk at startup.
type scanState string

const (
	scanIntentOnly scanState = "intent_only" // staged + intent, no commit: finish the rename
	scanCommitted  scanState = "committed"   // commit marker present: safe to clean up
	scanIncomplete scanState = "incomplete"  // manifest/stage present, no intent: left in place
	scanAbandoned  scanState = "abandoned"   // no markers at all: left in place
)

// ScanResult groups the transaction directories under a base directory by
// the recovery action they need.
type ScanResult struct {
	TotalFound int
	IntentOnly []TransactionID
	Committed  []TransactionID
	Incomplete []TransactionID
	Abandoned  []TransactionID
	ScannedAt  time.Time
}

// scan walks baseDir's immediate subdirectories (each one a transaction)
// and classifies each by which markers it finds on disk.
func scan(fsys fsx.FS, baseDir string) (*ScanResult, error) {
	result := &ScanResult{ScannedAt: time.Now().UTC()}

	if ok, _ := afExists(fsys, baseDir); !ok {
		return result, nil
	}

	entries, err := afero.ReadDir(fsys, baseDir)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := TransactionID(entry.Name())
		txnDir := filepath.Join(baseDir, entry.Name())
		result.TotalFound++

		switch classify(fsys, txnDir) {
		case scanIntentOnly:
			result.IntentOnly = append(result.IntentOnly, id)
		case scanCommitted:
			result.Committed = append(result.Committed, id)
		case scanIncomplete:
			result.Incomplete = append(result.Incomplete, id)
		case scanAbandoned:
			result.Abandoned = append(result.Abandoned, id)
		}
	}
	return result, nil
}

func classify(fsys fsx.FS, txnDir string) scanState {
	hasIntent, _ := afExists(fsys, filepath.Join(txnDir, "status.intent"))
	hasCommit, _ := afExists(fsys, filepath.Join(txnDir, "status.commit"))
	hasManifest, _ := afExists(fsys, filepath.Join(txnDir, "manifest.json"))
	hasStage, _ := afExists(fsys, filepath.Join(txnDir, "stage"))

	switch {
	case hasCommit:
		return scanCommitted
	case hasIntent:
		return scanIntentOnly
	case hasManifest || hasStage:
		return scanIncomplete
	default:
		return scanAbandoned
	}
}
