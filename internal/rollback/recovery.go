package rollback

import (
	"fmt"
	"path/filepath"

	"github.com/fileforge/atomix/internal/logx"
)

// RecoveryResult summarizes what RunRecovery did with the transaction
// directories it found on disk at startup.
type RecoveryResult struct {
	TotalFound int
	Recovered  int
	Cleaned    int
	Failed     int
	Errors     []error
}

// RunRecovery scans m's base directory for transactions left behind by a
// crashed process and finishes or discards them: transactions marked
// intent-ready are completed (staged files renamed into destRoot), already
// committed ones are cleaned up, and anything less durable than "intent" is
// left untouched for an operator to inspect (its files were never promised).
func RunRecovery(m *Manager, destRoot string) (*RecoveryResult, error) {
	result := &RecoveryResult{}

	scanResult, err := scan(m.fsys, m.baseDir)
	if err != nil {
		return result, fmt.Errorf("scan transaction directory: %w", err)
	}
	result.TotalFound = scanResult.TotalFound

	for _, id := range scanResult.IntentOnly {
		tx, err := m.reconstruct(id)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("reconstruct %s: %w", id, err))
			continue
		}
		if err := m.Commit(tx.ID, destRoot); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("finish commit %s: %w", id, err))
			logx.Get().Error("recovery: failed to finish commit id=%s error=%v", id, err)
			continue
		}
		result.Recovered++
		logx.Get().Info("recovery: finished interrupted commit id=%s", id)
	}

	for _, id := range scanResult.Committed {
		if err := m.fsys.RemoveAll(filepath.Join(m.baseDir, string(id))); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("cleanup %s: %w", id, err))
			continue
		}
		result.Cleaned++
	}

	logx.Get().Info("recovery complete found=%d recovered=%d cleaned=%d failed=%d",
		result.TotalFound, result.Recovered, result.Cleaned, result.Failed)
	return result, nil
}
