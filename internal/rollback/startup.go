package rollback

import (
	"fmt"
	"time"

	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
)

// RunStartupRecovery wires RunRecovery to engine configuration: the
// transaction base directory comes from cfg, destRoot is the root directory
// interrupted commits should be finished into, and recovery is skipped
// entirely when the engine is configured with DisableStartupRecovery
// (ATOMIX_DISABLE_RECOVERY).
func RunStartupRecovery(fsys fsx.FS, cfg config.Config, destRoot string) (*Manager, *RecoveryResult, error) {
	manager := NewManager(fsys, cfg.TxnBaseDir(), cfg.HistoryRetention())
	manager.SetCommittedRetention(time.Duration(cfg.CommittedRetentionMs()) * time.Millisecond)

	if cfg.DisableStartupRecovery() {
		logx.Get().Info("startup recovery disabled by configuration")
		return manager, &RecoveryResult{}, nil
	}

	result, err := RunRecovery(manager, destRoot)
	if err != nil {
		return manager, result, fmt.Errorf("startup recovery: %w", err)
	}
	return manager, result, nil
}
