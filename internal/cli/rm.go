package cli

import (
	"github.com/fileforge/atomix/internal/engine"
	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	var (
		retainBackup bool
		txnID        string
	)

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file atomically (backed up first so it is rollback-compensable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			res, err := e.Delete(args[0], engine.DeleteOptions{
				RetainBackup: retainBackup,
				TxnID:        txnIDOrEmpty(txnID),
			})
			if err != nil {
				return err
			}
			if res.BackupPath != "" {
				cmd.Printf("deleted %s (backup retained at %s)\n", res.Path, res.BackupPath)
			} else {
				cmd.Printf("deleted %s\n", res.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&retainBackup, "retain-backup", false, "keep the backup instead of deleting it once committed")
	cmd.Flags().StringVar(&txnID, "txn", "", "join an existing transaction instead of committing immediately")
	return cmd
}
