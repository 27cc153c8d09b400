package cli

import "github.com/spf13/cobra"

// newTxCmd groups the transaction-control operations the CLI exposes on top
// of Create/Write/Delete/ChangeMode's --txn join flag: a caller runs
// `atomix tx begin`, joins several operations with --txn <id>, then commits
// or rolls back the whole batch in one compensating-action unit.
func newTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Manage multi-operation transactions",
	}
	cmd.AddCommand(newTxBeginCmd())
	cmd.AddCommand(newTxCheckpointCmd())
	cmd.AddCommand(newTxCommitCmd())
	cmd.AddCommand(newTxRollbackCmd())
	return cmd
}

func newTxBeginCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Start a new transaction and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			txID, err := e.Begin(description)
			if err != nil {
				return err
			}
			cmd.Println(string(txID))
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "human-readable note stored on the transaction")
	return cmd
}

func newTxCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint <txn-id> <name>",
		Short: "Name the current position in a transaction's operation list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()
			return e.Checkpoint(txnIDOrEmpty(args[0]), args[1])
		},
	}
	return cmd
}

func newTxCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <txn-id>",
		Short: "Finish a transaction: rename every staged file into place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()
			if err := e.Commit(txnIDOrEmpty(args[0])); err != nil {
				return err
			}
			cmd.Printf("committed %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newTxRollbackCmd() *cobra.Command {
	var toCheckpoint string
	cmd := &cobra.Command{
		Use:   "rollback <txn-id>",
		Short: "Undo a transaction entirely, or back to a named checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()
			if err := e.Rollback(txnIDOrEmpty(args[0]), toCheckpoint); err != nil {
				return err
			}
			cmd.Printf("rolled back %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&toCheckpoint, "to-checkpoint", "", "undo only back to this checkpoint, leaving the transaction open")
	return cmd
}
