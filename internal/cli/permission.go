package cli

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newChmodCmd() *cobra.Command {
	var txnID string

	cmd := &cobra.Command{
		Use:   "chmod <path> <mode>",
		Short: "Change a file's permission mode, journaled as a compensable rollback step when --txn is given",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := strconv.ParseUint(args[1], 8, 32)
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			res, err := e.ChangeMode(args[0], os.FileMode(mode), txnIDOrEmpty(txnID))
			if err != nil {
				return err
			}
			cmd.Printf("%s: mode %s -> %s\n", res.Path, res.OriginalMode, res.Mode)
			return nil
		},
	}

	cmd.Flags().StringVar(&txnID, "txn", "", "join an existing transaction instead of applying immediately")
	return cmd
}

func newChownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chown <path> <uid> <gid>",
		Short: "Change a file's owner/group (not journaled as a rollback step; see docs)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			gid, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			res, err := e.ChangeOwnership(args[0], uid, gid)
			if err != nil {
				return err
			}
			cmd.Printf("%s: ownership changed\n", res.Path)
			return nil
		},
	}
	return cmd
}
