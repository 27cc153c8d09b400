package cli

import (
	"os"

	"github.com/fileforge/atomix/internal/checksum"
	"github.com/fileforge/atomix/internal/creator"
	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	var (
		overwrite bool
		mode      uint32
		algo      string
		txnID     string
	)

	cmd := &cobra.Command{
		Use:   "create <path> <content-file>",
		Short: "Create a new file atomically",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			res, err := e.Create(args[0], content, creator.Options{
				Overwrite:         overwrite,
				Mode:              os.FileMode(mode),
				ChecksumAlgorithm: checksum.Algorithm(algo),
				TxnID:             txnIDOrEmpty(txnID),
			})
			if err != nil {
				return err
			}
			cmd.Printf("created %s (%d bytes, mode %s)\n", res.Path, res.BytesWritten, res.Mode)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow overwriting an existing file")
	cmd.Flags().Uint32Var(&mode, "mode", 0o644, "file mode")
	cmd.Flags().StringVar(&algo, "checksum-algo", "", "checksum algorithm (md5|sha1|sha256|sha512), \"\" = engine default")
	cmd.Flags().StringVar(&txnID, "txn", "", "join an existing transaction instead of committing immediately")
	return cmd
}
