package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run one temp-file sweep pass immediately (abandoned trackers + stale directory entries)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			abandoned, stale := e.GC(maxAge)
			cmd.Printf("swept: %d abandoned temp files, %d stale directory entries\n", abandoned, stale)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 5*time.Minute, "reap temp files/entries older than this")
	return cmd
}
