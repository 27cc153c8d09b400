package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// doctorReport is the --json output shape for `atomix doctor`: a metrics
// snapshot plus the most recent transaction history entries.
type doctorReport struct {
	Metrics interface{} `json:"metrics"`
	History interface{} `json:"history"`
}

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput   bool
		historyLimit int
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print a metrics snapshot and recent transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Shutdown()

			snap := e.Metrics()
			history, err := e.History(historyLimit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(doctorReport{Metrics: snap, History: history})
			}

			cmd.Printf("operations: total=%d successful=%d failed=%d\n", snap.TotalOperations, snap.Successful, snap.Failed)
			cmd.Printf("bytes processed: %d  ops/sec: %.2f  avg duration: %s\n", snap.TotalBytesProcessed, snap.OpsPerSecond, snap.AvgDuration)
			cmd.Printf("fsync calls: %d  retry attempts: %d\n", snap.TotalFsyncCalls, snap.TotalRetryAttempts)
			for kind, count := range snap.OperationTypes {
				cmd.Printf("  %-8s %d\n", kind, count)
			}
			for code, count := range snap.ErrorStats {
				cmd.Printf("  error %-24s %d\n", code, count)
			}
			cmd.Printf("recent transactions (%d):\n", len(history))
			for _, h := range history {
				cmd.Printf("  %s  %-12s ops=%d  %s  %s\n", h.TransactionID, h.Status, h.OperationCount, h.FinishedAt.Format("2006-01-02T15:04:05Z07:00"), h.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output machine-readable JSON")
	cmd.Flags().IntVar(&historyLimit, "history-limit", 20, "number of recent transactions to list")
	return cmd
}
