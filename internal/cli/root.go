// Package cli is the atomix command-line interface: one cobra command per
// engine operation (create, write, append, rm, chmod, chown, tx, gc,
// doctor), wired against a single engine.Engine built from on-disk config
// plus whatever flags the user passed.
package cli

import (
	"fmt"
	"os"

	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/engine"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/spf13/cobra"
)

var (
	flagBaseDir  string
	flagDestRoot string
)

// NewRoot builds the atomix command tree.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "atomix",
		Short: "Atomic file operations engine",
		RunE:  func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", ".", "directory to load atomix.json/atomix.yaml from")
	cmd.PersistentFlags().StringVar(&flagDestRoot, "dest-root", "", "root committed transactions apply into (default: absolute paths used as-is)")

	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newWriteCmd())
	cmd.AddCommand(newAppendCmd())
	cmd.AddCommand(newWriteJSONCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newChmodCmd())
	cmd.AddCommand(newChownCmd())
	cmd.AddCommand(newTxCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newDoctorCmd())
	return cmd
}

// openEngine loads configuration from flagBaseDir and builds a real-
// filesystem Engine. Callers must Shutdown() it before returning.
func openEngine() (*engine.Engine, error) {
	cfg, err := config.LoadSettings(flagBaseDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e, recovery, err := engine.New(engine.Options{
		Fsys:            fsx.NewOsFS(),
		Cfg:             cfg,
		DestRoot:        flagDestRoot,
		RegisterSignals: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	if recovery != nil && recovery.TotalFound > 0 {
		fmt.Fprintf(os.Stderr, "startup recovery: found=%d recovered=%d cleaned=%d failed=%d\n",
			recovery.TotalFound, recovery.Recovered, recovery.Cleaned, recovery.Failed)
	}
	return e, nil
}
