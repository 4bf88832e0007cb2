// Package cli implements the xfer command line: downloads into the
// shared cache, uploads and plain requests through the transfer manager.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/xfer"
	"github.com/adamwoolhether/xfer/manager"
)

// NewRootCmd returns the xfer command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "xfer",
		Short:        "xfer: coalescing HTTP transfer manager",
		SilenceUsage: true,
	}

	bindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewGetCmd())
	rootCmd.AddCommand(NewUploadCmd())
	rootCmd.AddCommand(NewRequestCmd())
	rootCmd.AddCommand(NewCacheCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

// withManager builds a manager from the configuration of cmd, runs fn and
// closes the manager.
func withManager(cmd *cobra.Command, fn func(m *manager.Manager) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts, err := cfg.options(cfg.logger())
	if err != nil {
		return err
	}

	m, err := xfer.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(m)
}
