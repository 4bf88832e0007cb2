package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/xfer/manager"
)

// NewCacheCmd groups the download cache commands.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the download cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dir",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(m *manager.Manager) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), m.CacheDir())
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(m *manager.Manager) error {
				return m.ClearDownloadCache()
			})
		},
	})

	return cmd
}
