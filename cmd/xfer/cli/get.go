package cli

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/xfer/manager"
	"github.com/adamwoolhether/xfer/transfer"
)

// NewGetCmd downloads every URL argument concurrently and prints the
// cached path of each, in argument order.
func NewGetCmd() *cobra.Command {
	var (
		tag     string
		headers []string
		attach  bool
	)

	cmd := &cobra.Command{
		Use:   "get URL...",
		Short: "Download URLs into the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			return withManager(cmd, func(m *manager.Manager) error {
				if attach {
					err := m.AttachExistingTransfers(cmd.Context(), func(hd transfer.Handle, state transfer.State) {
						fmt.Fprintf(cmd.ErrOrStderr(), "found %s (%s)\n", hd.Key, state)
					})
					if err != nil {
						return err
					}
				}

				return download(cmd, m, args, manager.WithTag(tag), manager.WithHeaders(h))
			})
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "tag stored with the download tasks")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header, "Name: value"`)
	cmd.Flags().BoolVar(&attach, "attach", false, "resume downloads journaled by a previous run (needs --journal-dir)")

	return cmd
}

func download(cmd *cobra.Command, m *manager.Manager, urls []string, opts ...manager.RequestOption) error {
	out := make([]transfer.Outcome[string], len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		m.DownloadFile(u, func(_ string, o transfer.Outcome[string]) {
			out[i] = o
			wg.Done()
		}, opts...)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-cmd.Context().Done():
		for _, u := range urls {
			m.CancelDownload(u)
		}
		<-done
	}

	var failed int
	for i, o := range out {
		if o.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", urls[i], o.Err)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), o.Value)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(urls))
	}

	return nil
}
