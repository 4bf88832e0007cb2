package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/xfer/manager"
)

// NewRequestCmd performs a single request and prints the response body.
func NewRequestCmd() *cobra.Command {
	var (
		method  string
		headers []string
		data    string
	)

	cmd := &cobra.Command{
		Use:   "request URL",
		Short: "Perform a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			opts := []manager.RequestOption{manager.WithMethod(method), manager.WithHeaders(h)}
			if data != "" {
				opts = append(opts, manager.WithBody([]byte(data)))
			}

			return withManager(cmd, func(m *manager.Manager) error {
				body, err := m.MakeRequestWait(cmd.Context(), args[0], opts...)
				if err != nil {
					return err
				}

				_, err = cmd.OutOrStdout().Write(body)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header, "Name: value"`)
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")

	return cmd
}
