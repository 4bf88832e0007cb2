package cli

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/xfer/manager"
)

// NewUploadCmd uploads a file and prints the response body.
func NewUploadCmd() *cobra.Command {
	var (
		method  string
		headers []string
		field   string
	)

	cmd := &cobra.Command{
		Use:   "upload URL FILE",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			opts := []manager.RequestOption{manager.WithMethod(method), manager.WithHeaders(h)}

			return withManager(cmd, func(m *manager.Manager) error {
				var (
					body []byte
					err  error
				)
				if field != "" {
					body, err = uploadMultipart(cmd, m, args[0], args[1], field, opts)
				} else {
					body, err = m.UploadFileWait(cmd.Context(), args[0], args[1], opts...)
				}
				if err != nil {
					return err
				}

				_, err = cmd.OutOrStdout().Write(body)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodPost, "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header, "Name: value"`)
	cmd.Flags().StringVar(&field, "form", "", "send the file as this multipart form field")

	return cmd
}

func uploadMultipart(cmd *cobra.Command, m *manager.Manager, url, path, field string, opts []manager.RequestOption) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	part := manager.FilePart(field, filepath.Base(path), data)
	return m.UploadMultipartWait(cmd.Context(), url, []manager.Part{part}, opts...)
}
