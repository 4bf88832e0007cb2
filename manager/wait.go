package manager

import (
	"context"

	"github.com/adamwoolhether/xfer/transfer"
)

// The Wait variants block the calling goroutine until the transfer
// finishes or ctx ends. They must not be called from a completion or
// progress listener.

// DownloadFileWait is the blocking form of DownloadFile. When ctx ends the
// download keeps running for the other callers that joined it.
func (m *Manager) DownloadFileWait(ctx context.Context, rawURL string, opts ...RequestOption) (string, error) {
	done := make(chan transfer.Outcome[string], 1)
	m.DownloadFile(rawURL, func(_ string, out transfer.Outcome[string]) {
		done <- out
	}, opts...)

	select {
	case out := <-done:
		return out.Value, out.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// UploadFileWait is the blocking form of UploadFile. The upload is
// cancelled when ctx ends.
func (m *Manager) UploadFileWait(ctx context.Context, rawURL, path string, opts ...RequestOption) ([]byte, error) {
	done := make(chan transfer.Outcome[[]byte], 1)
	id := m.UploadFile(rawURL, path, func(_ string, out transfer.Outcome[[]byte]) {
		done <- out
	}, opts...)

	return m.waitStream(ctx, id, done)
}

// UploadMultipartWait is the blocking form of UploadMultipart.
func (m *Manager) UploadMultipartWait(ctx context.Context, rawURL string, parts []Part, opts ...RequestOption) ([]byte, error) {
	done := make(chan transfer.Outcome[[]byte], 1)
	id := m.UploadMultipart(rawURL, parts, func(_ string, out transfer.Outcome[[]byte]) {
		done <- out
	}, opts...)

	return m.waitStream(ctx, id, done)
}

// MakeRequestWait is the blocking form of MakeRequest. The request is
// cancelled when ctx ends.
func (m *Manager) MakeRequestWait(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	done := make(chan transfer.Outcome[[]byte], 1)
	id := m.MakeRequest(rawURL, func(_ string, out transfer.Outcome[[]byte]) {
		done <- out
	}, opts...)

	return m.waitStream(ctx, id, done)
}

func (m *Manager) waitStream(ctx context.Context, id string, done <-chan transfer.Outcome[[]byte]) ([]byte, error) {
	select {
	case out := <-done:
		return out.Value, out.Err
	case <-ctx.Done():
		m.CancelRequest(id)
		return nil, ctx.Err()
	}
}
