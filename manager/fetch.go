package manager

import (
	"context"

	"github.com/adamwoolhether/xfer/transfer"
)

// FetchData returns the content of rawURL, served from the memory cache
// when present. Otherwise the URL is downloaded through DownloadFile, so
// concurrent fetches of one URL share a transfer, and the file content is
// kept in the memory cache.
func (m *Manager) FetchData(rawURL string, completion transfer.CompletionFunc[[]byte], opts ...RequestOption) transfer.Handle {
	name := CacheName(rawURL)

	if b, ok := m.mem.Get(name); ok {
		if completion != nil {
			completion(rawURL, transfer.Outcome[[]byte]{Value: b})
		}
		return transfer.Handle{Class: transfer.ClassDownload, Key: rawURL}
	}

	return m.DownloadFile(rawURL, func(key string, out transfer.Outcome[string]) {
		if completion == nil {
			return
		}
		if out.Err != nil {
			completion(key, transfer.Outcome[[]byte]{Err: out.Err})
			return
		}

		b, err := m.files.Read(name)
		if err != nil {
			completion(key, transfer.Outcome[[]byte]{Err: transfer.NewError(transfer.ErrOther, key, err)})
			return
		}
		if !m.mem.Set(name, b) {
			m.logger.Debug("memory cache rejected entry", "url", key, "size", len(b))
		}
		completion(key, transfer.Outcome[[]byte]{Value: b})
	}, opts...)
}

// FetchDataWait is the blocking form of FetchData.
func (m *Manager) FetchDataWait(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	done := make(chan transfer.Outcome[[]byte], 1)
	m.FetchData(rawURL, func(_ string, out transfer.Outcome[[]byte]) {
		done <- out
	}, opts...)

	select {
	case out := <-done:
		return out.Value, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
