package manager

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// MakeRequest performs a request to rawURL and reports the response body
// to completion. Requests never coalesce: every call gets its own id.
// The default method is GET.
func (m *Manager) MakeRequest(rawURL string, completion transfer.CompletionFunc[[]byte], opts ...RequestOption) string {
	id := uuid.NewString()

	ro, err := applyRequestOptions(opts)
	if err != nil {
		deliverNow(completion, id, transfer.NewError(transfer.ErrOther, id, err))
		return id
	}
	if !validURL(rawURL) {
		m.logger.Info("rejected request", "request_id", id, "url", rawURL, "error", transfer.ErrInvalidURL)
		deliverNow(completion, id, transfer.NewError(transfer.ErrInvalidURL, id, nil))
		return id
	}

	req := transfer.NewRequest(id, rawURL, completion)
	if !register(m.requests, req) {
		deliverNow(completion, id, transfer.NewError(transfer.ErrAlreadyExists, id, nil))
		return id
	}

	startStream(m, transfer.ClassRequest, m.requests, m.requestTasks, req, session.TaskSpec{
		Kind:        session.KindData,
		Method:      methodOr(ro.method, http.MethodGet),
		URL:         rawURL,
		Header:      m.header(transfer.ClassRequest, ro.header),
		Body:        ro.body,
		Description: id,
	})

	return id
}

// CancelRequest cancels the live upload or request id. A download URL is
// accepted too. It reports whether a live transfer was found.
func (m *Manager) CancelRequest(id string) bool {
	if up, ok := m.uploads.Get(id); ok {
		m.logger.Info("upload cancelled", "request_id", id)
		settle(m.uploads, id, up, up.Cancel())
		return true
	}
	if req, ok := m.requests.Get(id); ok {
		m.logger.Info("request cancelled", "request_id", id)
		settle(m.requests, id, req, req.Cancel())
		return true
	}
	_, ok := m.CancelDownload(id)
	return ok
}

// AddRequestListeners joins the live upload or request id. A transfer
// that finished concurrently delivers its outcome right away. It reports
// false when id is unknown.
func (m *Manager) AddRequestListeners(id string, progress transfer.ProgressFunc, completion transfer.CompletionFunc[[]byte]) bool {
	if up, ok := m.uploads.Get(id); ok {
		joinStream(up, id, progress, completion)
		return true
	}
	if req, ok := m.requests.Get(id); ok {
		joinStream(req, id, progress, completion)
		return true
	}
	return false
}

type joinable interface {
	AddListeners(transfer.ProgressFunc, transfer.CompletionFunc[[]byte]) bool
	Result() (transfer.Outcome[[]byte], bool)
}

func joinStream(it joinable, id string, progress transfer.ProgressFunc, completion transfer.CompletionFunc[[]byte]) {
	if it.AddListeners(progress, completion) {
		return
	}
	if out, done := it.Result(); done && completion != nil {
		completion(id, out)
	}
}
