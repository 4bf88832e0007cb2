package manager

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// UploadFile sends the file at path to rawURL and reports the response
// body to completion. The default method is POST.
//
// Content-Length is taken from the file and Content-Type is detected from
// its content unless given. A missing file or an invalid URL is reported
// to completion before UploadFile returns, and nothing is registered.
func (m *Manager) UploadFile(rawURL, path string, completion transfer.CompletionFunc[[]byte], opts ...RequestOption) string {
	id := uuid.NewString()

	ro, err := applyRequestOptions(opts)
	if err != nil {
		deliverNow(completion, id, transfer.NewError(transfer.ErrOther, id, err))
		return id
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		m.logger.Info("rejected upload", "request_id", id, "path", path, "error", transfer.ErrFileNotFound)
		deliverNow(completion, id, transfer.NewError(transfer.ErrFileNotFound, id, err))
		return id
	}
	if !validURL(rawURL) {
		m.logger.Info("rejected upload", "request_id", id, "url", rawURL, "error", transfer.ErrInvalidURL)
		deliverNow(completion, id, transfer.NewError(transfer.ErrInvalidURL, id, nil))
		return id
	}

	header := m.header(transfer.ClassUpload, ro.header)
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if header.Get("Content-Type") == "" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			header.Set("Content-Type", mt.String())
		}
	}

	up := transfer.NewUpload(id, rawURL, ro.progress, completion)
	if !register(m.uploads, up) {
		deliverNow(completion, id, transfer.NewError(transfer.ErrAlreadyExists, id, nil))
		return id
	}

	startStream(m, transfer.ClassUpload, m.uploads, m.uploadTasks, up, session.TaskSpec{
		Kind:        session.KindUpload,
		Method:      methodOr(ro.method, http.MethodPost),
		URL:         rawURL,
		Header:      header,
		BodyFile:    path,
		Description: id,
	})

	return id
}

// UploadMultipart sends parts as a multipart/form-data body to rawURL.
// The default method is POST.
func (m *Manager) UploadMultipart(rawURL string, parts []Part, completion transfer.CompletionFunc[[]byte], opts ...RequestOption) string {
	id := uuid.NewString()

	ro, err := applyRequestOptions(opts)
	if err != nil {
		deliverNow(completion, id, transfer.NewError(transfer.ErrOther, id, err))
		return id
	}
	if !validURL(rawURL) {
		m.logger.Info("rejected upload", "request_id", id, "url", rawURL, "error", transfer.ErrInvalidURL)
		deliverNow(completion, id, transfer.NewError(transfer.ErrInvalidURL, id, nil))
		return id
	}

	body, contentType, err := encodeMultipart(parts, "Boundary-"+uuid.NewString())
	if err != nil {
		deliverNow(completion, id, transfer.NewError(transfer.ErrOther, id, err))
		return id
	}

	header := m.header(transfer.ClassUpload, ro.header)
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))

	up := transfer.NewUpload(id, rawURL, ro.progress, completion)
	if !register(m.uploads, up) {
		deliverNow(completion, id, transfer.NewError(transfer.ErrAlreadyExists, id, nil))
		return id
	}

	startStream(m, transfer.ClassUpload, m.uploads, m.uploadTasks, up, session.TaskSpec{
		Kind:        session.KindUpload,
		Method:      methodOr(ro.method, http.MethodPost),
		URL:         rawURL,
		Header:      header,
		Body:        body,
		Description: id,
	})

	return id
}

// UploadProgress returns the share of the request body of the live upload
// id sent so far, or 0.
func (m *Manager) UploadProgress(id string) float64 {
	if up, ok := m.uploads.Get(id); ok {
		return up.Fraction()
	}
	return 0
}

func methodOr(method, fallback string) string {
	if method == "" {
		return fallback
	}
	return method
}
