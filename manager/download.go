package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

const maxExtLen = 8

// CacheName returns the file cache name of the download of rawURL: the hex
// SHA-256 of the URL followed by the extension of its path.
func CacheName(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	name := hex.EncodeToString(sum[:])

	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= maxExtLen {
			name += ext
		}
	}
	return name
}

// DownloadFile downloads rawURL into the file cache and reports the cached
// path to completion.
//
// A call for a URL that is already downloading joins that transfer: its
// listeners are added and no new request is made. When the file is
// already cached, completion runs before DownloadFile returns and nothing
// is registered. Invalid URLs are reported the same way with
// [transfer.ErrInvalidURL].
func (m *Manager) DownloadFile(rawURL string, completion transfer.CompletionFunc[string], opts ...RequestOption) transfer.Handle {
	ro, err := applyRequestOptions(opts)
	handle := transfer.Handle{Class: transfer.ClassDownload, Key: rawURL, Tag: ro.tag}
	if err != nil {
		deliverNow(completion, rawURL, transfer.NewError(transfer.ErrOther, rawURL, err))
		return handle
	}
	if !validURL(rawURL) {
		m.logger.Info("rejected download", "url", rawURL, "error", transfer.ErrInvalidURL)
		deliverNow(completion, rawURL, transfer.NewError(transfer.ErrInvalidURL, rawURL, nil))
		return handle
	}

	name := CacheName(rawURL)

	for {
		if existing, ok := m.downloads.Get(rawURL); ok {
			if m.joinDownload(existing, ro.progress, completion) {
				return existing.Handle()
			}
			m.downloads.CompareAndDelete(rawURL, existing)
			continue
		}

		if m.files.Exists(name) {
			dl := transfer.NewDownload(rawURL, ro.tag, name, ro.progress, completion)
			m.logger.Debug("download served from cache", "url", rawURL, "name", name)
			dl.Finish(m.files.Path(name), nil).Deliver()
			return dl.Handle()
		}

		dl := transfer.NewDownload(rawURL, ro.tag, name, ro.progress, completion)
		actual, loaded := m.downloads.LoadOrStore(rawURL, dl)
		if loaded {
			if m.joinDownload(actual, ro.progress, completion) {
				return actual.Handle()
			}
			m.downloads.CompareAndDelete(rawURL, actual)
			continue
		}

		m.startDownload(dl, ro.header)
		return dl.Handle()
	}
}

// joinDownload adds listeners to a registered download. A download whose
// cancel the transport has not acknowledged yet hands its cancellation to
// completion right away. It reports false when dl finished otherwise and
// the caller should start over.
func (m *Manager) joinDownload(dl *transfer.Download, progress transfer.ProgressFunc, completion transfer.CompletionFunc[string]) bool {
	if dl.AddListeners(progress, completion) {
		m.logger.Debug("download coalesced", "url", dl.URL())
		return true
	}

	out, done := dl.Result()
	if !done || dl.State() != transfer.StateCancelled {
		return false
	}

	m.logger.Debug("joined cancelled download", "url", dl.URL())
	if completion != nil {
		completion(dl.URL(), out)
	}
	return true
}

// startDownload creates the transport task of a freshly registered item.
func (m *Manager) startDownload(dl *transfer.Download, header http.Header) {
	dl.SetSpan(m.startSpan("xfer.download",
		attribute.String("url", dl.URL()),
		attribute.String("tag", dl.Tag()),
	))

	s, err := m.session(transfer.ClassDownload)
	if err != nil {
		settle(m.downloads, dl.URL(), dl, dl.Finish("", transfer.Failure(dl.URL(), err)))
		return
	}

	task, err := s.NewTask(session.TaskSpec{
		Kind:        session.KindDownload,
		Method:      http.MethodGet,
		URL:         dl.URL(),
		Header:      m.header(transfer.ClassDownload, header),
		Description: dl.Tag(),
	})
	if err != nil {
		m.logger.Error("creating download task", "url", dl.URL(), "error", err)
		settle(m.downloads, dl.URL(), dl, dl.Finish("", transfer.Failure(dl.URL(), err)))
		return
	}

	key := taskKey(task)
	m.downloadTasks.Put(key, dl)
	if !dl.Attach(task) {
		m.downloadTasks.Remove(key)
		task.Cancel()
		return
	}

	m.logger.Info("download started", "url", dl.URL(), "task_id", task.ID())
	dl.Resume()
}

// CancelDownload cancels the live download of rawURL. Every listener
// receives [transfer.ErrCancelled], including ones added after the
// transport task was asked to stop. The download stays registered until
// the task acknowledges, so calls for rawURL made in between join the
// cancellation instead of starting over.
//
// It reports false when no live download for rawURL is known.
func (m *Manager) CancelDownload(rawURL string) (transfer.Handle, bool) {
	dl, ok := m.downloads.Get(rawURL)
	if !ok {
		return transfer.Handle{}, false
	}

	term := dl.Cancel()
	if term == nil {
		return transfer.Handle{}, false
	}

	m.logger.Info("download cancelled", "url", rawURL, "awaiting_transport", term.StopsTask())
	if term.StopsTask() {
		term.Deliver()
	} else {
		settle(m.downloads, rawURL, dl, term)
	}

	return dl.Handle(), true
}

// AddDownloadListeners joins the live download of rawURL. A download that
// finished concurrently delivers its outcome right away. It reports false
// when no download for rawURL is known.
func (m *Manager) AddDownloadListeners(rawURL string, progress transfer.ProgressFunc, completion transfer.CompletionFunc[string]) bool {
	dl, ok := m.downloads.Get(rawURL)
	if !ok {
		return false
	}
	if dl.AddListeners(progress, completion) {
		return true
	}
	if out, done := dl.Result(); done && completion != nil {
		completion(rawURL, out)
	}
	return true
}

func (m *Manager) didWriteData(t session.Task, written, total, expected int64) {
	if dl, ok := m.downloadTasks.Get(taskKey(t)); ok {
		dl.DidWriteData(written, total, expected)
	}
}

// didFinishDownloading moves the finished file into the cache before the
// session removes its temporary copy.
func (m *Manager) didFinishDownloading(t session.Task, location string) {
	dl, ok := m.downloadTasks.Get(taskKey(t))
	if !ok || dl.State().Terminal() {
		return
	}

	path, err := m.files.Move(location, dl.FileName())
	if err != nil {
		m.logger.Error("moving download into cache", "url", dl.URL(), "location", location, "error", err)
		settle(m.downloads, dl.URL(), dl, dl.Finish("", transfer.NewError(transfer.ErrCannotMoveFile, dl.URL(), err)))
		return
	}

	term := dl.Finish(path, nil)
	if term == nil {
		// Cancelled while the file was moving.
		m.logger.Info("discarding download of cancelled transfer", "url", dl.URL(), "path", path)
		if err := m.files.Delete(dl.FileName()); err != nil {
			m.logger.Error("removing cancelled download", "url", dl.URL(), "error", err)
		}
		return
	}

	m.logger.Info("download finished", "url", dl.URL(), "path", path)
	settle(m.downloads, dl.URL(), dl, term)
}

func (m *Manager) downloadDidComplete(t session.Task, err error) {
	dl, ok := m.downloadTasks.Remove(taskKey(t))
	if !ok {
		return
	}

	if err == nil {
		err = transfer.NewError(transfer.ErrOther, dl.URL(), errNoLocation)
	}
	term := dl.Finish("", transportFailure(dl.URL(), err))

	// A cancelled download leaves the registry once its task acknowledges.
	m.downloads.CompareAndDelete(dl.URL(), dl)
	term.Deliver()
}
