package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/adamwoolhether/xfer/journal"
)

const chunkSize = 32 << 10

type task struct {
	s    *HTTP
	id   uint64
	spec TaskSpec

	mu       sync.Mutex
	state    TaskState
	started  bool
	finished bool
	changed  chan struct{}
	abort    context.CancelFunc
	tempPath string
	moved    int64
	expected int64
}

func newTask(s *HTTP, id uint64, spec TaskSpec, state TaskState) *task {
	return &task{
		s:        s,
		id:       id,
		spec:     spec,
		state:    state,
		changed:  make(chan struct{}),
		expected: -1,
	}
}

func (t *task) ID() uint64     { return t.id }
func (t *task) Spec() TaskSpec { return t.spec }

func (t *task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *task) Progress() (moved, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.moved, t.expected
}

func (t *task) setProgress(moved, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.moved = moved
	t.expected = expected
}

// Resume starts the task, or continues it after Suspend.
func (t *task) Resume() {
	t.mu.Lock()
	if t.finished || t.state == TaskCancelling {
		t.mu.Unlock()
		return
	}
	t.state = TaskRunning
	t.notifyLocked()
	start := !t.started
	t.started = true
	t.mu.Unlock()

	if start && !t.launch(t.run) {
		return
	}
	t.save()
}

// Suspend parks the task. A download drops its connection and continues
// from the partial file on Resume; uploads and data tasks stop reading.
func (t *task) Suspend() {
	t.mu.Lock()
	if t.finished || t.state != TaskRunning {
		t.mu.Unlock()
		return
	}
	t.state = TaskSuspended
	if t.spec.Kind == KindDownload && t.abort != nil {
		t.abort()
	}
	t.notifyLocked()
	t.mu.Unlock()

	t.save()
}

// Cancel stops the task. It completes with ErrTaskCancelled.
func (t *task) Cancel() {
	t.mu.Lock()
	if t.finished || (t.state == TaskCancelling && t.started) {
		t.mu.Unlock()
		return
	}
	t.state = TaskCancelling
	if t.abort != nil {
		t.abort()
	}
	t.notifyLocked()
	start := !t.started
	t.started = true
	t.mu.Unlock()

	if start {
		t.launch(func() { t.complete(ErrTaskCancelled) })
	}
}

// launch runs fn on a session goroutine. It reports false once the
// session is closed.
func (t *task) launch(fn func()) bool {
	s := t.s

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.active++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (t *task) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// awaitRunning blocks while the task is suspended. It reports false when
// the session closes first.
func (t *task) awaitRunning() (TaskState, bool) {
	for {
		t.mu.Lock()
		state, ch := t.state, t.changed
		t.mu.Unlock()

		if state == TaskRunning || state == TaskCancelling {
			return state, true
		}

		select {
		case <-ch:
		case <-t.s.ctx.Done():
			return state, false
		}
	}
}

// waitRunning holds an in-flight upload or data task while it is suspended.
func (t *task) waitRunning(ctx context.Context) error {
	for {
		t.mu.Lock()
		state, ch := t.state, t.changed
		t.mu.Unlock()

		if state != TaskSuspended {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// beginAttempt registers the cancel func of an attempt. It reports false
// when the task left the running state meanwhile.
func (t *task) beginAttempt(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskRunning {
		return false
	}
	t.abort = cancel
	return true
}

func (t *task) endAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.abort = nil
}

func (t *task) run() {
	s := t.s

	for {
		state, ok := t.awaitRunning()
		if !ok {
			return
		}
		if state == TaskCancelling {
			t.complete(ErrTaskCancelled)
			return
		}

		ctx, cancel := context.WithCancel(s.ctx)
		if !t.beginAttempt(cancel) {
			cancel()
			continue
		}

		var err error
		if t.spec.Kind == KindDownload {
			err = t.download(ctx)
		} else {
			err = t.transmit(ctx)
		}
		interrupted := ctx.Err() != nil
		cancel()
		t.endAttempt()

		switch {
		case err == nil:
			t.complete(nil)
			return
		case s.ctx.Err() != nil:
			t.save()
			return
		case interrupted:
			if t.State() == TaskCancelling {
				t.complete(ErrTaskCancelled)
				return
			}
			s.logger.Debug("task attempt interrupted", "session", s.identifier, "task_id", t.id, "moved", t.movedBytes())
			t.save()
		default:
			t.complete(err)
			return
		}
	}
}

func (t *task) movedBytes() int64 {
	moved, _ := t.Progress()
	return moved
}

// complete delivers the final events of the task exactly once.
func (t *task) complete(err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.state = TaskCompleted
	tempPath := t.tempPath
	t.notifyLocked()
	t.mu.Unlock()

	s := t.s
	if err == nil && t.spec.Kind == KindDownload {
		s.events.TaskDidFinishDownloading(s, t, tempPath)
	}
	if tempPath != "" {
		if rmErr := os.Remove(tempPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Error("failed to remove temp file", "path", tempPath, "error", rmErr)
		}
	}

	s.forget(t)

	if err != nil {
		s.logger.Info("task failed", "session", s.identifier, "task_id", t.id, "url", t.spec.URL, "error", err)
	}
	s.events.TaskDidComplete(s, t, err)
	s.deactivate()
}

func (t *task) save() {
	s := t.s
	if s.journal == nil || t.spec.Kind != KindDownload {
		return
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	rec := journal.Record{
		Session:     s.identifier,
		ID:          t.id,
		Kind:        int(t.spec.Kind),
		Method:      t.spec.Method,
		URL:         t.spec.URL,
		Header:      t.spec.Header,
		Description: t.spec.Description,
		State:       int(t.state),
		TempPath:    t.tempPath,
		Written:     t.moved,
		Expected:    t.expected,
	}
	t.mu.Unlock()

	if err := s.journal.Put(rec); err != nil {
		s.logger.Error("saving journal record", "task_id", t.id, "error", err)
	}
}

func (t *task) newRequest(ctx context.Context, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, t.spec.Method, t.spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	for k, v := range t.spec.Header {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}
	if cc := t.s.Settings().CachePolicy.header(); cc != "" && req.Header.Get("Cache-Control") == "" {
		req.Header.Set("Cache-Control", cc)
	}
	return req, nil
}

// openTemp opens the partial download file, creating it on the first
// attempt, and returns the number of bytes it already holds.
func (t *task) openTemp() (*os.File, int64, error) {
	t.mu.Lock()
	path := t.tempPath
	t.mu.Unlock()

	if path != "" {
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, 0, fmt.Errorf("opening temp file: %w", err)
		}
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return nil, 0, fmt.Errorf("seeking temp file: %w", err)
		}
		return file, offset, nil
	}

	file, err := os.CreateTemp(t.s.tempDir, ".xfer-dl-*")
	if err != nil {
		return nil, 0, fmt.Errorf("creating temp file: %w", err)
	}

	t.mu.Lock()
	t.tempPath = file.Name()
	t.mu.Unlock()
	t.save()

	return file, 0, nil
}

// download performs one attempt of a download task, continuing from the
// partial file when the server honours the range request.
func (t *task) download(ctx context.Context) error {
	s := t.s

	if err := s.gate.acquire(ctx); err != nil {
		return err
	}
	defer s.gate.release()

	if err := s.checkMetered(); err != nil {
		return err
	}

	file, offset, err := t.openTemp()
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.logger.Error("defer closing temp file", "error", err)
		}
	}()

	req, err := t.newRequest(ctx, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("exec http do: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("failed to close response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
	case successful(resp.StatusCode):
		if offset > 0 {
			if err := file.Truncate(0); err != nil {
				return fmt.Errorf("truncating temp file: %w", err)
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("seeking temp file: %w", err)
			}
			offset = 0
		}
	default:
		return newUnexpectedStatusError(resp)
	}

	expected := int64(-1)
	if resp.ContentLength >= 0 {
		expected = offset + resp.ContentLength
	}
	t.setProgress(offset, expected)

	pw := &progressWriter{
		w:           file,
		transferred: offset,
		total:       expected,
		startTime:   time.Now(),
		onWrite: func(n, transferred int64) {
			t.setProgress(transferred, expected)
			s.events.TaskDidWriteData(s, t, n, transferred, expected)
		},
	}
	if s.progressLogging {
		pw.logger = s.logger.With("task_id", t.id, "url", t.spec.URL)
	}

	n, err := io.Copy(pw, &contextReader{ctx: ctx, r: resp.Body})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("copying file body: %w", err)
	}

	if expected >= 0 && offset+n != expected {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrContentLengthMismatch, expected, offset+n)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	return nil
}

func (t *task) body() (io.ReadCloser, int64, error) {
	if t.spec.BodyFile != "" {
		file, err := os.Open(t.spec.BodyFile)
		if err != nil {
			return nil, 0, fmt.Errorf("opening body file: %w", err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, 0, fmt.Errorf("stat body file: %w", err)
		}
		return file, info.Size(), nil
	}

	return io.NopCloser(bytes.NewReader(t.spec.Body)), int64(len(t.spec.Body)), nil
}

// transmit performs an upload or data task, reporting the response body
// in chunks.
func (t *task) transmit(ctx context.Context) error {
	s := t.s

	if err := s.gate.acquire(ctx); err != nil {
		return err
	}
	defer s.gate.release()

	if err := s.checkMetered(); err != nil {
		return err
	}

	if timeout := s.Settings().Timeout; timeout > 0 && t.spec.Kind == KindData {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, size, err := t.body()
	if err != nil {
		return err
	}
	defer body.Close()

	var reqBody io.Reader = http.NoBody
	if size > 0 {
		reqBody = &sendReader{ctx: ctx, r: body, t: t, total: size}
	}

	req, err := t.newRequest(ctx, reqBody)
	if err != nil {
		return err
	}
	req.ContentLength = size

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("exec http do: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("failed to close response body", "error", err)
		}
	}()

	if !successful(resp.StatusCode) {
		return newUnexpectedStatusError(resp)
	}

	buf := make([]byte, chunkSize)
	for {
		if err := t.waitRunning(ctx); err != nil {
			return err
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			s.events.TaskDidReceiveData(s, t, bytes.Clone(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("reading response body: %w", err)
		}
	}
}
