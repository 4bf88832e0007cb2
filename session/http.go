package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/adamwoolhether/xfer/journal"
	"github.com/adamwoolhether/xfer/session/throttle"
	"github.com/adamwoolhether/xfer/transfer"
)

// HTTP is the net/http backed [Session].
type HTTP struct {
	identifier      string
	kind            Kind
	events          Events
	logger          *slog.Logger
	journal         *journal.Journal
	tempDir         string
	metered         func() bool
	progressLogging bool

	client *http.Client
	base   *swapTransport
	gate   *gate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	settings Settings
	tasks    map[uint64]*task
	nextID   uint64
	active   int
	closed   bool
}

// HTTPFactory returns a [Factory] building [HTTP] sessions with opts.
func HTTPFactory(opts ...Option) Factory {
	return func(class transfer.Class, settings Settings, events Events) (Session, error) {
		return NewHTTP(class, settings, events, opts...)
	}
}

// NewHTTP builds the session of class. Tasks found in the journal are
// restored parked in their recorded state.
func NewHTTP(class transfer.Class, settings Settings, events Events, opts ...Option) (*HTTP, error) {
	if events == nil {
		return nil, errors.New("events must not be nil")
	}

	var o options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("applying session option: %w", err)
		}
	}

	s := &HTTP{
		identifier:      o.identifier,
		kind:            kindOf(class),
		events:          events,
		logger:          slog.Default(),
		journal:         o.journal,
		tempDir:         o.tempDir,
		metered:         o.metered,
		progressLogging: o.progressLogging,
		base:            &swapTransport{custom: o.rt},
		gate:            newGate(settings.MaxConcurrency),
		settings:        settings,
		tasks:           make(map[uint64]*task),
		nextID:          1,
	}
	if s.identifier == "" {
		s.identifier = "xfer." + class.String() + ".session"
	}
	if o.logger != nil {
		s.logger = o.logger
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	s.base.apply(settings)

	var transport http.RoundTripper = s.base
	if o.userAgent != "" {
		transport = userAgent{value: o.userAgent, base: transport}
	}
	if o.throttle != nil {
		rt, err := throttle.NewRoundTripper(*o.throttle, func() *slog.Logger { return s.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}
	s.client = &http.Client{Transport: transport}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.restore(); err != nil {
		s.cancel()
		return nil, err
	}

	return s, nil
}

func kindOf(class transfer.Class) Kind {
	switch class {
	case transfer.ClassDownload:
		return KindDownload
	case transfer.ClassUpload:
		return KindUpload
	default:
		return KindData
	}
}

func (s *HTTP) Identifier() string { return s.identifier }

// Settings returns the settings currently applied.
func (s *HTTP) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.settings
}

// Apply replaces the settings of the live session. Tasks already moving
// bytes keep their connection.
func (s *HTTP) Apply(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.gate.resize(settings.MaxConcurrency)
	s.base.apply(settings)

	s.logger.Debug("session settings applied", "session", s.identifier,
		"max_concurrency", settings.MaxConcurrency, "max_conns_per_host", settings.MaxConnsPerHost,
		"timeout", settings.Timeout, "cache_policy", settings.CachePolicy.String())
}

// NewTask creates a suspended task. A zero Kind takes the kind of the
// session's traffic class.
func (s *HTTP) NewTask(spec TaskSpec) (Task, error) {
	if spec.Kind == 0 {
		spec.Kind = s.kind
	}
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	u, err := url.Parse(spec.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidSpec, spec.URL)
	}
	spec.Header = spec.Header.Clone()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	t := newTask(s, s.nextID, spec, TaskSuspended)
	s.nextID++
	s.tasks[t.id] = t
	s.mu.Unlock()

	t.save()

	return t, nil
}

// Tasks returns the unfinished tasks ordered by id.
func (s *HTTP) Tasks(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	list := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	s.mu.Unlock()

	sort.Slice(list, func(a, b int) bool { return list[a].id < list[b].id })

	tasks := make([]Task, len(list))
	for i, t := range list {
		tasks[i] = t
	}
	return tasks, nil
}

// Close stops every task without completing it. Journaled downloads keep
// their record and partial file for the next session.
func (s *HTTP) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	remaining := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		remaining = append(remaining, t)
	}
	s.mu.Unlock()

	for _, t := range remaining {
		t.save()
	}

	s.base.closeIdle()

	return nil
}

// restore rebuilds the journaled download tasks of this session.
func (s *HTTP) restore() error {
	if s.journal == nil || s.kind != KindDownload {
		return nil
	}

	recs, err := s.journal.List(s.identifier)
	if err != nil {
		return fmt.Errorf("restoring tasks: %w", err)
	}

	for _, rec := range recs {
		spec := TaskSpec{
			Kind:        Kind(rec.Kind),
			Method:      rec.Method,
			URL:         rec.URL,
			Header:      http.Header(rec.Header),
			Description: rec.Description,
		}
		state := TaskState(rec.State)
		if state == TaskCompleted {
			if err := s.journal.Delete(s.identifier, rec.ID); err != nil {
				s.logger.Error("deleting stale journal record", "task_id", rec.ID, "error", err)
			}
			continue
		}

		t := newTask(s, rec.ID, spec, state)
		t.tempPath = rec.TempPath
		t.moved = rec.Written
		t.expected = rec.Expected
		s.tasks[t.id] = t
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}

		s.logger.Info("restored task", "session", s.identifier, "task_id", rec.ID, "url", rec.URL, "state", state.String())
	}

	return nil
}

func (s *HTTP) forget(t *task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()

	if s.journal != nil && t.spec.Kind == KindDownload {
		if err := s.journal.Delete(s.identifier, t.id); err != nil {
			s.logger.Error("deleting journal record", "task_id", t.id, "error", err)
		}
	}
}

func (s *HTTP) deactivate() {
	s.mu.Lock()
	s.active--
	idle := s.active == 0
	s.mu.Unlock()

	if idle {
		s.events.SessionDidFinishEvents(s)
	}
}

func (s *HTTP) checkMetered() error {
	settings := s.Settings()
	if !settings.AllowsMetered && s.metered != nil && s.metered() {
		return ErrMeteredNetwork
	}
	return nil
}

// swapTransport delegates to the current *http.Transport, which Apply
// replaces, or to a caller supplied RoundTripper.
type swapTransport struct {
	custom http.RoundTripper
	cur    atomic.Pointer[http.Transport]
}

func (st *swapTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if st.custom != nil {
		return st.custom.RoundTrip(r)
	}
	return st.cur.Load().RoundTrip(r)
}

func (st *swapTransport) apply(settings Settings) {
	if st.custom != nil {
		return
	}

	next := http.DefaultTransport.(*http.Transport).Clone()
	next.MaxConnsPerHost = settings.MaxConnsPerHost
	if settings.MaxConnsPerHost > 0 {
		next.MaxIdleConnsPerHost = settings.MaxConnsPerHost
	}
	next.ResponseHeaderTimeout = settings.Timeout

	if old := st.cur.Swap(next); old != nil {
		old.CloseIdleConnections()
	}
}

func (st *swapTransport) closeIdle() {
	if t := st.cur.Load(); t != nil {
		t.CloseIdleConnections()
	}
}
