// Package manager implements the transfer manager: the entry point that
// coalesces downloads by URL, runs uploads and requests, routes transport
// events to the transfer they belong to and finalizes every transfer
// exactly once.
//
// Each traffic class has its own registry of live transfers and its own
// transport session, created on first use. Registries hold only live
// transfers. An entry is removed by the terminal transition of its
// transfer, before the outcome is delivered, so a listener that starts a
// new transfer for the same key gets a fresh one.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/xfer/filecache"
	"github.com/adamwoolhether/xfer/journal"
	"github.com/adamwoolhether/xfer/memcache"
	"github.com/adamwoolhether/xfer/registry"
	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

const defaultMemCacheSize = 64 << 20

var (
	// ErrAlreadyAttached is returned by a second AttachExistingTransfers call.
	ErrAlreadyAttached = errors.New("existing transfers already attached")
	// ErrClosed is returned once the manager is closed.
	ErrClosed = errors.New("manager closed")
)

// Manager coordinates the transfers of the three traffic classes.
type Manager struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	files   filecache.Store
	mem     *memcache.Cache
	ownsMem bool
	factory session.Factory
	journal *journal.Journal

	downloads *registry.Registry[*transfer.Download]
	uploads   *registry.Registry[*transfer.Upload]
	requests  *registry.Registry[*transfer.Request]

	// Transport tasks by session task id.
	downloadTasks *registry.Registry[*transfer.Download]
	uploadTasks   *registry.Registry[*transfer.Upload]
	requestTasks  *registry.Registry[*transfer.Request]

	mu       sync.Mutex
	cfg      Config
	headers  map[transfer.Class]http.Header
	sessions map[transfer.Class]session.Session
	drains   map[string]func()
	attached bool
	closed   bool
}

// Build instantiates a Manager with the provided options. Sessions are
// created on first use.
func Build(opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("applying manager option: %w", err)
		}
	}

	m := &Manager{
		logger:        slog.Default(),
		tracer:        noop.NewTracerProvider().Tracer("xfer"),
		cfg:           DefaultConfig(),
		files:         o.files,
		mem:           o.mem,
		downloads:     registry.New[*transfer.Download](),
		uploads:       registry.New[*transfer.Upload](),
		requests:      registry.New[*transfer.Request](),
		downloadTasks: registry.New[*transfer.Download](),
		uploadTasks:   registry.New[*transfer.Upload](),
		requestTasks:  registry.New[*transfer.Request](),
		headers:       make(map[transfer.Class]http.Header),
		sessions:      make(map[transfer.Class]session.Session),
		drains:        make(map[string]func()),
	}
	if o.logger != nil {
		m.logger = o.logger
	}
	if o.tracer != nil {
		m.tracer = o.tracer
	}
	if o.config != nil {
		m.cfg = *o.config
	}
	for class, h := range o.headers {
		m.headers[class] = h
	}

	if m.files == nil {
		dir := o.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		files, err := filecache.NewOS(dir)
		if err != nil {
			return nil, fmt.Errorf("opening download cache: %w", err)
		}
		m.files = files
	}

	if m.mem == nil {
		mem, err := memcache.New(defaultMemCacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating memory cache: %w", err)
		}
		m.mem = mem
		m.ownsMem = true
	}

	if o.journalPath != "" {
		j, err := journal.Open(o.journalPath)
		if err != nil {
			m.release()
			return nil, err
		}
		m.journal = j
	}

	m.factory = o.factory
	if m.factory == nil {
		m.factory = m.httpFactory(o.httpOpts)
	}

	return m, nil
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "xfer", "downloads")
}

// httpFactory builds net/http sessions sharing the manager's logger. The
// download session journals its tasks when a journal is open.
func (m *Manager) httpFactory(httpOpts []session.Option) session.Factory {
	return func(class transfer.Class, settings session.Settings, events session.Events) (session.Session, error) {
		opts := append([]session.Option{session.WithLogger(m.logger)}, httpOpts...)
		if class == transfer.ClassDownload && m.journal != nil {
			opts = append(opts, session.WithJournal(m.journal))
		}
		return session.HTTPFactory(opts...)(class, settings, events)
	}
}

// session returns the session of class, building it on first use.
func (m *Manager) session(class transfer.Class) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[class]; ok {
		return s, nil
	}

	s, err := m.factory(class, m.cfg.Settings(class), &demux{m: m, class: class})
	if err != nil {
		return nil, fmt.Errorf("building %s session: %w", class, err)
	}
	m.sessions[class] = s

	m.logger.Info("session created", "class", class.String(), "session", s.Identifier())

	return s, nil
}

// SessionIdentifier returns the identifier of the session of class,
// building the session if needed.
func (m *Manager) SessionIdentifier(class transfer.Class) (string, error) {
	s, err := m.session(class)
	if err != nil {
		return "", err
	}
	return s.Identifier(), nil
}

// Config returns the configuration in use.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cfg
}

// Configure validates cfg and applies it to every live session without
// tearing them down.
func (m *Manager) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	live := maps.Clone(m.sessions)
	m.mu.Unlock()

	for _, class := range transfer.Classes {
		if s, ok := live[class]; ok {
			s.Apply(cfg.Settings(class))
		}
	}

	m.logger.Info("configuration applied", "sessions", len(live))

	return nil
}

// SetDefaultHeaders replaces the headers added to every request of class.
func (m *Manager) SetDefaultHeaders(class transfer.Class, h http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.headers[class] = h.Clone()
}

// header merges the per call headers over the defaults of class.
func (m *Manager) header(class transfer.Class, h http.Header) http.Header {
	m.mu.Lock()
	merged := m.headers[class].Clone()
	m.mu.Unlock()

	if merged == nil {
		merged = make(http.Header)
	}
	for k, v := range h {
		merged[k] = append([]string(nil), v...)
	}
	return merged
}

// SetDrainHandler registers fn to run once the session with identifier
// has delivered all of its events. Only the download and upload sessions
// report this, and only the latest handler per session is kept.
func (m *Manager) SetDrainHandler(identifier string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fn == nil {
		delete(m.drains, identifier)
		return
	}
	m.drains[identifier] = fn
}

func (m *Manager) takeDrain(identifier string) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn := m.drains[identifier]
	delete(m.drains, identifier)
	return fn
}

// CacheDir returns the directory finished downloads are stored in.
func (m *Manager) CacheDir() string {
	return m.files.Dir()
}

// ClearDownloadCache removes every finished download and empties the
// memory cache.
func (m *Manager) ClearDownloadCache() error {
	m.mem.Clear()
	if err := m.files.Clear(); err != nil {
		return fmt.Errorf("clearing download cache: %w", err)
	}
	return nil
}

// Status returns the state of the live transfer behind h.
func (m *Manager) Status(h transfer.Handle) (transfer.State, bool) {
	switch h.Class {
	case transfer.ClassDownload:
		if dl, ok := m.downloads.Get(h.Key); ok {
			return dl.State(), true
		}
	case transfer.ClassUpload:
		if up, ok := m.uploads.Get(h.Key); ok {
			return up.State(), true
		}
	case transfer.ClassRequest:
		if req, ok := m.requests.Get(h.Key); ok {
			return req.State(), true
		}
	}
	return 0, false
}

// Pause suspends the live transfer behind h.
func (m *Manager) Pause(h transfer.Handle) bool {
	switch h.Class {
	case transfer.ClassDownload:
		if dl, ok := m.downloads.Get(h.Key); ok {
			return dl.Pause()
		}
	case transfer.ClassUpload:
		if up, ok := m.uploads.Get(h.Key); ok {
			return up.Pause()
		}
	case transfer.ClassRequest:
		if req, ok := m.requests.Get(h.Key); ok {
			return req.Pause()
		}
	}
	return false
}

// Resume continues the paused transfer behind h.
func (m *Manager) Resume(h transfer.Handle) bool {
	switch h.Class {
	case transfer.ClassDownload:
		if dl, ok := m.downloads.Get(h.Key); ok {
			return dl.Resume()
		}
	case transfer.ClassUpload:
		if up, ok := m.uploads.Get(h.Key); ok {
			return up.Resume()
		}
	case transfer.ClassRequest:
		if req, ok := m.requests.Get(h.Key); ok {
			return req.Resume()
		}
	}
	return false
}

// Close closes every session and the journal. Transfers still running are
// neither completed nor cancelled; journaled downloads can be attached by
// the next manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	live := maps.Clone(m.sessions)
	m.mu.Unlock()

	var errs []error
	for _, class := range transfer.Classes {
		s, ok := live[class]
		if !ok {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s session: %w", class, err))
		}
	}

	if err := m.release(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (m *Manager) release() error {
	if m.ownsMem {
		m.mem.Close()
	}
	if m.journal != nil {
		if err := m.journal.Close(); err != nil {
			return fmt.Errorf("closing journal: %w", err)
		}
	}
	return nil
}

func (m *Manager) startSpan(name string, attrs ...attribute.KeyValue) trace.Span {
	_, span := m.tracer.Start(context.Background(), name, trace.WithAttributes(attrs...))
	return span
}

// settle removes a finished item from its registry and delivers the
// outcome. A nil terminal means another path already finished the item.
func settle[T any, V comparable](reg *registry.Registry[V], key string, item V, term *transfer.Terminal[T]) {
	if term == nil {
		return
	}
	reg.CompareAndDelete(key, item)
	term.Deliver()
}

// deliverNow reports a failure detected before any transfer was registered.
func deliverNow[T any](completion transfer.CompletionFunc[T], key string, err error) {
	if completion != nil {
		completion(key, transfer.Outcome[T]{Err: err})
	}
}

func taskKey(t session.Task) string {
	return strconv.FormatUint(t.ID(), 10)
}

// transportFailure maps a transport error onto the taxonomy.
func transportFailure(key string, err error) error {
	if errors.Is(err, session.ErrTaskCancelled) {
		return transfer.NewError(transfer.ErrCancelled, key, err)
	}
	return transfer.Failure(key, err)
}
