package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/filecache"
	"github.com/adamwoolhether/xfer/memcache"
	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// Option is a functional option for configuring a [Manager] via [Build].
type Option func(*options) error
type options struct {
	config      *Config
	logger      *slog.Logger
	tracer      trace.Tracer
	files       filecache.Store
	cacheDir    string
	mem         *memcache.Cache
	factory     session.Factory
	headers     map[transfer.Class]http.Header
	httpOpts    []session.Option
	journalPath string
}

// WithConfig replaces [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(o *options) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.config = &cfg
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Manager] and the
// sessions it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer records one span per transfer with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithFileCache sets the store finished downloads are moved into.
func WithFileCache(store filecache.Store) Option {
	return func(o *options) error {
		if store == nil {
			return errors.New("file cache must not be nil")
		}
		o.files = store
		return nil
	}
}

// WithCacheDir keeps finished downloads in dir on the OS filesystem.
func WithCacheDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return errors.New("cache dir must not be empty")
		}
		o.cacheDir = dir
		return nil
	}
}

// WithMemCache sets the byte cache used by [Manager.FetchData].
func WithMemCache(c *memcache.Cache) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("memory cache must not be nil")
		}
		o.mem = c
		return nil
	}
}

// WithSessionFactory replaces the net/http sessions, typically with
// sessiontest in tests.
func WithSessionFactory(f session.Factory) Option {
	return func(o *options) error {
		if f == nil {
			return errors.New("session factory must not be nil")
		}
		o.factory = f
		return nil
	}
}

// WithDefaultHeaders sets headers added to every request of class.
func WithDefaultHeaders(class transfer.Class, h http.Header) Option {
	return func(o *options) error {
		if o.headers == nil {
			o.headers = make(map[transfer.Class]http.Header)
		}
		o.headers[class] = h.Clone()
		return nil
	}
}

// WithHTTPOptions passes opts to every net/http session.
func WithHTTPOptions(opts ...session.Option) Option {
	return func(o *options) error {
		o.httpOpts = append(o.httpOpts, opts...)
		return nil
	}
}

// WithJournalPath persists download tasks under dir so that
// [Manager.AttachExistingTransfers] finds them after a relaunch.
func WithJournalPath(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return errors.New("journal path must not be empty")
		}
		o.journalPath = dir
		return nil
	}
}

// RequestOption is a functional option for a single transfer.
type RequestOption func(*requestOpts) error

type requestOpts struct {
	tag      string
	method   string
	header   http.Header
	body     []byte
	progress transfer.ProgressFunc
}

func applyRequestOptions(opts []RequestOption) (requestOpts, error) {
	var ro requestOpts
	for _, opt := range opts {
		if err := opt(&ro); err != nil {
			return requestOpts{}, fmt.Errorf("applying request option: %w", err)
		}
	}
	return ro, nil
}

// WithTag attaches an opaque tag to a download. The tag is stored with the
// transport task and reported again after a relaunch.
func WithTag(tag string) RequestOption {
	return func(ro *requestOpts) error {
		ro.tag = tag
		return nil
	}
}

// WithMethod sets the HTTP method.
func WithMethod(method string) RequestOption {
	return func(ro *requestOpts) error {
		if method == "" {
			return errors.New("cannot use empty method")
		}
		ro.method = method
		return nil
	}
}

// WithHeaders adds headers to the request, overriding default headers
// with the same name.
func WithHeaders(h http.Header) RequestOption {
	return func(ro *requestOpts) error {
		if ro.header == nil {
			ro.header = make(http.Header)
		}
		for k, v := range h {
			ro.header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
		return nil
	}
}

// WithBody sets the raw request body.
func WithBody(body []byte) RequestOption {
	return func(ro *requestOpts) error {
		ro.body = body
		return nil
	}
}

// WithJSONBody encodes v as the request body and sets the Content-Type.
func WithJSONBody(v any) RequestOption {
	return func(ro *requestOpts) error {
		var payload bytes.Buffer
		if err := json.NewEncoder(&payload).Encode(v); err != nil {
			return fmt.Errorf("encoding request payload: %w", err)
		}
		ro.body = payload.Bytes()
		if ro.header == nil {
			ro.header = make(http.Header)
		}
		ro.header.Set("Content-Type", "application/json")
		return nil
	}
}

// WithProgress registers a progress listener.
func WithProgress(fn transfer.ProgressFunc) RequestOption {
	return func(ro *requestOpts) error {
		ro.progress = fn
		return nil
	}
}
