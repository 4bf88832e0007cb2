package session

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/adamwoolhether/xfer/journal"
	"github.com/adamwoolhether/xfer/session/throttle"
)

// Option is a functional option for configuring the session built by [NewHTTP].
type Option func(*options) error
type options struct {
	logger          *slog.Logger
	userAgent       string
	throttle        *throttle.Config
	rt              http.RoundTripper
	tempDir         string
	journal         *journal.Journal
	metered         func() bool
	identifier      string
	progressLogging bool
}

// WithLogger injects a custom [slog.Logger] into the session.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests
// per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		cfg := throttle.Config{RPS: rps, Burst: burst}
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.throttle = &cfg
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
// Settings applied later no longer rebuild the transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithTempDir sets the directory partial downloads are written to.
func WithTempDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return errors.New("temp dir must not be empty")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		o.tempDir = dir
		return nil
	}
}

// WithJournal persists download tasks so they can be restored by the next
// session built with the same identifier.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) error {
		if j == nil {
			return errors.New("journal must not be nil")
		}
		o.journal = j
		return nil
	}
}

// WithMeteredFunc installs the detector consulted when metered access is
// not allowed.
func WithMeteredFunc(fn func() bool) Option {
	return func(o *options) error {
		o.metered = fn
		return nil
	}
}

// WithIdentifier overrides the session identifier.
func WithIdentifier(id string) Option {
	return func(o *options) error {
		if id == "" {
			return errors.New("identifier must not be empty")
		}
		o.identifier = id
		return nil
	}
}

// WithProgressLogging logs download progress at most once per second.
func WithProgressLogging() Option {
	return func(o *options) error {
		o.progressLogging = true
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
