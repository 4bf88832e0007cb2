package throttle

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// NewRoundTripper returns a RoundTripper that paces requests to next.
// logFn lazily resolves the logger at request time; a nil logger skips
// the exhaustion logging.
func NewRoundTripper(cfg Config, logFn func() *slog.Logger, next http.RoundTripper) (*RoundTripper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	rt := &RoundTripper{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		next:    next,
		logFn:   logFn,
		cfg:     cfg,
	}

	return rt, nil
}

// Update changes the rate and burst without dropping queued requests.
func (t *RoundTripper) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cfg = cfg
	t.limiter.SetLimit(rate.Limit(cfg.RPS))
	t.limiter.SetBurst(cfg.Burst)

	return nil
}

// Config returns the current settings.
func (t *RoundTripper) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cfg
}

func (t *RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	cfg := t.Config()

	var waited time.Duration
	logger := t.logFn()
	if logger != nil && t.limiter.Tokens() < 1 {
		logger.Info("throttle tokens exhausted", "rate", cfg.RPS, "burst", cfg.Burst, "url", r.URL.String())

		defer func() {
			logger.Info("throttle wait complete", "waited", waited.String(), "rate", cfg.RPS, "burst", cfg.Burst)
		}()
	}

	start := time.Now()

	err := t.limiter.Wait(ctx)
	waited = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}
