package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the requests per second and burst size of a throttle.
type Config struct {
	RPS   int
	Burst int
}

// Validate reports whether both values are positive.
func (c Config) Validate() error {
	if c.RPS <= 0 || c.Burst <= 0 {
		return fmt.Errorf("rps[%d] and burst[%d] %w", c.RPS, c.Burst, ErrMustNotBeZero)
	}
	return nil
}

// RoundTripper restricts outbound calls with a token bucket limiter.
// Its rate can be changed while requests are in flight.
type RoundTripper struct {
	limiter *rate.Limiter
	next    http.RoundTripper
	logFn   func() *slog.Logger

	mu  sync.Mutex
	cfg Config
}
