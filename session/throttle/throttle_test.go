package throttle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    Config
		expErr error
	}{
		{name: "zero rps", cfg: Config{RPS: 0, Burst: 10}, expErr: ErrMustNotBeZero},
		{name: "negative rps", cfg: Config{RPS: -5, Burst: 10}, expErr: ErrMustNotBeZero},
		{name: "zero burst", cfg: Config{RPS: 10, Burst: 0}, expErr: ErrMustNotBeZero},
		{name: "negative burst", cfg: Config{RPS: 10, Burst: -1}, expErr: ErrMustNotBeZero},
		{name: "valid", cfg: Config{RPS: 10, Burst: 20}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := NewRoundTripper(tc.cfg, nil, http.DefaultTransport)
			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v; got: %v", tc.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("exp nil err, got: %v", err)
			}
			if rt == nil {
				t.Fatal("exp non-nil RoundTripper")
			}
		})
	}
}

func TestRoundTripper_Update(t *testing.T) {
	rt, err := NewRoundTripper(Config{RPS: 1, Burst: 1}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := rt.Update(Config{RPS: 0, Burst: 1}); !errors.Is(err, ErrMustNotBeZero) {
		t.Errorf("exp ErrMustNotBeZero, got %v", err)
	}
	if got := rt.Config(); got.RPS != 1 {
		t.Errorf("invalid update must not apply, got rps %d", got.RPS)
	}

	if err := rt.Update(Config{RPS: 50, Burst: 4}); err != nil {
		t.Fatal(err)
	}
	if got := rt.Config(); got != (Config{RPS: 50, Burst: 4}) {
		t.Errorf("unexpected config after update: %+v", got)
	}
}

func TestRoundTripper_Behavior(t *testing.T) {
	testCases := []struct {
		name        string
		cfg         Config
		numRequests int
		reqTimeout  time.Duration
		preCancel   bool
		expErrs     int
		errIs       error
		minDuration time.Duration
		maxDuration time.Duration
	}{
		{
			name:        "high limits",
			cfg:         Config{RPS: 10000, Burst: 100},
			numRequests: 50,
			maxDuration: 300 * time.Millisecond,
		},
		{
			name:        "exceed burst and time out waiting",
			cfg:         Config{RPS: 5, Burst: 2},
			numRequests: 5,
			reqTimeout:  50 * time.Millisecond,
			expErrs:     3,
			errIs:       ErrWaitingFailed,
		},
		{
			name:        "exceed burst and succeed waiting",
			cfg:         Config{RPS: 10, Burst: 5},
			numRequests: 8,
			reqTimeout:  time.Second,
			minDuration: 250 * time.Millisecond,
		},
		{
			name:        "pre-cancelled context fails early",
			cfg:         Config{RPS: 20, Burst: 10},
			numRequests: 1,
			preCancel:   true,
			expErrs:     1,
			errIs:       ErrContextEnded,
			maxDuration: 50 * time.Millisecond,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			rt, err := NewRoundTripper(tc.cfg, func() *slog.Logger { return nil }, http.DefaultTransport)
			if err != nil {
				t.Fatal(err)
			}
			client := &http.Client{Transport: rt}

			errs := make([]error, tc.numRequests)
			var wg sync.WaitGroup
			start := time.Now()

			for i := range tc.numRequests {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()

					ctx, cancel := context.WithCancel(t.Context())
					if tc.reqTimeout > 0 {
						ctx, cancel = context.WithTimeout(t.Context(), tc.reqTimeout)
					}
					defer cancel()
					if tc.preCancel {
						cancel()
					}

					req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
					if err != nil {
						errs[idx] = err
						return
					}
					resp, err := client.Do(req)
					if err != nil {
						errs[idx] = err
						return
					}
					resp.Body.Close()
				}(i)
			}
			wg.Wait()
			elapsed := time.Since(start)

			failed := 0
			for _, err := range errs {
				if err == nil {
					continue
				}
				failed++
				if tc.errIs != nil && !errors.Is(err, tc.errIs) {
					t.Errorf("exp error wrapping %v, got %v", tc.errIs, err)
				}
			}
			if failed != tc.expErrs {
				t.Errorf("exp %d failed requests, got %d", tc.expErrs, failed)
			}
			if got := int(calls.Load()); got != tc.numRequests-failed {
				t.Errorf("exp %d server calls, got %d", tc.numRequests-failed, got)
			}
			if tc.minDuration > 0 && elapsed < tc.minDuration {
				t.Errorf("exp throttling to take >= %v, took %v", tc.minDuration, elapsed)
			}
			if tc.maxDuration > 0 && elapsed > tc.maxDuration {
				t.Errorf("exp completion in < %v, took %v", tc.maxDuration, elapsed)
			}
		})
	}
}
