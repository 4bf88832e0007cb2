// Package throttle provides an [http.RoundTripper] that paces the
// requests a transport session puts on the wire, using a token bucket
// from [golang.org/x/time/rate].
//
// # Usage
//
// Wrap the session's transport with [NewRoundTripper]:
//
//	rt, err := throttle.NewRoundTripper(
//		throttle.Config{RPS: 10, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//
// When the bucket is empty a request blocks until a token becomes
// available or its context ends. Pausing a download cancels its context,
// so a throttled task never holds a token while suspended.
package throttle
