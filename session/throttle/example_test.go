package throttle_test

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/adamwoolhether/xfer/session/throttle"
)

func ExampleNewRoundTripper() {
	rt, err := throttle.NewRoundTripper(
		throttle.Config{RPS: 10, Burst: 5},
		func() *slog.Logger { return slog.Default() },
		http.DefaultTransport,
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	if err := rt.Update(throttle.Config{RPS: 20, Burst: 5}); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("throttled transport at", rt.Config().RPS, "rps")
	// Output: throttled transport at 20 rps
}
