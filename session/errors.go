package session

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxErrBodySize caps the amount of response body kept when a task
// fails with an unexpected status code.
const maxErrBodySize = 4 << 10 // 4KB

var (
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrMeteredNetwork fails tasks when metered access is not allowed and
	// the network is metered.
	ErrMeteredNetwork = errors.New("metered network access not allowed")
	// ErrTaskCancelled completes a cancelled task.
	ErrTaskCancelled = errors.New("task cancelled")
	// ErrSessionClosed is returned by a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrContentLengthMismatch fails a download whose body was shorter or
	// longer than announced.
	ErrContentLengthMismatch = errors.New("content length mismatch")
	// ErrInvalidSpec rejects a task spec that cannot be executed.
	ErrInvalidSpec = errors.New("invalid task spec")
)

// UnexpectedStatusError is returned when a response carries a non 2xx
// status code.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}

func newUnexpectedStatusError(resp *http.Response) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
	if err != nil {
		b = []byte("unable to read body")
	}

	return &UnexpectedStatusError{
		StatusCode: resp.StatusCode,
		Body:       string(b),
		Err:        ErrUnexpectedStatusCode,
	}
}

func successful(code int) bool {
	return code >= 200 && code < 300
}
