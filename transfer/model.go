package transfer

import "fmt"

// Class identifies a traffic class. Each class has its own transport
// session and registry.
type Class int

const (
	ClassDownload Class = iota + 1
	ClassUpload
	ClassRequest
)

// Classes lists every traffic class in session creation order.
var Classes = []Class{ClassDownload, ClassUpload, ClassRequest}

func (c Class) String() string {
	switch c {
	case ClassDownload:
		return "download"
	case ClassUpload:
		return "upload"
	case ClassRequest:
		return "request"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// State is the lifecycle position of a transfer item. Only the
// pending, in progress and paused states can be left again.
type State int

const (
	StatePending State = iota
	StateInProgress
	StatePaused
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Outcome is the value delivered to completion listeners: the payload
// on success, or Err on failure.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the outcome is a success.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// ProgressFunc receives the bytes moved since the previous call, the
// running total and the expected total (-1 when unknown).
type ProgressFunc func(key string, delta, total, expected int64)

// CompletionFunc receives the terminal outcome of a transfer exactly once.
type CompletionFunc[T any] func(key string, out Outcome[T])

// Controller is the slice of a transport task an item drives.
type Controller interface {
	Resume()
	Suspend()
	Cancel()
}

// Handle is the opaque reference callers hold instead of the item itself.
// Key is the URL for downloads and the request id otherwise.
type Handle struct {
	Class Class
	Key   string
	Tag   string
}

func (h Handle) String() string {
	return h.Class.String() + ":" + h.Key
}
