// Package session defines the transport session a transfer manager drives
// and provides the default implementation on top of net/http.
//
// A session owns the tasks of one traffic class. Tasks are created
// suspended by [Session.NewTask] and begin once resumed. Every event a
// task produces is reported to the [Events] the session was built with,
// on a goroutine owned by the session.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adamwoolhether/xfer/transfer"
)

// TaskState is the transport level state of a task.
type TaskState int

const (
	TaskRunning TaskState = iota
	TaskSuspended
	TaskCancelling
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskCancelling:
		return "cancelling"
	case TaskCompleted:
		return "completed"
	default:
		return fmt.Sprintf("taskstate(%d)", int(s))
	}
}

// Kind selects how a task moves its bytes.
type Kind int

const (
	// KindDownload streams the response body to a file.
	KindDownload Kind = iota + 1
	// KindUpload sends a request body and collects the response body.
	KindUpload
	// KindData performs a plain request and collects the response body.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindDownload:
		return "download"
	case KindUpload:
		return "upload"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CachePolicy controls how requests interact with HTTP caches.
type CachePolicy int

const (
	CacheUseProtocol CachePolicy = iota
	CacheReloadIgnoring
	CacheReturnElseLoad
	CacheReturnDontLoad
)

var cachePolicyNames = map[CachePolicy]string{
	CacheUseProtocol:    "protocol",
	CacheReloadIgnoring: "reload",
	CacheReturnElseLoad: "return-else-load",
	CacheReturnDontLoad: "return-dont-load",
}

func (p CachePolicy) String() string {
	if name, ok := cachePolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("cachepolicy(%d)", int(p))
}

// ParseCachePolicy converts a policy name as returned by String.
func ParseCachePolicy(s string) (CachePolicy, error) {
	for p, name := range cachePolicyNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown cache policy %q", s)
}

func (p CachePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *CachePolicy) UnmarshalText(b []byte) error {
	parsed, err := ParseCachePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// header returns the Cache-Control value the policy maps to.
func (p CachePolicy) header() string {
	switch p {
	case CacheReloadIgnoring:
		return "no-cache"
	case CacheReturnElseLoad:
		return "max-stale"
	case CacheReturnDontLoad:
		return "only-if-cached"
	default:
		return ""
	}
}

// Settings is the configuration a session applies to its tasks. It can
// be replaced on a live session with [Session.Apply].
type Settings struct {
	// MaxConcurrency caps the tasks moving bytes at once. Zero means no cap.
	MaxConcurrency  int
	MaxConnsPerHost int
	Timeout         time.Duration
	AllowsMetered   bool
	CachePolicy     CachePolicy
}

// TaskSpec describes the work of a task.
type TaskSpec struct {
	Kind   Kind
	Method string
	URL    string
	Header http.Header
	// Body is sent as the request body unless BodyFile is set.
	Body     []byte
	BodyFile string
	// Description is an opaque caller tag that survives relaunches.
	Description string
}

// Task is one unit of transport work.
type Task interface {
	ID() uint64
	Spec() TaskSpec
	State() TaskState
	Resume()
	Suspend()
	Cancel()
	// Progress returns the bytes moved so far and the expected total,
	// -1 when unknown.
	Progress() (moved, expected int64)
}

// Events receives everything a session reports about its tasks.
type Events interface {
	TaskDidWriteData(s Session, t Task, written, totalWritten, totalExpected int64)
	// TaskDidFinishDownloading reports the temporary location of a finished
	// download. The file is removed once the call returns unless it was
	// moved away.
	TaskDidFinishDownloading(s Session, t Task, location string)
	TaskDidSendBodyData(s Session, t Task, sent, totalSent, totalExpected int64)
	TaskDidReceiveData(s Session, t Task, data []byte)
	// TaskDidComplete is the last event of every task.
	TaskDidComplete(s Session, t Task, err error)
	// SessionDidFinishEvents reports that every started task has delivered
	// its final event.
	SessionDidFinishEvents(s Session)
}

// Session runs the tasks of one traffic class.
type Session interface {
	Identifier() string
	NewTask(spec TaskSpec) (Task, error)
	// Tasks returns the unfinished tasks, including ones restored from a
	// previous process.
	Tasks(ctx context.Context) ([]Task, error)
	Apply(settings Settings)
	Close() error
}

// Factory builds the session of a traffic class.
type Factory func(class transfer.Class, settings Settings, events Events) (Session, error)
