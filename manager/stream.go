package manager

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/registry"
	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// streamItem is an upload or a request.
type streamItem interface {
	comparable
	Key() string
	URL() string
	SetSpan(trace.Span)
	Attach(transfer.Controller) bool
	Resume() bool
	DidReceiveData([]byte)
	Complete(error) *transfer.Terminal[[]byte]
}

// register stores a new non-coalescing item. Request ids are never reused,
// so a collision is reported as [transfer.ErrAlreadyExists].
func register[I streamItem](reg *registry.Registry[I], it I) bool {
	_, loaded := reg.LoadOrStore(it.Key(), it)
	return !loaded
}

// startStream creates and resumes the transport task of a registered
// upload or request.
func startStream[I streamItem](m *Manager, class transfer.Class, reg, tasks *registry.Registry[I], it I, spec session.TaskSpec) {
	it.SetSpan(m.startSpan("xfer."+class.String(),
		attribute.String("request_id", it.Key()),
		attribute.String("url", it.URL()),
		attribute.String("method", spec.Method),
	))

	s, err := m.session(class)
	if err != nil {
		settle(reg, it.Key(), it, it.Complete(transfer.Failure(it.Key(), err)))
		return
	}

	task, err := s.NewTask(spec)
	if err != nil {
		m.logger.Error("creating task", "class", class.String(), "request_id", it.Key(), "error", err)
		settle(reg, it.Key(), it, it.Complete(transfer.Failure(it.Key(), err)))
		return
	}

	if !it.Attach(task) {
		task.Cancel()
		return
	}
	tasks.Put(taskKey(task), it)

	m.logger.Info("transfer started", "class", class.String(), "request_id", it.Key(), "url", it.URL(), "task_id", task.ID())
	it.Resume()
}

func streamDidReceiveData[I streamItem](tasks *registry.Registry[I], t session.Task, data []byte) {
	if it, ok := tasks.Get(taskKey(t)); ok {
		it.DidReceiveData(data)
	}
}

func streamDidComplete[I streamItem](reg, tasks *registry.Registry[I], t session.Task, err error) {
	it, ok := tasks.Remove(taskKey(t))
	if !ok {
		return
	}
	settle(reg, it.Key(), it, it.Complete(transportFailure(it.Key(), err)))
}
