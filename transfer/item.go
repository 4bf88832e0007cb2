package transfer

import (
	"errors"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// item holds the state shared by every transfer variant. Its mutex guards
// the state, the listener lists and the task handle; it is never held
// while a listener or the task is called.
type item[T any] struct {
	key string

	mu         sync.Mutex
	state      State
	outcome    Outcome[T]
	progress   []ProgressFunc
	completion []CompletionFunc[T]
	task       Controller
	span       trace.Span
	moved      int64
	expected   int64
}

func (it *item[T]) init(key string, progress ProgressFunc, completion CompletionFunc[T]) {
	it.key = key
	it.state = StatePending
	it.expected = -1
	if progress != nil {
		it.progress = append(it.progress, progress)
	}
	if completion != nil {
		it.completion = append(it.completion, completion)
	}
}

// Key returns the registry key of the item.
func (it *item[T]) Key() string { return it.key }

// State returns the current lifecycle state.
func (it *item[T]) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.state
}

// Result returns the terminal outcome once the item has finished.
func (it *item[T]) Result() (Outcome[T], bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.outcome, it.state.Terminal()
}

// Progress returns the bytes moved so far and the expected total.
func (it *item[T]) Progress() (moved, expected int64) {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.moved, it.expected
}

// AddListeners appends listeners to a live item. It reports false, and
// appends nothing, once the item is terminal.
func (it *item[T]) AddListeners(progress ProgressFunc, completion CompletionFunc[T]) bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.state.Terminal() {
		return false
	}
	if progress != nil {
		it.progress = append(it.progress, progress)
	}
	if completion != nil {
		it.completion = append(it.completion, completion)
	}
	return true
}

// SetSpan attaches the span that is ended when the item finishes.
func (it *item[T]) SetSpan(span trace.Span) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.span = span
}

// Restore sets the starting state of an item rebuilt from a task that
// already exists at the transport layer.
func (it *item[T]) Restore(state State) {
	if state.Terminal() {
		return
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	if !it.state.Terminal() {
		it.state = state
	}
}

// Attach hands the transport task to the item. It reports false when the
// item already finished, in which case the caller still owns the task and
// must cancel it.
func (it *item[T]) Attach(task Controller) bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.state.Terminal() {
		return false
	}
	it.task = task
	return true
}

// Resume moves a pending or paused item to in progress and resumes its task.
func (it *item[T]) Resume() bool {
	it.mu.Lock()
	if it.state != StatePending && it.state != StatePaused {
		it.mu.Unlock()
		return false
	}
	it.state = StateInProgress
	task := it.task
	it.mu.Unlock()

	if task != nil {
		task.Resume()
	}
	return true
}

// Pause suspends the task of a pending or running item.
func (it *item[T]) Pause() bool {
	it.mu.Lock()
	if it.state != StatePending && it.state != StateInProgress {
		it.mu.Unlock()
		return false
	}
	it.state = StatePaused
	task := it.task
	it.mu.Unlock()

	if task != nil {
		task.Suspend()
	}
	return true
}

// Cancel moves the item to cancelled. The returned Terminal cancels the
// task, if one was attached, and delivers ErrCancelled to every listener.
// It returns nil when the item had already finished.
func (it *item[T]) Cancel() *Terminal[T] {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.state.Terminal() {
		return nil
	}

	task := it.task
	term := it.finishLocked(Outcome[T]{Err: NewError(ErrCancelled, it.key, nil)})
	term.cancel = task
	return term
}

// report records progress and returns the listeners to notify.
func (it *item[T]) report(delta, total, expected int64) []ProgressFunc {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.state.Terminal() {
		return nil
	}
	it.moved = total
	it.expected = expected
	return append([]ProgressFunc(nil), it.progress...)
}

func (it *item[T]) notify(delta, total, expected int64) {
	for _, fn := range it.report(delta, total, expected) {
		fn(it.key, delta, total, expected)
	}
}

// finish performs the single terminal transition. fn builds the outcome
// while the lock is held.
func (it *item[T]) finish(fn func() Outcome[T]) *Terminal[T] {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.state.Terminal() {
		return nil
	}
	return it.finishLocked(fn())
}

func (it *item[T]) finishLocked(out Outcome[T]) *Terminal[T] {
	switch {
	case out.Err == nil:
		it.state = StateCompleted
	case errors.Is(out.Err, ErrCancelled):
		it.state = StateCancelled
	default:
		it.state = StateFailed
	}
	it.outcome = out

	term := &Terminal[T]{
		Key:       it.key,
		State:     it.state,
		Outcome:   out,
		listeners: it.completion,
		span:      it.span,
	}

	it.progress = nil
	it.completion = nil
	it.task = nil
	it.span = nil

	return term
}

// Terminal is produced once per item, by the transition into a terminal
// state. The registry entry should be removed before Deliver runs so that
// listeners starting a new transfer for the same key get a fresh one. A
// cancel that stops a transport task is the exception: the entry stays
// until the task reports completion.
type Terminal[T any] struct {
	Key     string
	State   State
	Outcome Outcome[T]

	listeners []CompletionFunc[T]
	cancel    Controller
	span      trace.Span
}

// StopsTask reports whether Deliver cancels a transport task, which later
// acknowledges with its own completion event.
func (t *Terminal[T]) StopsTask() bool {
	return t != nil && t.cancel != nil
}

// Deliver cancels the transport task when the transition was a cancel,
// ends the span and fans the outcome out in registration order.
func (t *Terminal[T]) Deliver() {
	if t == nil {
		return
	}

	if t.cancel != nil {
		t.cancel.Cancel()
	}

	if t.span != nil {
		if t.Outcome.Err != nil {
			t.span.RecordError(t.Outcome.Err)
			t.span.SetStatus(codes.Error, t.State.String())
		}
		t.span.End()
	}

	for _, fn := range t.listeners {
		fn(t.Key, t.Outcome)
	}
}
