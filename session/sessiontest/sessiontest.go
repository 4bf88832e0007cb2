// Package sessiontest provides an in-memory [session.Session] whose tasks
// never touch the network. Tests drive the events of each task by hand.
package sessiontest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// Recorder is a [session.Factory] remembering every session it built.
type Recorder struct {
	mu       sync.Mutex
	sessions map[transfer.Class]*Session
	seeds    map[transfer.Class][]seed
	builds   map[transfer.Class]int
}

type seed struct {
	spec  session.TaskSpec
	state session.TaskState
}

func NewRecorder() *Recorder {
	return &Recorder{
		sessions: make(map[transfer.Class]*Session),
		seeds:    make(map[transfer.Class][]seed),
		builds:   make(map[transfer.Class]int),
	}
}

// Seed registers a task that exists before the session of class is built,
// the way a relaunched process finds tasks of its previous lifetime.
func (r *Recorder) Seed(class transfer.Class, spec session.TaskSpec, state session.TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seeds[class] = append(r.seeds[class], seed{spec: spec, state: state})
}

// Factory satisfies [session.Factory].
func (r *Recorder) Factory(class transfer.Class, settings session.Settings, events session.Events) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := New("test."+class.String(), settings, events)
	for _, sd := range r.seeds[class] {
		s.add(sd.spec, sd.state)
	}
	r.sessions[class] = s
	r.builds[class]++

	return s, nil
}

// Session returns the session built for class, or nil.
func (r *Recorder) Session(class transfer.Class) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions[class]
}

// Builds returns how many sessions were built for class.
func (r *Recorder) Builds(class transfer.Class) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.builds[class]
}

// Session is a scripted [session.Session].
type Session struct {
	id     string
	events session.Events

	mu       sync.Mutex
	tasks    map[uint64]*Task
	created  []*Task
	applied  []session.Settings
	nextID   uint64
	closed   bool
	newError error
}

// New returns an empty session.
func New(id string, settings session.Settings, events session.Events) *Session {
	return &Session{
		id:      id,
		events:  events,
		tasks:   make(map[uint64]*Task),
		applied: []session.Settings{settings},
		nextID:  1,
	}
}

func (s *Session) Identifier() string { return s.id }

// FailNewTask makes every following NewTask call return err.
func (s *Session) FailNewTask(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.newError = err
}

func (s *Session) NewTask(spec session.TaskSpec) (session.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, session.ErrSessionClosed
	}
	if s.newError != nil {
		return nil, s.newError
	}

	t := s.addLocked(spec, session.TaskSuspended)
	s.created = append(s.created, t)
	return t, nil
}

func (s *Session) add(spec session.TaskSpec, state session.TaskState) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(spec, state)
}

func (s *Session) addLocked(spec session.TaskSpec, state session.TaskState) *Task {
	t := &Task{s: s, id: s.nextID, spec: spec, state: state, expected: -1}
	s.nextID++
	s.tasks[t.id] = t
	return t
}

func (s *Session) Tasks(ctx context.Context) ([]session.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	tasks := make([]session.Task, len(ids))
	for i, id := range ids {
		tasks[i] = s.tasks[id]
	}
	return tasks, nil
}

// Created returns the tasks made by NewTask in creation order.
func (s *Session) Created() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Task(nil), s.created...)
}

// Task returns the live task with id.
func (s *Session) Task(id uint64) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	return t, ok
}

func (s *Session) Apply(settings session.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = append(s.applied, settings)
}

// Applied returns the settings the session was built with followed by
// every Apply call.
func (s *Session) Applied() []session.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]session.Settings(nil), s.applied...)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// FinishEvents reports that the session delivered all of its events.
func (s *Session) FinishEvents() {
	s.events.SessionDidFinishEvents(s)
}

// Task is a scripted [session.Task]. Its control methods only record the
// call and update the state.
type Task struct {
	s    *Session
	id   uint64
	spec session.TaskSpec

	mu       sync.Mutex
	state    session.TaskState
	moved    int64
	expected int64
	resumes  int
	suspends int
	cancels  int
}

func (t *Task) ID() uint64             { return t.id }
func (t *Task) Spec() session.TaskSpec { return t.spec }

func (t *Task) State() session.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Task) Progress() (moved, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.moved, t.expected
}

func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resumes++
	if t.state == session.TaskSuspended || t.state == session.TaskRunning {
		t.state = session.TaskRunning
	}
}

func (t *Task) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.suspends++
	if t.state == session.TaskRunning {
		t.state = session.TaskSuspended
	}
}

func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancels++
	if t.state != session.TaskCompleted {
		t.state = session.TaskCancelling
	}
}

// Calls returns how often Resume, Suspend and Cancel were invoked.
func (t *Task) Calls() (resumes, suspends, cancels int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.resumes, t.suspends, t.cancels
}

func (t *Task) String() string {
	return fmt.Sprintf("task %d %s %s", t.id, t.spec.URL, t.State())
}

// WriteData reports written bytes of a download.
func (t *Task) WriteData(written, totalWritten, totalExpected int64) {
	t.progress(totalWritten, totalExpected)
	t.s.events.TaskDidWriteData(t.s, t, written, totalWritten, totalExpected)
}

// SendBodyData reports sent body bytes of an upload.
func (t *Task) SendBodyData(sent, totalSent, totalExpected int64) {
	t.progress(totalSent, totalExpected)
	t.s.events.TaskDidSendBodyData(t.s, t, sent, totalSent, totalExpected)
}

// ReceiveData reports a chunk of the response body.
func (t *Task) ReceiveData(data []byte) {
	t.s.events.TaskDidReceiveData(t.s, t, data)
}

// FinishDownloading reports the temporary location of a finished download.
func (t *Task) FinishDownloading(location string) {
	t.s.events.TaskDidFinishDownloading(t.s, t, location)
}

// Complete delivers the final event of the task and drops it from the session.
func (t *Task) Complete(err error) {
	t.mu.Lock()
	t.state = session.TaskCompleted
	t.mu.Unlock()

	t.s.mu.Lock()
	delete(t.s.tasks, t.id)
	t.s.mu.Unlock()

	t.s.events.TaskDidComplete(t.s, t, err)
}

func (t *Task) progress(moved, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.moved = moved
	t.expected = expected
}
