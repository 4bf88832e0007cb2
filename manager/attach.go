package manager

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// DiscoveredFunc receives every download found by AttachExistingTransfers.
type DiscoveredFunc func(h transfer.Handle, state transfer.State)

// AttachExistingTransfers rebuilds the downloads whose transport tasks
// outlived a previous process. Running tasks come back in progress and
// suspended ones paused; both are registered so later calls for the same
// URL join them. Tasks that were being cancelled are reported as
// cancelled, cancelled again and not registered. Tasks this manager
// started itself are left alone.
//
// It may be called once per Manager; later calls return ErrAlreadyAttached.
func (m *Manager) AttachExistingTransfers(ctx context.Context, onDiscovered DiscoveredFunc) error {
	m.mu.Lock()
	if m.attached {
		m.mu.Unlock()
		return ErrAlreadyAttached
	}
	m.attached = true
	m.mu.Unlock()

	s, err := m.session(transfer.ClassDownload)
	if err != nil {
		return err
	}

	tasks, err := s.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("listing existing tasks: %w", err)
	}

	for _, t := range tasks {
		spec := t.Spec()
		if spec.Kind != session.KindDownload {
			continue
		}
		if _, ok := m.downloadTasks.Get(taskKey(t)); ok {
			// Started by this manager.
			continue
		}

		dl := transfer.NewDownload(spec.URL, spec.Description, CacheName(spec.URL), nil, nil)

		var state transfer.State
		switch t.State() {
		case session.TaskRunning:
			state = transfer.StateInProgress
		case session.TaskSuspended:
			state = transfer.StatePaused
		case session.TaskCancelling:
			dl.Attach(t)
			dl.Cancel().Deliver()
			m.logger.Info("discovered cancelled download", "url", spec.URL, "task_id", t.ID())
			report(onDiscovered, dl.Handle(), transfer.StateCancelled)
			continue
		default:
			continue
		}

		dl.Restore(state)
		dl.Attach(t)

		if _, loaded := m.downloads.LoadOrStore(spec.URL, dl); loaded {
			m.logger.Info("dropping duplicate download", "url", spec.URL, "task_id", t.ID())
			t.Cancel()
			continue
		}
		m.downloadTasks.Put(taskKey(t), dl)

		dl.SetSpan(m.startSpan("xfer.download",
			attribute.String("url", spec.URL),
			attribute.String("tag", spec.Description),
			attribute.Bool("reattached", true),
		))

		if state == transfer.StateInProgress {
			t.Resume()
		}

		m.logger.Info("discovered download", "url", spec.URL, "task_id", t.ID(), "state", state.String())
		report(onDiscovered, dl.Handle(), state)
	}

	return nil
}

func report(fn DiscoveredFunc, h transfer.Handle, state transfer.State) {
	if fn != nil {
		fn(h, state)
	}
}
