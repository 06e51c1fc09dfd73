package uploader

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/you-humble/recuploader/internal/domain"
)

// uploadJob is the immutable part of a task handed to the executor, so the
// executor never reads the store without the lock.
type uploadJob struct {
	id          string
	title       string
	description string
	payload     []byte
	contentType string
	metadata    json.RawMessage
	authToken   string
}

func (m *Manager) pump() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pumpLocked()
}

// pumpLocked dispatches pending tasks in admission order until the
// concurrency ceiling is reached or nothing is pending.
func (m *Manager) pumpLocked() {
	for !m.stopped && m.inFlight < m.cfg.MaxConcurrent {
		e := m.store.firstPending()
		if e == nil {
			return
		}

		ctx, cancel := context.WithCancel(m.baseCtx)
		e.cancel = cancel

		e.task.Status = domain.StatusUploading
		e.task.Progress = 0
		e.task.UpdatedAt = m.now()
		m.inFlight++

		job := uploadJob{
			id:          e.task.ID,
			title:       e.task.Title,
			description: e.task.Description,
			payload:     e.task.Payload,
			contentType: e.task.ContentType,
			metadata:    e.task.Metadata,
			authToken:   e.task.AuthToken,
		}

		slog.Info("task dispatched",
			slog.String("task_id", job.id),
			slog.Int("in_flight", m.inFlight),
		)
		m.announceLocked()

		m.wg.Add(1)
		go m.dispatch(ctx, cancel, job)
	}
}

func (m *Manager) dispatch(ctx context.Context, cancel context.CancelFunc, job uploadJob) {
	defer m.wg.Done()
	defer cancel()

	m.exec.run(ctx, job)

	m.mu.Lock()
	m.inFlight--
	m.pumpLocked()
	m.mu.Unlock()
}
