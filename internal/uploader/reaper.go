package uploader

import (
	"context"
	"log/slog"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

// Sweep evicts every terminal or stale task and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.sweepLocked()
	if n > 0 {
		m.announceLocked()
	}
	return n
}

func (m *Manager) sweepLocked() int {
	now := m.now()

	var ids []string
	m.store.each(func(e *entry) {
		if evictable(e.task, now, m.cfg.TaskTimeout) {
			ids = append(ids, e.task.ID)
		}
	})

	for _, id := range ids {
		if e, ok := m.store.get(id); ok && e.task.Status == domain.StatusUploading {
			slog.Warn("evicting stale upload",
				slog.String("task_id", id),
				slog.Duration("age", now.Sub(e.task.CreatedAt)),
			)
		}
		m.evictLocked(id)
	}

	return len(ids)
}

// evictable: terminal, or older than the staleness timeout whatever the status.
func evictable(t *domain.UploadTask, now time.Time, timeout time.Duration) bool {
	return t.Status.Terminal() || now.Sub(t.CreatedAt) > timeout
}

func (m *Manager) runReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Info("cleanup", slog.Int("evicted_tasks", n))
			}
		}
	}
}
