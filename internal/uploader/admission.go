package uploader

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/you-humble/recuploader/internal/domain"

	"github.com/google/uuid"
)

// Admit validates the request against the size and memory budgets, stores a
// pending task and kicks the scheduler. The transfer itself runs later.
func (m *Manager) Admit(req domain.AdmitRequest) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", fmt.Errorf("%w: title is required", domain.ErrInvalidRequest)
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("%w: payload is empty", domain.ErrInvalidRequest)
	}

	size := int64(len(req.Payload))
	incomingMB := toMB(size)
	if incomingMB > float64(m.cfg.MaxFileSizeMB) {
		return "", fmt.Errorf("%w: %.2fMB exceeds the %dMB limit",
			domain.ErrFileTooLarge, incomingMB, m.cfg.MaxFileSizeMB)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return "", domain.ErrManagerStopped
	}

	if !m.ledger.fits(incomingMB) {
		if n := m.sweepLocked(); n > 0 {
			slog.Info("memory pressure sweep", slog.Int("evicted", n))
			m.announceLocked()
		}
		if current := m.ledger.totalMB(); !m.ledger.fits(incomingMB) {
			return "", fmt.Errorf("%w: current %.2fMB + incoming %.2fMB exceeds the %dMB limit",
				domain.ErrMemoryExceeded, current, incomingMB, m.cfg.MaxMemoryMB)
		}
	}

	now := m.now()
	task := &domain.UploadTask{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Payload:     req.Payload,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
		AuthToken:   req.AuthToken,
		Progress:    0,
		Status:      domain.StatusPending,
		PayloadSize: size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.store.add(task)

	slog.Info("task admitted",
		slog.String("task_id", task.ID),
		slog.String("title", task.Title),
		slog.Int64("payload_size", size),
	)

	m.announceLocked()
	m.pumpLocked()

	return task.ID, nil
}
