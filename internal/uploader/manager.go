package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

type Config struct {
	MaxConcurrent int
	MaxMemoryMB   int64
	MaxFileSizeMB int64

	TaskTimeout            time.Duration
	SweepInterval          time.Duration
	CompletedEvictionDelay time.Duration
	FailedEvictionDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		MaxMemoryMB:            500,
		MaxFileSizeMB:          200,
		TaskTimeout:            5 * time.Minute,
		SweepInterval:          2 * time.Minute,
		CompletedEvictionDelay: 3 * time.Second,
		FailedEvictionDelay:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = def.MaxMemoryMB
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = def.MaxFileSizeMB
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.CompletedEvictionDelay <= 0 {
		c.CompletedEvictionDelay = def.CompletedEvictionDelay
	}
	if c.FailedEvictionDelay <= 0 {
		c.FailedEvictionDelay = def.FailedEvictionDelay
	}
	return c
}

type RecordingClient interface {
	CreateRecording(
		ctx context.Context,
		upload domain.RecordingUpload,
		authToken string,
		progress func(sent, total int64),
	) (string, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, in domain.FinalizeInput) error
}

type Announcer interface {
	Announce(snap domain.Snapshot)
}

type Manager struct {
	cfg      Config
	notifier Announcer
	exec     *executor

	mu       sync.Mutex
	store    *taskStore
	ledger   memoryLedger
	inFlight int
	stopped  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	now func() time.Time
}

// New builds a manager. finalizer and notifier may be nil.
func New(cfg Config, client RecordingClient, finalizer Finalizer, notifier Announcer) *Manager {
	cfg = cfg.withDefaults()
	store := newTaskStore()
	baseCtx, baseCancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:        cfg,
		notifier:   notifier,
		store:      store,
		ledger:     memoryLedger{store: store, limitMB: cfg.MaxMemoryMB},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		now:        time.Now,
	}
	m.exec = &executor{
		client:    client,
		finalizer: finalizer,
		updates:   m,
		now:       m.clock,
	}

	return m
}

func (m *Manager) clock() time.Time {
	return m.now()
}

// Start launches the periodic sweep. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runReaper(ctx)
	}()

	slog.Info("upload manager is running",
		slog.Int("max_concurrent", m.cfg.MaxConcurrent),
		slog.Int64("max_memory_mb", m.cfg.MaxMemoryMB),
		slog.Int64("max_file_size_mb", m.cfg.MaxFileSizeMB),
		slog.Duration("sweep_interval", m.cfg.SweepInterval),
	)
}

// Stop refuses new admissions, cancels running transfers and waits for
// every goroutine of the manager to return.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	pending := m.store.countStatus(domain.StatusPending)
	uploading := m.store.countStatus(domain.StatusUploading)
	tracked := m.store.len()
	m.store.each(func(e *entry) {
		if e.evictTimer != nil {
			e.evictTimer.Stop()
		}
	})
	m.baseCancel()
	m.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		m.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("upload manager stop: %w", ctx.Err())
	case <-doneCh:
	}

	slog.Info("upload manager stopped",
		slog.Int("tracked", tracked),
		slog.Int("pending_dropped", pending),
		slog.Int("uploads_aborted", uploading),
	)
	return nil
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped
}

func (m *Manager) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) Memory() domain.MemorySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.summary()
}

func (m *Manager) Task(id string) (domain.TaskView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store.get(id)
	if !ok {
		return domain.TaskView{}, false
	}
	return e.task.View(), true
}

// Clear evicts one task on request regardless of its status.
func (m *Manager) Clear(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.evictLocked(id) {
		return fmt.Errorf("clear %s: %w", id, domain.ErrTaskNotFound)
	}
	m.announceLocked()
	return nil
}

// Cancel fails a pending or uploading task with the cancelled reason and
// aborts its transfer, if one is running. Once the transfer has succeeded
// the task can no longer be cancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store.get(id)
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, domain.ErrTaskNotFound)
	}
	if e.task.Status.Terminal() {
		return fmt.Errorf("cancel %s: %w: task is %s", id, domain.ErrTaskNotCancellable, e.task.Status)
	}
	// the recording already exists remotely; only finalization is left
	if e.task.ResultID != "" {
		return fmt.Errorf("cancel %s: %w: recording %s already transferred", id, domain.ErrTaskNotCancellable, e.task.ResultID)
	}

	if e.cancel != nil {
		e.cancel()
	}
	m.finishLocked(e, domain.StatusFailed, domain.ErrCancelled.Error())
	slog.Info("upload cancelled", slog.String("task_id", id))
	return nil
}

func (m *Manager) setProgress(id string, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store.get(id)
	if !ok || e.task.Status != domain.StatusUploading || progress <= e.task.Progress {
		return
	}

	e.task.Progress = min(progress, progressDone)
	e.task.UpdatedAt = m.now()
	m.announceLocked()
}

func (m *Manager) markTransferred(id, resultID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store.get(id)
	if !ok || e.task.Status != domain.StatusUploading {
		return
	}

	e.task.ResultID = resultID
	e.task.Progress = max(e.task.Progress, progressTransferred)
	e.task.UpdatedAt = m.now()
	m.announceLocked()
}

func (m *Manager) markCompleted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.store.get(id); ok {
		m.finishLocked(e, domain.StatusCompleted, "")
	}
}

func (m *Manager) markFailed(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.store.get(id); ok {
		m.finishLocked(e, domain.StatusFailed, reason)
	}
}

// finishLocked moves a task into a terminal state and schedules its eviction.
// Calls on tasks that are already terminal are ignored.
func (m *Manager) finishLocked(e *entry, status domain.TaskStatus, reason string) {
	if !e.task.Status.CanTransition(status) {
		return
	}

	now := m.now()
	e.task.Status = status
	e.task.UpdatedAt = now
	e.task.FinishedAt = now

	delay := m.cfg.FailedEvictionDelay
	if status == domain.StatusCompleted {
		e.task.Progress = progressDone
		delay = m.cfg.CompletedEvictionDelay
	} else {
		e.task.Error = reason
	}

	if !m.stopped {
		id := e.task.ID
		e.evictTimer = time.AfterFunc(delay, func() { m.evictScheduled(id) })
	}

	m.announceLocked()
}

func (m *Manager) evictScheduled(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.evictLocked(id) {
		slog.Debug("task evicted after terminal delay", slog.String("task_id", id))
		m.announceLocked()
	}
}

func (m *Manager) evictLocked(id string) bool {
	e, ok := m.store.remove(id)
	if !ok {
		return false
	}
	if e.evictTimer != nil {
		e.evictTimer.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

func (m *Manager) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Tasks:  m.store.views(),
		Memory: m.ledger.summary(),
		At:     m.now(),
	}
}

func (m *Manager) announceLocked() {
	if m.notifier == nil {
		return
	}
	m.notifier.Announce(m.snapshotLocked())
}
