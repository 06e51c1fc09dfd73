package uploader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

type createFunc func(ctx context.Context, upload domain.RecordingUpload, token string, progress func(sent, total int64)) (string, error)

type fakeClient struct {
	fn createFunc

	mu      sync.Mutex
	started []string
	tokens  []string
	uploads []domain.RecordingUpload
}

func (c *fakeClient) CreateRecording(
	ctx context.Context,
	upload domain.RecordingUpload,
	token string,
	progress func(sent, total int64),
) (string, error) {
	c.mu.Lock()
	c.started = append(c.started, upload.Title)
	c.tokens = append(c.tokens, token)
	c.uploads = append(c.uploads, upload)
	c.mu.Unlock()

	if c.fn == nil {
		return "rec-" + upload.Title, nil
	}
	return c.fn(ctx, upload, token, progress)
}

func (c *fakeClient) startedTitles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.started...)
}

// gatedClient blocks every transfer until its title is released or the
// context is cancelled.
type gatedClient struct {
	fakeClient

	gmu   sync.Mutex
	gates map[string]chan error
}

func newGatedClient() *gatedClient {
	g := &gatedClient{gates: make(map[string]chan error)}
	g.fn = func(ctx context.Context, upload domain.RecordingUpload, _ string, _ func(int64, int64)) (string, error) {
		select {
		case err := <-g.gate(upload.Title):
			if err != nil {
				return "", err
			}
			return "rec-" + upload.Title, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g
}

func (g *gatedClient) gate(title string) chan error {
	g.gmu.Lock()
	defer g.gmu.Unlock()
	ch, ok := g.gates[title]
	if !ok {
		ch = make(chan error, 1)
		g.gates[title] = ch
	}
	return ch
}

func (g *gatedClient) release(title string, err error) {
	g.gate(title) <- err
}

type finalizerFunc func(ctx context.Context, in domain.FinalizeInput) error

func (f finalizerFunc) Finalize(ctx context.Context, in domain.FinalizeInput) error {
	return f(ctx, in)
}

// recorder keeps every announced snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (r *recorder) Announce(snap domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recorder) all() []domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Snapshot(nil), r.snaps...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		MaxConcurrent:          2,
		MaxMemoryMB:            500,
		MaxFileSizeMB:          200,
		TaskTimeout:            5 * time.Minute,
		SweepInterval:          time.Hour,
		CompletedEvictionDelay: time.Hour,
		FailedEvictionDelay:    time.Hour,
	}
}

func newTestManager(t *testing.T, cfg Config, client RecordingClient, fin Finalizer, ann Announcer) *Manager {
	t.Helper()
	m := New(cfg, client, fin, ann)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	return m
}

func admit(t *testing.T, m *Manager, title string, size int) string {
	t.Helper()
	id, err := m.Admit(domain.AdmitRequest{
		Title:       title,
		Payload:     make([]byte, size),
		ContentType: "video/webm",
		Metadata:    []byte(`{"duration":12}`),
		AuthToken:   "token-" + title,
	})
	if err != nil {
		t.Fatalf("admit %s: %v", title, err)
	}
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func taskStatus(m *Manager, id string) domain.TaskStatus {
	v, ok := m.Task(id)
	if !ok {
		return ""
	}
	return v.Status
}

func waitStatus(t *testing.T, m *Manager, id string, want domain.TaskStatus) domain.TaskView {
	t.Helper()
	waitFor(t, string(want)+" on "+id, func() bool { return taskStatus(m, id) == want })
	v, _ := m.Task(id)
	return v
}

func countStatus(snap domain.Snapshot, status domain.TaskStatus) int {
	n := 0
	for _, v := range snap.Tasks {
		if v.Status == status {
			n++
		}
	}
	return n
}
