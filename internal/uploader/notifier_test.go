package uploader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

type captureSink struct {
	name string
	err  error

	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Deliver(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

func (s *captureSink) last() (domain.Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return domain.Snapshot{}, 0
	}
	return s.snaps[len(s.snaps)-1], len(s.snaps)
}

func snapWith(n int) domain.Snapshot {
	return domain.Snapshot{Tasks: make([]domain.TaskView, n)}
}

func TestSubscriberKeepsOnlyLatest(t *testing.T) {
	n := NewNotifier(time.Second)
	ch, unsubscribe := n.Subscribe()
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		n.Announce(snapWith(i))
	}

	select {
	case got := <-ch:
		if len(got.Tasks) != 5 {
			t.Fatalf("expected the latest snapshot, got %d tasks", len(got.Tasks))
		}
	default:
		t.Fatalf("expected a pending snapshot")
	}

	select {
	case got := <-ch:
		t.Fatalf("intermediate snapshots must be dropped, got %d tasks", len(got.Tasks))
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(time.Second)
	ch, unsubscribe := n.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	n.Announce(snapWith(1))
}

func TestSinksReceiveLatestSnapshot(t *testing.T) {
	ok := &captureSink{name: "ok"}
	failing := &captureSink{name: "failing", err: errors.New("unreachable")}
	n := NewNotifier(time.Second, ok, failing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	defer n.Close()

	for i := 1; i <= 3; i++ {
		n.Announce(snapWith(i))
	}

	waitFor(t, "sink delivery", func() bool {
		a, _ := ok.last()
		b, _ := failing.last()
		return len(a.Tasks) == 3 && len(b.Tasks) == 3
	})

	if _, count := ok.last(); count > 3 {
		t.Fatalf("sink got more deliveries than announcements: %d", count)
	}
	if st := n.Stats(); st.Announced != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestCloseStopsAnnouncements(t *testing.T) {
	n := NewNotifier(time.Second)
	ch, _ := n.Subscribe()
	n.Close()
	n.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after Close")
	}

	n.Announce(snapWith(1))
	if st := n.Stats(); st.Announced != 0 {
		t.Fatalf("announce after close must be dropped, got %+v", st)
	}

	late, _ := n.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after close must return a closed channel")
	}
}

func TestManagerAnnouncesThroughNotifier(t *testing.T) {
	n := NewNotifier(time.Second)
	ch, unsubscribe := n.Subscribe()
	defer unsubscribe()

	m := newTestManager(t, testConfig(), &fakeClient{}, nil, n)
	id := admit(t, m, "a", 10)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-ch:
			if len(snap.Tasks) == 1 && snap.Tasks[0].ID == id && snap.Tasks[0].Status == domain.StatusCompleted {
				if snap.Memory.LimitMB != 500 {
					t.Fatalf("snapshot without memory summary: %+v", snap.Memory)
				}
				return
			}
		case <-deadline:
			t.Fatalf("never saw the completed snapshot")
		}
	}
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(ctx context.Context, _ domain.Snapshot) error {
	close(s.entered)
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCloseWaitsForInFlightDelivery(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	n := NewNotifier(5*time.Second, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Announce(snapWith(1))
	select {
	case <-sink.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("sink never received the snapshot")
	}

	closed := make(chan struct{})
	go func() {
		n.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("Close returned while a delivery was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("Close did not return after the delivery finished")
	}
}
