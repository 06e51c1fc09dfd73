package uploader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/you-humble/recuploader/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Sink receives snapshots outside the process (message bus, cache).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, snap domain.Snapshot) error
}

// Notifier is a fire-and-forget snapshot channel. Announce never blocks:
// subscribers and sinks only ever see the latest snapshot, intermediate
// ones are coalesced away when a consumer is slow.
type Notifier struct {
	sinks           []Sink
	deliveryTimeout time.Duration

	mu     sync.Mutex
	latest *domain.Snapshot
	subs   map[int]chan domain.Snapshot
	nextID int
	closed bool

	wake chan struct{}
	done chan struct{}
	loop sync.WaitGroup

	announced atomic.Uint64
	coalesced atomic.Uint64
}

func NewNotifier(deliveryTimeout time.Duration, sinks ...Sink) *Notifier {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 5 * time.Second
	}

	return &Notifier{
		sinks:           sinks,
		deliveryTimeout: deliveryTimeout,
		subs:            make(map[int]chan domain.Snapshot),
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
}

func (n *Notifier) Announce(snap domain.Snapshot) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}

	n.announced.Add(1)
	if n.latest != nil {
		n.coalesced.Add(1)
	}
	n.latest = &snap

	for _, ch := range n.subs {
		offerLatest(ch, snap)
	}
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// offerLatest replaces whatever the subscriber has not read yet.
func offerLatest(ch chan domain.Snapshot, snap domain.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- snap:
	default:
	}
}

// Subscribe returns a channel holding at most the newest snapshot and a
// function that unsubscribes and closes it.
func (n *Notifier) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(ch)
			}
		})
	}
}

// Start delivers snapshots to the sinks until ctx is done or Close is called.
func (n *Notifier) Start(ctx context.Context) {
	n.loop.Add(1)
	go func() {
		defer n.loop.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.done:
				return
			case <-n.wake:
				n.mu.Lock()
				snap := n.latest
				n.latest = nil
				n.mu.Unlock()

				if snap != nil {
					n.deliver(ctx, *snap)
				}
			}
		}
	}()
}

func (n *Notifier) deliver(ctx context.Context, snap domain.Snapshot) {
	if len(n.sinks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.deliveryTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range n.sinks {
		g.Go(func() error {
			if err := s.Deliver(ctx, snap); err != nil {
				slog.Warn("snapshot delivery",
					slog.String("sink", s.Name()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops announcements, closes every subscriber channel and waits for
// an in-flight sink delivery to finish.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.done)

		for id, ch := range n.subs {
			close(ch)
			delete(n.subs, id)
		}
	}
	n.mu.Unlock()

	n.loop.Wait()
}

type NotifierStats struct {
	Announced uint64
	Coalesced uint64
}

func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{
		Announced: n.announced.Load(),
		Coalesced: n.coalesced.Load(),
	}
}
