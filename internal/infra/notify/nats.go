package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/you-humble/recuploader/internal/domain"
)

type publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// StreamSink publishes every delivered snapshot to a JetStream subject.
// The stream is expected to keep one message per subject.
type StreamSink struct {
	js      publisher
	subject string
}

func NewStreamSink(js publisher, subject string) *StreamSink {
	return &StreamSink{js: js, subject: subject}
}

func (s *StreamSink) Name() string { return "nats" }

func (s *StreamSink) Deliver(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Snapshot-At", snap.At.UTC().Format(time.RFC3339Nano))

	ack, err := s.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish snapshot to %s: %w", s.subject, err)
	}

	slog.Debug("snapshot published",
		slog.String("subject", s.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
		slog.Int("tasks", len(snap.Tasks)),
	)
	return nil
}
