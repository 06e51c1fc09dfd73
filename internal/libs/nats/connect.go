package natsq

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
}

func Connect(cfg Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}

	return nc, nil
}

// SnapshotStream declares an in-memory stream that keeps only the most
// recent message per subject, so late consumers read the current state.
func SnapshotStream(nc *nats.Conn, name, subject string) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:              name,
		Subjects:          []string{subject},
		Storage:           nats.MemoryStorage,
		MaxMsgsPerSubject: 1,
		Discard:           nats.DiscardOld,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("nats: add stream %s: %w", name, err)
	}

	return js, nil
}
