package natsctl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/you-humble/recuploader/internal/uploader"
)

type Controller interface {
	Handle(msg uploader.ControlMessage) uploader.Response
}

type subscriber interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Responder answers control messages sent as NATS requests. Replies are the
// JSON encoded uploader.Response; messages without a reply subject are
// handled and their response dropped.
type Responder struct {
	nc      subscriber
	subject string
	queue   string
	ctl     Controller
}

func NewResponder(nc subscriber, subject, queue string, ctl Controller) *Responder {
	return &Responder{nc: nc, subject: subject, queue: queue, ctl: ctl}
}

func (r *Responder) Run(ctx context.Context) error {
	sub, err := r.nc.QueueSubscribe(r.subject, r.queue, r.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}

	slog.Info("NATS control responder is running",
		slog.String("subject", r.subject),
		slog.String("queue", r.queue),
	)

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
	}
	slog.Info("NATS control responder stopped")
	return nil
}

func (r *Responder) onMessage(msg *nats.Msg) {
	reply := r.handle(msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		slog.Warn("NATS respond", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
}

func (r *Responder) handle(data []byte) []byte {
	var resp uploader.Response

	msg, err := uploader.DecodeControl(data)
	if err != nil {
		slog.Warn("control message rejected", slog.String("error", err.Error()))
		resp = uploader.ErrorReport(err)
	} else {
		resp = r.ctl.Handle(msg)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal control response", slog.String("error", err.Error()))
		out, _ = json.Marshal(uploader.ErrorReport(err))
	}
	return out
}
