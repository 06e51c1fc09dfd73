package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/you-humble/recuploader/internal/infra/archive"
	"github.com/you-humble/recuploader/internal/infra/config"
	"github.com/you-humble/recuploader/internal/infra/finalize"
	"github.com/you-humble/recuploader/internal/infra/notify"
	"github.com/you-humble/recuploader/internal/infra/recording"
	mio "github.com/you-humble/recuploader/internal/libs/minio"
	natsq "github.com/you-humble/recuploader/internal/libs/nats"
	rediscli "github.com/you-humble/recuploader/internal/libs/redis"
	"github.com/you-humble/recuploader/internal/transport"
	"github.com/you-humble/recuploader/internal/transport/grpcsrv"
	"github.com/you-humble/recuploader/internal/transport/natsctl"
	"github.com/you-humble/recuploader/internal/uploader"
)

const (
	defaultCfgPath = "./configs/local.yaml"
	snapshotStream = "UPLOAD_SNAPSHOTS"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis    *redis.Client
	natsConn *nats.Conn
	js       nats.JetStreamContext

	recording *recording.Client
	finalizer *finalize.Chain
	notifier  *uploader.Notifier
	manager   *uploader.Manager

	router    Router
	grpc      *grpcsrv.Server
	responder *natsctl.Responder
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = defaultCfgPath
		}
		di.cfg = config.MustLoad(path)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		level, err := config.ParseLevel(di.Config().LogLevel)
		if err != nil {
			log.Fatalf("Logger: %+v", err)
		}
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

// RedisClient returns nil when redis is not configured.
func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	cfg := di.Config().Redis
	if di.redis == nil && cfg.Enabled() {
		client, err := rediscli.Connect(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

// NATSConn returns nil when NATS is not configured.
func (di *dependencyInjector) NATSConn() *nats.Conn {
	cfg := di.Config().NATS
	if di.natsConn == nil && cfg.Enabled() {
		nc, err := natsq.Connect(natsq.Config{
			URL:           cfg.URL,
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}

		di.natsConn = nc
		di.Logger().Info("connected to NATS", slog.String("url", cfg.URL))
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream() nats.JetStreamContext {
	if di.js == nil && di.NATSConn() != nil {
		js, err := natsq.SnapshotStream(di.NATSConn(), snapshotStream, di.Config().NATS.SnapshotSubject)
		if err != nil {
			log.Fatalf("JetStream: %+v", err)
		}
		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) Sinks(ctx context.Context) []uploader.Sink {
	cfg := di.Config()
	var sinks []uploader.Sink

	if js := di.JetStream(); js != nil {
		sinks = append(sinks, notify.NewStreamSink(js, cfg.NATS.SnapshotSubject))
	}
	if rdb := di.RedisClient(ctx); rdb != nil {
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL))
	}
	return sinks
}

func (di *dependencyInjector) Notifier(ctx context.Context) *uploader.Notifier {
	if di.notifier == nil {
		sinks := di.Sinks(ctx)
		di.notifier = uploader.NewNotifier(di.Config().Uploader.NotifyTimeout, sinks...)
		di.Logger().Info("snapshot notifier ready", slog.Int("sinks", len(sinks)))
	}
	return di.notifier
}

func (di *dependencyInjector) RecordingClient() *recording.Client {
	if di.recording == nil {
		cfg := di.Config().Recording
		di.recording = recording.New(recording.Config{
			Endpoint:          cfg.Endpoint,
			ThumbnailEndpoint: cfg.ThumbnailEndpoint,
			Timeout:           cfg.RequestTimeout,
		}, nil)
	}
	return di.recording
}

func (di *dependencyInjector) Finalizer(ctx context.Context) *finalize.Chain {
	if di.finalizer == nil {
		cfg := di.Config()
		steps := []finalize.Step{{Name: "thumbnail", Finalizer: di.RecordingClient()}}

		if cfg.MinIO.Enabled() {
			client, err := mio.Connect(ctx, mio.Config{
				Endpoint:        cfg.MinIO.Endpoint,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
			})
			if err != nil {
				log.Fatalf("MinIO: %+v", err)
			}
			steps = append(steps, finalize.Step{
				Name:      "archive",
				Finalizer: archive.New(client, cfg.MinIO.Bucket, cfg.MinIO.BasePath),
			})
			di.Logger().Info("recording archive enabled",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)
		}

		di.finalizer = finalize.NewChain(steps...)
	}
	return di.finalizer
}

func (di *dependencyInjector) Manager(ctx context.Context) *uploader.Manager {
	if di.manager == nil {
		cfg := di.Config().Uploader
		di.manager = uploader.New(uploader.Config{
			MaxConcurrent:          cfg.MaxConcurrent,
			MaxMemoryMB:            cfg.MaxMemoryMB,
			MaxFileSizeMB:          cfg.MaxFileSizeMB,
			TaskTimeout:            cfg.TaskTimeout,
			SweepInterval:          cfg.SweepInterval,
			CompletedEvictionDelay: cfg.CompletedEvictionDelay,
			FailedEvictionDelay:    cfg.FailedEvictionDelay,
		},
			di.RecordingClient(),
			di.Finalizer(ctx),
			di.Notifier(ctx),
		)
	}
	return di.manager
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(
			transport.NewHandler(di.Config().Uploader.MaxFileSizeMB, di.Manager(ctx), di.Notifier(ctx)),
		)
	}
	return di.router
}

func (di *dependencyInjector) GRPCServer() *grpcsrv.Server {
	if di.grpc == nil && di.Config().GRPCAddr != "" {
		di.grpc = grpcsrv.New(di.Config().GRPCAddr, di.Config().ShutdownTimeout, di.Logger())
	}
	return di.grpc
}

// ControlResponder returns nil when NATS is not configured.
func (di *dependencyInjector) ControlResponder(ctx context.Context) *natsctl.Responder {
	if di.responder == nil && di.NATSConn() != nil {
		cfg := di.Config().NATS
		di.responder = natsctl.NewResponder(di.NATSConn(), cfg.ControlSubject, cfg.ControlQueue, di.Manager(ctx))
	}
	return di.responder
}

func (di *dependencyInjector) Close() {
	if di.natsConn != nil {
		if err := di.natsConn.Drain(); err != nil {
			slog.Warn("NATS drain", slog.String("error", err.Error()))
		}
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("redis close", slog.String("error", err.Error()))
		}
	}
}
