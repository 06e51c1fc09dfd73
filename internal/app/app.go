package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/you-humble/recuploader/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()

	srv := &http.Server{
		Addr: di.Config().Addr,
		Handler: transport.WithRecover(
			transport.LogMiddleware(
				di.Router(ctx).MountRoutes(mux),
			),
		),
	}
	// Event streams end when the notifier closes their channels.
	srv.RegisterOnShutdown(di.Notifier(ctx).Close)

	return &app{di: di, srv: srv}
}

func (a *app) Run(ctx context.Context) error {
	defer a.di.Close()

	manager := a.di.Manager(ctx)
	notifier := a.di.Notifier(ctx)
	notifier.Start(ctx)
	manager.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.serveHTTP(gctx) })

	if gs := a.di.GRPCServer(); gs != nil {
		gs.MarkServing()
		g.Go(func() error {
			<-gctx.Done()
			gs.MarkNotServing()
			return nil
		})
		g.Go(func() error { return gs.Run(gctx) })
	}

	if r := a.di.ControlResponder(ctx); r != nil {
		g.Go(func() error { return r.Run(gctx) })
	}

	runErr := g.Wait()

	slog.Info("stopping upload manager")
	stopCtx, cancel := context.WithTimeout(context.Background(), a.di.Config().ShutdownTimeout)
	defer cancel()

	if err := manager.Stop(stopCtx); err != nil {
		slog.Error("upload manager stop", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	}
	notifier.Close()

	st := notifier.Stats()
	slog.Info("uploader stopped",
		slog.Uint64("snapshots_announced", st.Announced),
		slog.Uint64("snapshots_coalesced", st.Coalesced),
	)
	return runErr
}

func (a *app) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			errCh <- e
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", slog.String("error", err.Error()))
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.di.Config().ShutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		return err
	}

	slog.Info("server gracefully stopped")
	return nil
}
