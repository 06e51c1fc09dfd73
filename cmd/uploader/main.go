package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/you-humble/recuploader/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	if err := app.New(ctx).Run(ctx); err != nil {
		log.Fatalf("uploader: %v", err)
	}
}
