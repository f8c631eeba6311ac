package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/pure-golang/bulkmail/worker"
)

func workerCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{queue: true})
	if err != nil {
		return err
	}
	defer a.Close()

	w := worker.New(a.service, a.subscriber())
	done := make(chan error, 1)
	go func() { done <- w.Start() }()
	slog.Default().Info("worker started", "topic", cfg.CampaignsTopic)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	slog.Default().Info("shutting down")
	if err := w.Close(); err != nil {
		return err
	}
	return <-done
}
