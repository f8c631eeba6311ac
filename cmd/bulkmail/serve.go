package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/pure-golang/bulkmail/api"
	"github.com/pure-golang/bulkmail/httpserver/std"
	"github.com/pure-golang/bulkmail/metrics"
)

func serveCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{queue: cfg.QueueProvider != ""})
	if err != nil {
		return err
	}
	defer a.Close()

	opts := api.Options{
		Store:     a.store,
		Campaigns: a.service,
		Templates: a.templates,
		Progress:  a.snapshots,
		Publisher: a.publisher,
		Topic:     cfg.CampaignsTopic,
		Health:    a.health,
	}
	if !cfg.Metrics.Enabled() {
		opts.Metrics = metrics.Handler()
	}

	server := std.NewDefault(cfg.HTTP, api.NewHandler(opts))
	server.Run()

	<-ctx.Done()
	slog.Default().Info("shutting down")
	return server.Close()
}
