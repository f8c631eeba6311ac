package main

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/api"
	"github.com/pure-golang/bulkmail/campaign"
	campaignmemory "github.com/pure-golang/bulkmail/campaign/memory"
	campaignpostgres "github.com/pure-golang/bulkmail/campaign/postgres"
	"github.com/pure-golang/bulkmail/config"
	pgxdb "github.com/pure-golang/bulkmail/db/pg/pgx"
	dbsqlx "github.com/pure-golang/bulkmail/db/pg/sqlx"
	"github.com/pure-golang/bulkmail/kv"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/mail"
	"github.com/pure-golang/bulkmail/metrics"
	"github.com/pure-golang/bulkmail/progress"
	"github.com/pure-golang/bulkmail/queue"
	"github.com/pure-golang/bulkmail/queue/kafka"
	"github.com/pure-golang/bulkmail/queue/rabbitmq"
	"github.com/pure-golang/bulkmail/storage"
	"github.com/pure-golang/bulkmail/storage/minio"
	"github.com/pure-golang/bulkmail/template"
	templatepostgres "github.com/pure-golang/bulkmail/template/postgres"
	"github.com/pure-golang/bulkmail/tracing"
	"github.com/pure-golang/bulkmail/tracing/jaeger"
)

// templateStore is what the commands need from a template source.
type templateStore interface {
	campaign.TemplateSource
	api.Templates
}

// app holds the components built from the configuration.
type app struct {
	cfg *config.Config

	sender    mail.Sender
	store     campaign.Store
	templates templateStore
	repo      *templatepostgres.Repository
	kv        kv.Store
	snapshots *progress.Snapshots
	objects   storage.Storage
	publisher queue.Publisher
	service   *campaign.Service
	health    map[string]api.Pinger

	rabbit  *rabbitmq.Dialer
	closers []io.Closer
}

// appOptions selects the optional parts a command needs.
type appOptions struct {
	queue bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.InitDefault(cfg.Logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, health: make(map[string]api.Pinger)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Tracing.Enabled() {
		provider, err := tracing.Init(jaeger.NewProviderBuilder(cfg.Tracing))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, provider)
	}
	closer, err := metrics.InitDefault(cfg.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init metrics")
	}
	a.closers = append(a.closers, closer)

	if a.sender, err = cfg.NewSender(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.sender)

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}

	if a.kv, err = kv.New(ctx, cfg.KV); err != nil {
		return nil, errors.Wrap(err, "failed to connect to kv store")
	}
	a.closers = append(a.closers, a.kv)
	a.health["kv"] = a.kv
	a.snapshots = progress.NewSnapshots(a.kv, nil)

	if cfg.Storage.Enabled() {
		objects, err := minio.Connect(ctx, cfg.Storage)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to object storage")
		}
		a.objects = objects
		a.closers = append(a.closers, objects)
	}

	if opts.queue {
		if err := a.initQueue(); err != nil {
			return nil, err
		}
	}

	serviceOpts := &campaign.ServiceOptions{
		Templates:     a.templates,
		Locks:         a.kv,
		Snapshots:     a.snapshots,
		RatePerMinute: cfg.RatePerMinute,
	}
	if a.objects != nil {
		serviceOpts.Attachments = storage.NewAttachments(a.objects, nil)
		serviceOpts.Reports = a.objects
	}
	if a.publisher != nil && cfg.PublishEvents {
		serviceOpts.Events = progress.NewEvents(a.publisher, cfg.EventsTopic)
	}
	a.service = campaign.NewService(a.store, cfg.NewDispatcher(a.sender), serviceOpts)

	return a, nil
}

func (a *app) initStores(ctx context.Context) error {
	if a.cfg.StoreProvider == config.StoreMemory {
		slog.Default().Warn("campaign records are kept in memory and lost on exit")
		a.store = campaignmemory.NewStore()
		a.templates = template.Builtin{}
		return nil
	}

	db, err := pgxdb.ConnectDefault(ctx, a.cfg.Postgres)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db)
	a.health["postgres"] = db
	store := campaignpostgres.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.store = store

	conn, err := dbsqlx.Connect(ctx, a.cfg.Templates)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn)
	a.health["templates"] = conn
	repo := templatepostgres.NewRepository(conn)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	if _, err := repo.SeedDefaults(ctx); err != nil {
		return err
	}
	a.repo = repo
	a.templates = repo
	return nil
}

func (a *app) initQueue() error {
	switch a.cfg.QueueProvider {
	case config.QueueRabbitMQ:
		a.rabbit = rabbitmq.NewDialer(a.cfg.RabbitMQ.URL, &rabbitmq.DialerOptions{
			RetryPolicy: a.cfg.RabbitMQ.RetryPolicy(),
			Logger:      slog.Default(),
		})
		if err := a.rabbit.Connect(); err != nil {
			return errors.Wrap(err, "failed to connect to rabbitmq")
		}
		a.closers = append(a.closers, a.rabbit)
		publisher := rabbitmq.NewPublisher(a.rabbit, rabbitmq.PublisherConfig{Exchange: a.cfg.RabbitMQ.Exchange})
		a.closers = append(a.closers, publisher)
		a.publisher = publisher
	case config.QueueKafka:
		publisher := kafka.NewPublisher(kafka.NewDialer(a.cfg.Kafka, &kafka.DialerOptions{Logger: slog.Default()}),
			kafka.PublisherConfig{Topic: a.cfg.EventsTopic})
		a.closers = append(a.closers, publisher)
		a.publisher = publisher
	default:
		return errors.Wrap(config.ErrInvalid, "QUEUE_PROVIDER is required for this command")
	}
	return nil
}

// lockRetryBackoff paces redeliveries of a request blocked by a running campaign.
const lockRetryBackoff = 30 * time.Second

// subscriber consumes campaign requests. A blocked request is retried for as
// long as the broker allows.
func (a *app) subscriber() queue.Subscriber {
	if a.cfg.QueueProvider == config.QueueKafka {
		return kafka.NewSubscriber(kafka.NewDialer(a.cfg.Kafka, &kafka.DialerOptions{Logger: slog.Default()}),
			a.cfg.CampaignsTopic, kafka.SubscriberConfig{
				MaxTryNum: int(campaign.DefaultLockTTL / lockRetryBackoff),
				Backoff:   lockRetryBackoff,
			})
	}
	return rabbitmq.NewSubscriber(a.rabbit, a.cfg.CampaignsTopic, rabbitmq.SubscriberOptions{
		Name:      "bulkmail-worker",
		MaxTryNum: rabbitmq.InfiniteRetriesIndicator,
		Backoff:   lockRetryBackoff,
	})
}

// Close releases the components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}
