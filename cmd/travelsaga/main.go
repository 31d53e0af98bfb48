package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"travelsaga/internal/app/commands"
	"travelsaga/internal/app/eventlog"
	bookingapp "travelsaga/internal/app/handlers/booking"
	"travelsaga/internal/app/middleware"
	appoutbox "travelsaga/internal/app/outbox"
	"travelsaga/internal/app/policies"
	"travelsaga/internal/app/queries"
	"travelsaga/internal/app/reconcile"
	appsaga "travelsaga/internal/app/saga"
	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/infra/broker/kafka"
	"travelsaga/internal/infra/config"
	mongodb "travelsaga/internal/infra/db/mongo"
	"travelsaga/internal/infra/db/postgres"
	redisdb "travelsaga/internal/infra/db/redis"
	ginserver "travelsaga/internal/infra/http/gin"
	"travelsaga/internal/infra/inbox"
	"travelsaga/internal/infra/obs"
	infraoutbox "travelsaga/internal/infra/outbox"
	"travelsaga/internal/infra/providers"
	"travelsaga/internal/infra/storage/memory"
)

const inboxRetention = 7 * 24 * time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger(os.Getenv("APP_ENV")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application bootstrap failed", "error", err)
		os.Exit(1)
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Checks:  app.checks,
		Timeout: 2 * time.Second,
	}, app.handlers)

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(workersCtx)
	for _, w := range app.workers {
		group.Go(func() error {
			logger.Info("worker starting", "worker", w.name)
			if err := w.run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", w.name, err)
			}
			logger.Info("worker stopped", "worker", w.name)
			return nil
		})
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "transport", cfg.EventTransport)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		stop()
	}
	logger.Info("HTTP server stopped")

	cancelWorkers()
	if err := group.Wait(); err != nil {
		logger.Error("worker failed", "error", err)
	}
	app.shutdown(logger)
}

type worker struct {
	name string
	run  func(context.Context) error
}

type application struct {
	handlers   ginserver.Handlers
	checks     map[string]obs.ReadinessCheck
	workers    []worker
	dispatcher *eventlog.KeyedDispatcher
	closers    []func(context.Context) error
}

func (a *application) shutdown(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			logger.Warn("dispatcher drain incomplete", "error", err, "pending", a.dispatcher.Pending())
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

type stores struct {
	repo      domainsaga.Repository
	journal   domainsaga.Journal
	reconcile reconcile.Queue
	idemp     middleware.IdempotencyStore
	mongo     *mongodb.Client
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{checks: map[string]obs.ReadinessCheck{}}
	st, err := buildStores(ctx, cfg, app)
	if err != nil {
		app.shutdown(logger)
		return nil, err
	}

	metrics := obs.NewMetrics()
	faults := cfg.Faults
	flight := providers.NewFlightService(providers.FaultPolicy{FailureRate: faults.FlightFailureRate, CancelFailureRate: faults.CancelFailureRate, Latency: faults.Latency}, logger)
	hotel := providers.NewHotelService(providers.FaultPolicy{FailureRate: faults.HotelFailureRate, CancelFailureRate: faults.CancelFailureRate, Latency: faults.Latency}, logger)
	car := providers.NewCarService(providers.FaultPolicy{FailureRate: faults.CarFailureRate, CancelFailureRate: faults.CancelFailureRate, Latency: faults.Latency}, logger)
	directory := policies.NewStepDirectory(flight, hotel, car)

	runner := appsaga.StepRunner{Steps: directory, Timeout: cfg.StepTimeout, Metrics: metrics}
	compensator := &appsaga.Compensator{
		Runner:  runner,
		Backoff: cfg.CompensationRetryBackoff,
		Queue:   st.reconcile,
		Metrics: metrics,
		Logger:  logger,
	}

	table := eventlog.NewTable()
	dispatcher := eventlog.NewKeyedDispatcher(table, cfg.DispatchWorkers, logger)
	app.dispatcher = dispatcher

	common := []eventlog.Option{eventlog.WithMetrics(metrics), eventlog.WithLogger(logger)}
	orchOpts := append([]eventlog.Option{}, common...)
	chorOpts := append([]eventlog.Option{}, common...)

	switch cfg.EventTransport {
	case config.TransportKafka:
		box, seen := relayStores(st.mongo, cfg.KafkaGroupID, logger)
		orchOpts = append(orchOpts, eventlog.WithOutbox(box, nil))
		chorOpts = append(chorOpts, eventlog.WithOutbox(box, nil))
		if err := wireKafka(cfg, logger, app, box, seen, dispatcher); err != nil {
			app.shutdown(logger)
			return nil, err
		}
	default:
		chorOpts = append(chorOpts, eventlog.WithDispatcher(dispatcher))
	}
	orchPublisher := eventlog.NewPublisher(st.journal, orchOpts...)
	chorPublisher := eventlog.NewPublisher(st.journal, chorOpts...)

	orchDeps := appsaga.Deps{
		Repo:        st.repo,
		Publisher:   orchPublisher,
		Runner:      runner,
		Compensator: compensator,
		Metrics:     metrics,
		Logger:      logger.With("saga_type", string(domainsaga.TypeOrchestration)),
	}
	chorDeps := orchDeps
	chorDeps.Publisher = chorPublisher
	chorDeps.Logger = logger.With("saga_type", string(domainsaga.TypeChoreography))

	waiter := appsaga.NewWaiter()
	appsaga.RegisterRoutes(table, appsaga.NewStepListeners(chorDeps), waiter)
	if err := table.Validate(appsaga.RequiredRoutes()...); err != nil {
		app.shutdown(logger)
		return nil, err
	}

	commandBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	if err := bookingapp.Register(commandBus, queryBus,
		bookingapp.NewBookTripHandler(logger,
			appsaga.NewOrchestrator(orchDeps),
			appsaga.NewChoreography(chorDeps, waiter, cfg.SagaTimeout),
		),
		&bookingapp.GetSagaHandler{Repo: st.repo},
		&bookingapp.ListSagaEventsHandler{Repo: st.repo, Journal: st.journal},
	); err != nil {
		app.shutdown(logger)
		return nil, err
	}

	validator := middleware.NewStructValidator()
	app.handlers = ginserver.Handlers{
		Booking: ginserver.BookingHandler{
			Commands: middleware.ChainCommands(commandBus,
				middleware.Logging(logger),
				middleware.Validation(validator),
				middleware.Idempotency(st.idemp, nil),
			),
			Queries: middleware.ChainQueries(queryBus,
				middleware.QueryLogging(logger),
				middleware.QueryValidation(validator),
			),
		},
		Metrics: metrics.Handler(),
	}

	reconciler := &reconcile.Worker{
		Queue:     st.reconcile,
		Repo:      st.repo,
		Cancel:    runner,
		Publisher: orchPublisher,
		Metrics:   metrics,
		Logger:    logger.With("component", "reconcile"),
		Interval:  cfg.ReconcileInterval,
		Backoff:   cfg.RetryBackoff,
	}
	app.workers = append(app.workers, worker{name: "reconcile", run: reconciler.Run})
	return app, nil
}

func buildStores(ctx context.Context, cfg config.Config, app *application) (stores, error) {
	var st stores

	if cfg.MongoURI != "" {
		client, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return st, fmt.Errorf("connect mongo: %w", err)
		}
		st.mongo = client
		app.checks["mongo"] = client.Ping
		app.closers = append(app.closers, client.Close)
	}

	switch cfg.StoreBackend {
	case config.BackendMongo:
		st.repo = mongodb.NewSagaRepository(st.mongo.DB)
		st.journal = mongodb.NewJournal(st.mongo.DB)
		st.reconcile = mongodb.NewReconcileQueue(st.mongo.DB)
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return st, fmt.Errorf("connect postgres: %w", err)
		}
		app.checks["postgres"] = db.PingContext
		app.closers = append(app.closers, closeSQL(db))
		if err := postgres.Migrate(ctx, db); err != nil {
			return st, err
		}
		st.repo = postgres.NewSagaRepository(db)
		st.journal = postgres.NewJournal(db)
		st.reconcile = postgres.NewReconcileQueue(db)
	default:
		st.repo = memory.NewSagaRepository()
		st.journal = memory.NewJournal()
		st.reconcile = memory.NewReconcileQueue()
	}

	switch cfg.IdempotencyBackend {
	case config.BackendMongo:
		st.idemp = mongodb.NewIdempotencyStore(st.mongo.DB, cfg.IdempotencyTTL)
	case config.BackendRedis:
		client := redisdb.NewClient(cfg.RedisAddr)
		app.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		app.closers = append(app.closers, closeRedis(client))
		st.idemp = redisdb.NewIdempotencyStore(client, cfg.IdempotencyTTL)
	default:
		st.idemp = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
	}
	return st, nil
}

type relayStore interface {
	appoutbox.Outbox
	infraoutbox.ClaimStore
}

// relayStores keeps the outbox and inbox in Mongo when it is configured and
// in process otherwise. In-process records do not survive a restart.
func relayStores(client *mongodb.Client, consumer string, logger *slog.Logger) (relayStore, kafka.Inbox) {
	if client == nil {
		logger.Warn("MONGO_URI not set, outbox and inbox are kept in memory")
		return memory.NewOutbox(), memory.NewInbox()
	}
	return infraoutbox.NewStore(client.DB), inbox.NewStore(client.DB, consumer, inboxRetention)
}

// wireKafka adds the outbox relay and the consumer that feeds relayed events
// back into the local dispatcher.
func wireKafka(cfg config.Config, logger *slog.Logger, app *application, box infraoutbox.ClaimStore, seen kafka.Inbox, dispatcher *eventlog.KeyedDispatcher) error {
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, "travelsaga-outbox")
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error { return producer.Close() })

	relay := &infraoutbox.Worker{
		Store:       box,
		Producer:    producer,
		Logger:      logger.With("component", "outbox"),
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      "travelsaga",
		Backoff:     cfg.RetryBackoff,
	}
	app.workers = append(app.workers, worker{name: "outbox", run: relay.Run})

	handler := &kafka.JournalHandler{
		Inbox:      seen,
		Dispatcher: dispatcher,
		Logger:     logger.With("component", "journal-consumer"),
	}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, handler, logger)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error { return consumer.Close() })
	topic := infraoutbox.TopicFor(cfg.KafkaTopicPrefix, "booking.events")
	app.workers = append(app.workers, worker{name: "journal-consumer", run: func(ctx context.Context) error {
		return consumer.Run(ctx, []string{topic})
	}})
	return nil
}

func closeSQL(db *sql.DB) func(context.Context) error {
	return func(context.Context) error { return db.Close() }
}

func closeRedis(client *goredis.Client) func(context.Context) error {
	return func(context.Context) error { return client.Close() }
}
