package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-lifecycle/internal/api/http"
	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/scheduler"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/worker"
)

// stores holds the authoritative ticket store and the connections behind it.
type stores struct {
	tickets repository.TicketRepository
	changes repository.TicketChangeRepository
	checks  []handlers.Dependency
	closers []func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ticket store", zap.Error(err))
	}
	defer st.close()

	broadcaster, checks, closeTransport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open event transport", zap.Error(err))
	}
	defer closeTransport()
	st.checks = append(st.checks, checks...)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	notifier := events.NewNotifier(events.NotifierDependencies{
		Dispatcher:  dispatcher,
		Broadcaster: broadcaster,
		Logger:      logger,
	})

	var (
		authoritative = st.tickets
		onRemote      func(context.Context, events.Event)
		onResync      func(context.Context)
	)
	if cfg.Store.Cache && cfg.Store.Driver != config.StoreDriverMemory {
		cached := repository.NewCachedTicketRepository(authoritative, logger)
		if err := cached.Reload(ctx); err != nil {
			logger.Fatal("failed to warm ticket cache", zap.Error(err))
		}
		authoritative = cached
		onRemote = cached.ApplyRemote
		onResync = func(ctx context.Context) {
			if err := cached.Reload(ctx); err != nil {
				logger.Warn("failed to reload ticket cache", zap.Error(err))
			}
		}
	}
	tickets := repository.NewNotifyingTicketRepository(authoritative, notifier)

	listener := events.NewListener(events.ListenerDependencies{
		Dispatcher:     dispatcher,
		Broadcaster:    broadcaster,
		Origin:         notifier.Origin(),
		Logger:         logger,
		OnRemoteChange: onRemote,
		OnResync:       onResync,
	}, events.Callbacks{
		OnCleared: func(_ context.Context, event events.Event) error {
			logger.Info("ticket store cleared", zap.String("origin", event.Origin), zap.Bool("remote", event.Remote))
			return nil
		},
	})
	if err := listener.StartListening(ctx); err != nil {
		logger.Fatal("failed to start event listener", zap.Error(err))
	}
	defer listener.StopListening()

	managerDeps := service.ManagerDependencies{
		TicketRepo: tickets,
		ChangeLog:  st.changes,
		Policy:     service.PolicyFromConfig(cfg.Lifecycle),
		Logger:     logger,
		Metrics:    metrics,
	}

	webhooks := worker.NewWebhookWorker(nil, logger)
	defer webhooks.Stop()
	observer := service.NewLifecycleObserver(dispatcher, logger, cfg.Notification, webhooks)
	deadlines := scheduler.NewDeadlineScheduler(scheduler.Dependencies{
		Completer:  service.NewTicketManager(domain.SystemProfile{Name: "deadline-scheduler"}, managerDeps),
		Tickets:    tickets,
		Dispatcher: dispatcher,
		Schedule:   cfg.Lifecycle.SweepSchedule,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err := worker.StartLifecycleWorkers(ctx, observer, webhooks, deadlines); err != nil {
		logger.Fatal("failed to start lifecycle workers", zap.Error(err))
	}
	defer deadlines.Stop()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	eventsHandler := handlers.NewEventsHandler(dispatcher, logger, 0)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, st.checks...),
		Tickets:        handlers.NewTicketsHandler(managerDeps),
		Events:         eventsHandler,
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	eventsHandler.Close()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return &stores{
			tickets: repository.NewTicketRepository(pg.PoolHandle()),
			changes: repository.NewTicketChangeRepository(pg.PoolHandle()),
			checks:  []handlers.Dependency{{Name: "postgres", Pinger: pg}},
			closers: []func(){pg.Close},
		}, nil
	case config.StoreDriverMongo:
		mg, err := persistence.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsureMongoIndexes(ctx, mg.DB); err != nil {
			mg.Close(context.Background())
			return nil, err
		}
		return &stores{
			tickets: repository.NewMongoTicketRepository(mg.DB),
			changes: repository.NewMemoryTicketChangeRepository(),
			checks:  []handlers.Dependency{{Name: "mongo", Pinger: mg}},
			closers: []func(){func() { mg.Close(context.Background()) }},
		}, nil
	default:
		logger.Info("using in-memory ticket store")
		return &stores{
			tickets: repository.NewMemoryTicketRepository(),
			changes: repository.NewMemoryTicketChangeRepository(),
		}, nil
	}
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Broadcaster, []handlers.Dependency, func(), error) {
	switch cfg.Events.Transport {
	case config.TransportRedis:
		rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return events.NewRedisBroadcaster(rdb.Client, cfg.Events.Channel, logger),
			[]handlers.Dependency{{Name: "redis", Pinger: rdb}}, rdb.Close, nil
	case config.TransportMQTT:
		mq, err := persistence.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		broadcaster := events.NewMQTTBroadcaster(mq.Client, cfg.MQTT.Topic, logger)
		mq.OnConnect(broadcaster.Resubscribe)
		return broadcaster, []handlers.Dependency{{Name: "mqtt", Pinger: mq}}, mq.Close, nil
	default:
		logger.Info("ticket events stay within this process")
		return events.NewMemoryBus(), nil, func() {}, nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
