package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seasonbook/internal/availability"
	"seasonbook/internal/config"
	"seasonbook/internal/database"
	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/logging"
	"seasonbook/internal/metrics"
	"seasonbook/internal/models"
	"seasonbook/internal/pricing"
	"seasonbook/internal/repository"
	"seasonbook/internal/service"
	"seasonbook/internal/worker"
	"seasonbook/internal/workflow"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := seedCatalog(ctx, db, cfg.CatalogPath, &logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()
	locker := initLocker(cfg, redisClient, &logger)

	bus := events.NewEventBus()
	if forwarder := initBroker(cfg, &logger); forwarder != nil {
		defer forwarder.Close()
		forwarder.Attach(bus)
	}

	engine := buildEngine(cfg, db, bus, locker, redisClient, &logger)

	logScopeStats(ctx, db, engine.bookings, &logger)
	startMetrics(ctx, cfg, &logger)
	go engine.worker.Start(ctx)
	go engine.scheduler.Start(ctx)

	logger.Info().
		Str("db_path", cfg.Database.Path).
		Bool("redis", redisClient != nil).
		Dur("sweep_interval", cfg.Workflow.SweepInterval).
		Msg("booking engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}

// engine groups the long-lived components of the process.
type engine struct {
	bookings  *service.BookingService
	worker    *worker.PostActionWorker
	scheduler *worker.Scheduler
}

// lateRunner breaks the machine/worker cycle: the machine enqueues into the worker,
// and the worker replays through the machine.
type lateRunner struct {
	machine *workflow.Machine
}

func (r *lateRunner) RunPostAction(ctx context.Context, task models.PostActionTask) error {
	return r.machine.RunPostAction(ctx, task)
}

func buildEngine(
	cfg *config.Config,
	db *database.DB,
	bus *events.EventBus,
	locker domain.ResourceLocker,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *engine {
	clock := domain.SystemClock{}
	checker := availability.NewChecker(db, cfg.Availability, clock, logger)
	calculator := pricing.NewCalculator(cfg.Pricing,
		pricing.WithLoyalty(pricing.NewGatewayLoyalty(db, cfg.Pricing.LoyaltyTiers)),
		pricing.WithDemand(checker),
		pricing.WithClock(clock),
		pricing.WithLogger(logger),
	)

	runner := &lateRunner{}
	postActions := worker.NewPostActionWorker(db, runner, redisClient, cfg.Worker, logger)
	machine := workflow.NewMachine(db, checker, cfg.Workflow,
		workflow.WithLocker(locker),
		workflow.WithPublisher(bus),
		workflow.WithTaskQueue(postActions),
		workflow.WithClock(clock),
		workflow.WithLogger(logger),
	)
	runner.machine = machine

	bookings := service.NewBookingService(db, checker, calculator, machine,
		service.WithLocker(locker),
		service.WithPublisher(bus),
		service.WithClock(clock),
		service.WithDamageFeeRate(cfg.Pricing.DamageFeeRate),
		service.WithLogger(logger),
	)

	return &engine{
		bookings:  bookings,
		worker:    postActions,
		scheduler: worker.NewScheduler(machine, locker, cfg.Workflow.SweepInterval, logger),
	}
}

// logScopeStats reports the booking totals of every season and school found at startup.
func logScopeStats(ctx context.Context, store domain.BookingStore, bookings *service.BookingService, logger *zerolog.Logger) {
	scopes, err := store.ListScopes(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list scopes")
		return
	}
	for _, scope := range scopes {
		stats, err := bookings.GetBookingStats(ctx, scope)
		if err != nil {
			logger.Warn().Err(err).Str("scope", scope.String()).Msg("booking stats")
			continue
		}
		logger.Info().
			Int64("season_id", scope.SeasonID).
			Int64("school_id", scope.SchoolID).
			Int("bookings", stats.Total).
			Float64("revenue", stats.Revenue).
			Int("outstanding_rentals", stats.OutstandingRentals).
			Msg("scope loaded")
	}
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, *logging.Component(baseLogger, "bookingd"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initLocker prefers redis locks shared across instances and falls back to
// in-process locks when redis is absent or failing.
func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.ResourceLocker {
	memory := repository.NewMemoryLocker(cfg.Locks.WaitTimeout)
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverLocker(repository.NewRedisLocker(redisClient, cfg.Locks, logger), memory, logger)
}

func initBroker(cfg *config.Config, logger *zerolog.Logger) *events.Forwarder {
	if cfg.Broker.URL == "" {
		return nil
	}
	forwarder, err := events.NewForwarder(cfg.Broker.URL, cfg.Broker.Exchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("broker connection failed, events stay in-process")
		return nil
	}
	logger.Info().Str("exchange", cfg.Broker.Exchange).Msg("broker connected")
	return forwarder
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
