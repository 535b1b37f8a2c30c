package main

import (
	"context"
	"courier-dispatch-service/internal/adapters/cache"
	"courier-dispatch-service/internal/adapters/conditions"
	"courier-dispatch-service/internal/adapters/events"
	"courier-dispatch-service/internal/adapters/notify"
	"courier-dispatch-service/internal/adapters/repositories"
	"courier-dispatch-service/internal/adapters/roadnetwork"
	"courier-dispatch-service/internal/config"
	"courier-dispatch-service/internal/platform/db"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/ports"
	"courier-dispatch-service/internal/services"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// main is the application composition root.
// It wires concrete adapters (Postgres, Redis, ORS, Open-Meteo, Kafka) behind
// ports and runs the dispatcher until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Getenv("DISPATCH_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("dispatch service stopped", zap.Error(err))
	}
	lg.Info("dispatch service stopped")
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	sqlDB := openDatabase(ctx, cfg, lg)
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	road, err := newRoadNetwork(cfg, sqlDB, lg)
	if err != nil {
		return err
	}

	snapCache, closeRedis := newSnapshotCache(ctx, cfg, lg)
	defer closeRedis()

	loc, err := time.LoadLocation(cfg.Conditions.Timezone)
	if err != nil {
		return fmt.Errorf("conditions timezone: %w", err)
	}
	provider := conditions.NewCachedProvider(
		conditions.NewOpenMeteoClient(cfg.OpenMeteo.BaseURL, cfg.OpenMeteo.Timeout, lg),
		conditions.NewHourlyTraffic(loc),
		snapCache,
		cfg.Conditions.CacheTTL,
		lg,
	)

	notifier, closeNotifier := newNotifier(cfg, lg)
	defer closeNotifier()

	ledger := services.NewCourierLedger()
	if err := seedCouriers(ledger, cfg.Couriers.SeedPath, lg); err != nil {
		return err
	}

	optimizer := services.NewRouteOptimizer(cfg.OptimizerConfig())
	planner := services.NewRoutePlanner(optimizer, road, lg)
	tracker := services.NewTracker(cfg.TrackingConfig(), notifier, lg)
	reevaluator := services.NewReevaluator(cfg.ReevaluationConfig(), planner, provider, notifier, lg)

	dispatcher := services.NewDispatcher(services.DispatcherDeps{
		Scorer:      services.NewScorer(cfg.ScoringConfig(), optimizer),
		Ledger:      ledger,
		Planner:     planner,
		Tracker:     tracker,
		Reevaluator: reevaluator,
		Conditions:  provider,
		Notifier:    notifier,
		Logger:      lg,
	})
	defer dispatcher.Shutdown()

	if len(cfg.Kafka.Brokers) == 0 {
		lg.Warn("no kafka brokers configured, location pings disabled")
		<-ctx.Done()
		return nil
	}

	consumer := events.NewPingConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.PingsTopic, dispatcher, lg)
	defer consumer.Close()

	lg.Info("consuming location pings",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.PingsTopic),
	)
	return consumer.Start(ctx)
}

// openDatabase returns nil when Postgres is not configured or unusable;
// road legs are then fetched without a persistent cache.
func openDatabase(ctx context.Context, cfg *config.Config, lg *zap.Logger) *sql.DB {
	if cfg.Database.URL == "" {
		lg.Warn("database not configured, road legs are not cached")
		return nil
	}
	sqlDB, err := db.Open(ctx, cfg.Database.URL, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		lg.Warn("database unavailable, road legs are not cached", zap.Error(err))
		return nil
	}
	if err := repositories.InitSchema(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		lg.Warn("leg cache schema init failed, road legs are not cached", zap.Error(err))
		return nil
	}
	return sqlDB
}

// newRoadNetwork prefers ORS with a persistent leg cache and always keeps the
// straight-line estimator as fallback.
func newRoadNetwork(cfg *config.Config, sqlDB *sql.DB, lg *zap.Logger) (ports.RoadNetwork, error) {
	straight := roadnetwork.NewStraightLine(cfg.ORS.FallbackKmh)
	if cfg.ORS.APIKey == "" {
		lg.Warn("ORS api key not set, using straight-line estimates")
		return straight, nil
	}

	var legCache ports.LegCache
	if sqlDB != nil {
		legCache = cache.NewSQLLegCache(sqlDB, lg)
	}

	ors, err := roadnetwork.NewORSClient(cfg.ORS.APIKey, roadnetwork.ORSOptions{
		BaseURL:      cfg.ORS.BaseURL,
		Profile:      cfg.ORS.Profile,
		Timeout:      cfg.ORS.Timeout,
		RetryBackoff: cfg.ORS.RetryBackoff,
	}, legCache, lg)
	if err != nil {
		return nil, err
	}
	return roadnetwork.NewWithFallback(ors, straight, lg), nil
}

// newSnapshotCache returns a nil cache when Redis is not configured or unreachable.
func newSnapshotCache(ctx context.Context, cfg *config.Config, lg *zap.Logger) (ports.SnapshotCache, func()) {
	if cfg.Redis.Addr == "" {
		lg.Warn("redis not configured, condition snapshots are not cached")
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		lg.Warn("redis unavailable, condition snapshots are not cached",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
		return nil, func() {}
	}
	return cache.NewRedisSnapshotCache(client), func() { _ = client.Close() }
}

// newNotifier always logs events and also publishes them to Kafka when a
// producer can be created.
func newNotifier(cfg *config.Config, lg *zap.Logger) (ports.Notifier, func()) {
	logNotifier := notify.NewLogNotifier(lg)
	if len(cfg.Kafka.Brokers) == 0 {
		return logNotifier, func() {}
	}

	kafka, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, lg)
	if err != nil {
		lg.Warn("kafka producer unavailable, events are only logged", zap.Error(err))
		return logNotifier, func() {}
	}
	closeFn := func() {
		if err := kafka.Close(); err != nil {
			lg.Warn("kafka producer close", zap.Error(err))
		}
	}
	return notify.Fanout{logNotifier, kafka}, closeFn
}

func seedCouriers(ledger *services.CourierLedger, path string, lg *zap.Logger) error {
	couriers, err := repositories.LoadCouriers(path)
	if errors.Is(err, os.ErrNotExist) {
		lg.Warn("courier roster not found, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	for _, c := range couriers {
		if err := ledger.Register(c); err != nil {
			return fmt.Errorf("seed couriers: %w", err)
		}
	}
	lg.Info("couriers registered", zap.Int("count", len(couriers)))
	return nil
}
