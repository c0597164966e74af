package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/config"
	"github.com/example/order-dispatch/internal/engine"
	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/httpapi"
	"github.com/example/order-dispatch/internal/ingest"
	"github.com/example/order-dispatch/internal/logging"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/ws"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var (
		live    storage.LiveOrderStore
		notes   storage.NotificationStore
		conns   storage.ConnectionStore
		drivers storage.DriverStore
		orders  storage.OrderStore
	)
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		pg, err := storage.NewPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		live, notes, conns = pg.LiveOrders(), pg.Notifications(), pg.Connections()
		drivers, orders = pg.Drivers(), pg.Orders()
		logger.Info("using postgres storage")
	} else {
		live = storage.NewMemoryLiveOrders()
		notes = storage.NewMemoryNotifications()
		conns = storage.NewMemoryConnections()
		drivers = storage.NewMemoryDrivers()
		orders = storage.NewMemoryOrders()
		logger.Warn("PG_DSN not set, using in-memory storage")
	}

	var idx geo.DriverIndex
	if cfg.RedisAddr != "" {
		idx = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis geo index", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		idx = geo.NewIndex()
		logger.Warn("REDIS_ADDR not set, using in-memory geo index")
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		logger.Info("publishing locations to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var mailer notify.Sender
	if cfg.PushEndpoint != "" {
		mailer = notify.NewHTTPSender(cfg.PushEndpoint, logger)
	}

	reg := registry.New()
	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	eng := engine.New(engine.Config{
		InitialRadiusKm:  cfg.InitialRadiusKm,
		RadiusStepKm:     cfg.RadiusStepKm,
		DefaultMaxRadius: cfg.DefaultMaxRadius,
		NotifyTopN:       cfg.NotifyTopN,
		CandidateLimit:   cfg.CandidateLimit,
		NotificationTTL:  cfg.NotificationTTL,
		OrderSearchTTL:   cfg.OrderSearchTTL,
		ExpandRetryDelay: cfg.ExpandRetryDelay,
		RejectRetryDelay: cfg.RejectRetryDelay,
		DefaultSpeedKmh:  cfg.DefaultSpeedKmh,
	}, idx, live, notes, orders, reg, mailer, logger)

	wsHandler := ws.NewHandler(reg, eng, conns, drivers, idx, tokens, producer, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Engine:  eng,
		Live:    live,
		Notes:   notes,
		Orders:  orders,
		Drivers: drivers,
		Idx:     idx,
		Tokens:  tokens,
		Kafka:   producer,
		WS:      wsHandler,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := engine.NewSweeper(eng, live, notes, cfg.SweepInterval, cfg.StaleOrderAfter, logger)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("dispatch server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// runMigrations applies the schema file. Suitable for local and staging
// runs; production deploys run migrations out of band.
func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
