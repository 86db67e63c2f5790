package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/medflow/pharmacy-ledger/internal/inventory/consumers"
	"github.com/medflow/pharmacy-ledger/internal/inventory/events"
	"github.com/medflow/pharmacy-ledger/internal/inventory/handler"
	"github.com/medflow/pharmacy-ledger/internal/inventory/realtime"
	"github.com/medflow/pharmacy-ledger/internal/inventory/repository"
	"github.com/medflow/pharmacy-ledger/internal/inventory/service"
	"github.com/medflow/pharmacy-ledger/internal/inventory/store"
	"github.com/medflow/pharmacy-ledger/internal/inventory/validation"
	"github.com/medflow/pharmacy-ledger/internal/session"
	"github.com/medflow/pharmacy-ledger/pkg/config"
	"github.com/medflow/pharmacy-ledger/pkg/database"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/i18n"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

const serviceName = "ledger-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("storage", cfg.Storage.Driver).Msg("starting Ledger Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot storage
	repo, health, closeRepo := openRepository(ctx, cfg, log)
	defer closeRepo()

	// RabbitMQ is optional for the in-memory driver so a single instance runs without a broker
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		if cfg.Storage.Driver != config.StorageDriverMemory {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		log.Warn().Err(err).Msg("RabbitMQ unavailable, month updates stay local to this instance")
		rmq = nil
	}
	if rmq != nil {
		defer rmq.Close()
	}

	hub := realtime.NewHub(log)

	var publisher *events.InventoryEventPublisher
	if rmq != nil {
		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		monthConsumer, err := consumers.NewMonthEventConsumer(rmq, hub, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create month event consumer")
		}
		if err := monthConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start month event consumer")
		}
	}

	persistence := service.NewSnapshotPersistence(repo, publisher, hub, log)
	ledgerService := service.NewLedgerService(persistence, validation.New(), store.Options{
		UpdateDebounce: cfg.Ledger.UpdateDebounce,
		WriteDelay:     cfg.Ledger.WriteDelay,
		WriteTimeout:   cfg.Ledger.WriteTimeout,
		Locale:         cfg.Ledger.Locale,
	}, log)

	var evictor *service.EvictionScheduler
	if cfg.Ledger.IdleTimeout > 0 {
		evictor = service.NewEvictionScheduler(ledgerService, cfg.Ledger.EvictInterval, cfg.Ledger.IdleTimeout, log)
		evictor.Start(ctx)
	}

	checker := session.NewChecker(session.NewManager(&cfg.JWT))
	ledgerHandler := handler.NewLedgerHandler(ledgerService, log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
			"storage": health(r.Context()),
			"stores":  ledgerService.Loaded(),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	r.Route("/api/v1/ledger", func(r chi.Router) {
		r.Use(session.Middleware(checker, log))
		ledgerHandler.Routes(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if evictor != nil {
		evictor.Stop()
	}

	// Pending edits are written before the storage connections close
	if err := ledgerService.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush pending inventory writes")
	}

	// Stops the month consumer
	cancel()

	log.Info().Msg("server stopped")
}

type healthFunc func(ctx context.Context) map[string]string

// openRepository connects the configured snapshot driver. The returned
// close function releases its connection.
func openRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.SnapshotRepository, healthFunc, func()) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := repository.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate snapshot table")
		}
		return repository.NewPostgresSnapshots(db), db.Health, func() { db.Close() }

	case config.StorageDriverMongo:
		client, err := repository.ConnectMongo(ctx, &cfg.Mongo)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MongoDB")
		}
		repo, err := repository.NewMongoSnapshots(ctx, client.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to prepare snapshot collection")
		}
		return repo, mongoHealth(client), func() { client.Disconnect(context.Background()) }

	default:
		log.Warn().Msg("using in-memory snapshot storage, data is lost on restart")
		return repository.NewMemorySnapshots(), func(context.Context) map[string]string {
			return map[string]string{"status": "up", "driver": config.StorageDriverMemory}
		}, func() {}
	}
}

func mongoHealth(client *mongo.Client) healthFunc {
	return func(ctx context.Context) map[string]string {
		if err := client.Ping(ctx, nil); err != nil {
			return map[string]string{"status": "down", "error": err.Error()}
		}
		return map[string]string{"status": "up", "driver": config.StorageDriverMongo}
	}
}
