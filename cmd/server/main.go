package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"civica/internal/identity/local"
	"civica/internal/notify"
	"civica/internal/platform/config"
	"civica/internal/platform/httpserver"
	"civica/internal/platform/logger"
	"civica/internal/platform/metrics"
	"civica/internal/platform/postgres"
	platformredis "civica/internal/platform/redis"
	provisionhandler "civica/internal/provision/handler"
	regmodels "civica/internal/registration/models"
	regservice "civica/internal/registration/service"
	regstore "civica/internal/registration/store"
	resservice "civica/internal/resident/service"
	resstore "civica/internal/resident/store"
	"civica/internal/sequence"
	"civica/internal/throttle"
	vservice "civica/internal/verification/service"
	"civica/internal/verification/store/challenge"
	"civica/internal/verification/worker"
	"civica/pkg/platform/audit"
)

const sweepInterval = time.Minute

// registrationStore is the union of what intake, materializer, and sweeper
// need; both the memory and postgres implementations satisfy it.
type registrationStore interface {
	Put(ctx context.Context, reg *regmodels.PendingRegistration) error
	Get(ctx context.Context, correlationID string) (*regmodels.PendingRegistration, error)
	Delete(ctx context.Context, correlationID string) error
}

// main wires dependencies and owns the process lifecycle. Business rules
// live in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	// Stores: postgres when configured, process memory otherwise (dev mode).
	var (
		challenges    vservice.ChallengeStore
		registrations registrationStore
		accounts      resservice.AccountStore
		sequences     sequence.Store
	)
	if cfg.DatabaseURL != "" {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			log.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		challenges = challenge.NewPostgres(db)
		registrations = regstore.NewPostgres(db)
		accounts = resstore.NewPostgres(db)
		sequences = sequence.NewPostgres(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		challenges = challenge.NewMemory()
		registrations = regstore.NewMemory()
		accounts = resstore.NewMemory()
		sequences = sequence.NewMemoryStore()
	}

	// Audit: Kafka when brokers are configured, structured log otherwise.
	var auditor audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := audit.NewKafkaPublisher(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Error("kafka audit publisher failed", "error", err)
			os.Exit(1)
		}
		defer kafkaPublisher.Close()
		auditor = kafkaPublisher
	} else {
		auditor = audit.NewSlogPublisher(log)
	}

	// Throttle: Redis-backed when available so replicas share the window.
	var throttleStore throttle.Store
	if redisClient, err := platformredis.New(cfg.Redis); err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	} else if redisClient != nil {
		defer redisClient.Close()
		throttleStore = throttle.NewRedisStore(redisClient.Client, cfg.Throttle.Limit, cfg.Throttle.Window)
	} else {
		throttleStore = throttle.NewMemoryStore(cfg.Throttle.Limit, cfg.Throttle.Window)
	}

	mx := metrics.New()
	provider := local.New(cfg.LinkSigningKey)
	sender := notify.NewLogSender(log)

	verifier, err := vservice.New(challenges, provider, sender,
		vservice.WithLogger(log),
		vservice.WithAuditPublisher(auditor),
		vservice.WithMetrics(mx),
		vservice.WithConfig(cfg.Verification),
	)
	if err != nil {
		log.Error("verification service init failed", "error", err)
		os.Exit(1)
	}

	allocator, err := sequence.NewAllocator(sequences, sequence.WithLogger(log), sequence.WithMetrics(mx))
	if err != nil {
		log.Error("sequence allocator init failed", "error", err)
		os.Exit(1)
	}

	materializer, err := resservice.NewMaterializer(
		verifier, challenges, registrations, accounts, allocator, provider,
		resservice.WithLogger(log),
		resservice.WithAuditPublisher(auditor),
		resservice.WithMetrics(mx),
	)
	if err != nil {
		log.Error("materializer init failed", "error", err)
		os.Exit(1)
	}

	intake, err := regservice.NewIntake(registrations, verifier, regservice.WithLogger(log))
	if err != nil {
		log.Error("intake service init failed", "error", err)
		os.Exit(1)
	}

	limiter := throttle.NewMiddleware(throttleStore, log)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(provisionhandler.RequestMetadata)
		r.Use(limiter.Limit)
		provisionhandler.New(intake, verifier, materializer, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)
	sweeper := worker.NewSweeper(verifier, registrations, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sweeper.Run(ctx, sweepInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
