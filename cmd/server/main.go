// Command server runs the data-protection compliance engine: consent
// lifecycle, masking, access authorization, audit and retention behind one
// HTTP surface. main wires dependencies; business logic lives in the
// internal services.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/audit/outbox"
	outboxworker "github.com/GrupoUS/neonpro-sub010/internal/audit/outbox/worker"
	"github.com/GrupoUS/neonpro-sub010/internal/authz"
	consentservice "github.com/GrupoUS/neonpro-sub010/internal/consent/service"
	consentstore "github.com/GrupoUS/neonpro-sub010/internal/consent/store"
	"github.com/GrupoUS/neonpro-sub010/internal/dsr"
	"github.com/GrupoUS/neonpro-sub010/internal/masking"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/config"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/database"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/health"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/kafka/producer"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/logger"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/redis"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/tracer"
	"github.com/GrupoUS/neonpro-sub010/internal/retention"
	httptransport "github.com/GrupoUS/neonpro-sub010/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	tr := tracer.NewOTel()

	log.Info("initializing compliance engine",
		"addr", cfg.Addr,
		"strict_mode", cfg.StrictMode,
	)

	pool, err := database.New(cfg.Database)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		if err := database.Migrate(ctx, pool.DB()); err != nil {
			return err
		}
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var sink producer.Sink = producer.NoopSink{}
	if cfg.Kafka.Brokers != "" {
		kafkaProducer, err := producer.New(cfg.Kafka, log)
		if err != nil {
			return err
		}
		sink = kafkaProducer
		defer kafkaProducer.Close()
	} else {
		log.Warn("no kafka brokers configured, audit export disabled")
	}

	// Storage: PostgreSQL when configured, in-memory otherwise so the
	// engine stays runnable in development.
	var (
		consents   consentstore.Store
		txRunner   consentstore.TxRunner
		auditStore audit.Store
		dsrStore   dsr.Store
		outboxRun  *outboxworker.Worker
	)
	if pool != nil {
		consents = consentstore.NewPostgres(pool.DB())
		txRunner = consentstore.NewPostgresTxRunner(pool.DB())
		auditStore = audit.NewPostgres(pool.DB())
		dsrStore = dsr.NewPostgres(pool.DB())
		outboxRun = outboxworker.New(outbox.NewPostgres(pool.DB()), sink,
			outboxworker.WithTopic(cfg.Kafka.AuditTopic),
			outboxworker.WithMetrics(m),
			outboxworker.WithLogger(log),
		)
	} else {
		log.Warn("no database configured, using in-memory stores")
		memConsents := consentstore.New()
		memAudit := audit.NewInMemoryStore()
		consents = memConsents
		txRunner = consentstore.NewMemoryTxRunner(memConsents, memAudit)
		auditStore = memAudit
		dsrStore = dsr.NewInMemoryStore()
	}

	auditor := audit.NewPublisher(auditStore,
		audit.WithAsyncBuffer(1024),
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(m),
	)
	defer auditor.Close()

	vault, err := buildVault(cfg, redisClient)
	if err != nil {
		return err
	}
	engine := masking.NewEngine(masking.DefaultRules(), masking.NewMasker(cfg.HashPepper), vault, auditor, log,
		masking.WithMetrics(m),
		masking.WithTracer(tr),
	)

	consentOpts := []consentservice.Option{
		consentservice.WithMetrics(m),
		consentservice.WithConsentTTL(cfg.ConsentTTL),
		consentservice.WithStorageTimeout(cfg.StorageTimeout),
	}
	if !cfg.StrictMode {
		consentOpts = append(consentOpts, consentservice.WithLenientMode())
	}
	consentSvc := consentservice.NewService(consents, txRunner, auditor, log, consentOpts...)

	gateOpts := []authz.Option{authz.WithMetrics(m), authz.WithTracer(tr)}
	if !cfg.StrictMode {
		gateOpts = append(gateOpts, authz.WithLenientMode())
	}
	gate := authz.NewGate(consentSvc, engine, log, gateOpts...)

	dsrSvc := dsr.NewService(dsrStore, consentSvc, auditor, log, dsr.WithMetrics(m))

	retentionWorker := retention.NewWorker(consents, auditStore, auditor, log,
		retention.WithInterval(cfg.RetentionInterval),
		retention.WithMetrics(m),
	)

	healthHandler := health.New(envName(cfg))
	if pool != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(checkCtx)
		})
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(checkCtx)
		})
	}

	router := httptransport.Router{
		Consent:      httptransport.NewConsentHandler(consentSvc),
		Authorize:    httptransport.NewAuthorizeHandler(gate, cfg.StrictMode, cfg.ConsentURL),
		Masking:      httptransport.NewMaskingHandler(engine),
		DSR:          httptransport.NewDSRHandler(dsrSvc),
		Health:       healthHandler,
		AssertionKey: cfg.AssertionKey,
		Logger:       log,
	}.Build()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	retentionWorker.Start()
	if outboxRun != nil {
		outboxRun.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := retentionWorker.Stop(shutdownCtx); err != nil {
			log.Error("retention worker shutdown failed", "error", err)
		}
		if outboxRun != nil {
			if err := outboxRun.Stop(shutdownCtx); err != nil {
				log.Error("outbox worker shutdown failed", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// devVaultKey seals the token vault when TOKEN_VAULT_KEY is unset. Exactly
// 32 bytes; production must set its own key.
const devVaultKey = "dev-vault-key-change-in-prod-32!"

// buildVault picks the token vault backend: Redis when available so tokens
// resolve across instances, in-memory otherwise.
func buildVault(cfg config.Server, redisClient *redis.Client) (masking.TokenVault, error) {
	key := cfg.TokenVaultKey
	if key == "" {
		key = devVaultKey
	}
	if redisClient != nil {
		return masking.NewRedisVault(redisClient, key, 0)
	}
	return masking.NewMemoryVault(key)
}

func envName(cfg config.Server) string {
	if cfg.StrictMode {
		return "production"
	}
	return "development"
}
