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

	"datavault/internal/account"
	"datavault/internal/audit"
	"datavault/internal/consent"
	"datavault/internal/jwttoken"
	"datavault/internal/lifecycle"
	"datavault/internal/platform/config"
	"datavault/internal/platform/database"
	"datavault/internal/platform/kafka/producer"
	"datavault/internal/platform/logger"
	"datavault/internal/platform/metrics"
	"datavault/internal/platform/redis"
	"datavault/internal/platform/tracer"
	"datavault/internal/registry"
	httptransport "datavault/internal/transport/http"
	"datavault/pkg/sealing"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing datavault",
		"addr", cfg.Addr,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", cfg.KafkaBrokers != "",
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	cache, err := redis.New(config.RedisFromEnv())
	if err != nil {
		log.Error("failed to configure redis", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	sealer := sealing.NewChecksumCodec()
	tokens := jwttoken.NewService(cfg.JWTSigningKey, "datavault", cfg.TokenTTL)

	recorderOpts := []audit.RecorderOption{audit.WithMetrics(m)}
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.Config{
			Brokers:         cfg.KafkaBrokers,
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		}, log)
		if err != nil {
			log.Error("failed to start kafka producer", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		recorderOpts = append(recorderOpts, audit.WithKafkaFanOut(kafkaProducer, cfg.AuditTopic))
	}

	stores := buildStores(pool, log)
	recorder := audit.NewRecorder(stores.trail, log, recorderOpts...)
	spans := tracer.NewOTel()

	inventory := registry.NewService(stores.items, stores.consents, stores.trail, stores.tx, recorder, sealer, log,
		registry.WithMetrics(m),
		registry.WithStatsCache(cache),
		registry.WithTracer(spans),
	)
	ledger := consent.NewService(stores.consents, recorder, log,
		consent.WithMetrics(m),
		consent.WithConsentTTL(cfg.ConsentTTL),
	)
	coordinator := lifecycle.NewService(stores.items, stores.consents, stores.tx, recorder, sealer, log,
		lifecycle.WithMetrics(m),
		lifecycle.WithTracer(spans),
	)
	accounts := account.NewService(stores.owners, tokens, coordinator, inventory, recorder, log,
		account.WithMetrics(m),
	)
	trail := audit.NewService(stores.trail, log, audit.WithStatsCache(cache))

	router := httptransport.NewRouter(httptransport.Deps{
		Auth:     httptransport.NewAuthHandler(accounts, log),
		Data:     httptransport.NewDataHandler(inventory, coordinator, log),
		Consents: httptransport.NewConsentHandler(ledger, log),
		Audit:    httptransport.NewAuditHandler(trail, log),
		Verifier: tokens,
		Metrics:  m,
		Health: func(ctx context.Context) error {
			if pool != nil {
				return pool.Health(ctx)
			}
			return nil
		},
		Logger: log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		if err := pool.Close(); err != nil {
			log.Warn("failed to close database pool", "error", err)
		}
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}

	log.Info("server stopped")
}

// storeSet bundles the store implementations behind their interfaces so the
// postgres and in-memory wirings stay symmetric.
type storeSet struct {
	owners   account.Store
	items    registry.Store
	consents consent.Store
	trail    audit.Store
	tx       registry.TxRunner
}

// buildStores selects postgres-backed stores when DATABASE_URL is set and
// falls back to the in-memory stack otherwise, which is useful for local
// development without infrastructure.
func buildStores(pool *database.Pool, log *slog.Logger) storeSet {
	if pool != nil {
		return storeSet{
			owners:   account.NewPostgres(pool.DB()),
			items:    registry.NewPostgres(pool.DB()),
			consents: consent.NewPostgres(pool.DB()),
			trail:    audit.NewPostgres(pool.DB()),
			tx:       registry.NewPostgresTxRunner(pool),
		}
	}

	log.Warn("DATABASE_URL not set, using in-memory stores; data will not survive restarts")
	items := registry.NewInMemoryStore()
	consents := consent.NewInMemoryStore(consent.WithItemLookup(items.ItemActive))
	return storeSet{
		owners:   account.NewInMemoryStore(),
		items:    items,
		consents: consents,
		trail:    audit.NewInMemoryStore(),
		tx:       registry.NewMemoryTxRunner(items, consents),
	}
}
