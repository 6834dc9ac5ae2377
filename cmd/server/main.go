package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"proofshare/internal/audit"
	"proofshare/internal/consent"
	consentmetrics "proofshare/internal/consent/metrics"
	consentstore "proofshare/internal/consent/store"
	"proofshare/internal/events"
	"proofshare/internal/payload"
	"proofshare/internal/platform/config"
	"proofshare/internal/platform/httpserver"
	"proofshare/internal/platform/logger"
	"proofshare/internal/platform/tracer"
	"proofshare/internal/session"
	sessionmetrics "proofshare/internal/session/metrics"
	sessionstore "proofshare/internal/session/store"
	"proofshare/internal/session/store/idempotency"
	"proofshare/internal/signing"
	httptransport "proofshare/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing proofshare",
		"addr", cfg.Addr,
		"default_session_ttl", cfg.DefaultSessionTTL,
		"payload_size_budget", cfg.PayloadSizeBudget,
	)

	sessions, consents, err := buildStores(cfg)
	if err != nil {
		log.Error("store initialization failed", "error", err)
		os.Exit(1)
	}

	outbox := events.NewInMemoryStore()
	auditor := audit.NewPublisher(audit.NewInMemoryStore(),
		audit.WithAsyncBuffer(1024),
		audit.WithPublisherLogger(log),
	)
	defer auditor.Close()

	var keys signing.KeyResolver = signing.SharedKey(cfg.SigningKey)
	if cfg.SigningKey == "" {
		log.Warn("PROOFSHARE_SIGNING_KEY not set, consent signatures will not verify")
	}

	ledger := consent.NewService(consents, signing.NewJWTVerifier(keys), log,
		consent.WithOutbox(outbox),
		consent.WithAuditor(auditor),
		consent.WithMetrics(consentmetrics.New(prometheus.DefaultRegisterer)),
		consent.WithTracer(tracer.NewOTel()),
	)

	svc := session.NewService(sessions, log,
		session.WithConsentLedger(ledger),
		session.WithCodec(payload.NewCodec(payload.WithSizeBudget(cfg.PayloadSizeBudget))),
		session.WithIdempotencyStore(idempotency.NewInMemory(cfg.IdempotencyWindow)),
		session.WithOutbox(outbox),
		session.WithAuditor(auditor),
		session.WithMetrics(sessionmetrics.New()),
		session.WithTracer(tracer.NewOTel()),
		session.WithDefaultTTL(cfg.DefaultSessionTTL),
	)

	dispatcher := events.NewDispatcher(outbox,
		[]events.Listener{events.NewLogListener(log)},
		events.WithLogger(log),
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions: httptransport.NewSessionHandler(svc, log),
		Payloads: httptransport.NewPayloadHandler(svc, log),
		Consents: httptransport.NewConsentHandler(ledger, log),
		Logger:   log,
	})

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// buildStores selects the storage backends: PostgreSQL when DATABASE_URL is
// set, Redis sessions when REDIS_ADDR is set, in-memory otherwise.
func buildStores(cfg config.Server) (sessionstore.Store, consentstore.Store, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			return nil, nil, err
		}
		return sessionstore.NewPostgres(db), consentstore.NewPostgres(db), nil
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, err
		}
		// Consent records stay local; only session state is shared.
		return sessionstore.NewRedis(client), consentstore.New(), nil
	}

	return sessionstore.New(), consentstore.New(), nil
}
