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

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	auditHandler "kinguard/internal/audit/handler"
	"kinguard/internal/decision"
	decisionAdapters "kinguard/internal/decision/adapters"
	decisionHandler "kinguard/internal/decision/handler"
	decisionMetrics "kinguard/internal/decision/metrics"
	decisionStore "kinguard/internal/decision/store"
	"kinguard/internal/device"
	"kinguard/internal/platform/config"
	"kinguard/internal/platform/httpserver"
	"kinguard/internal/platform/logger"
	httpMetrics "kinguard/internal/platform/metrics"
	redisClient "kinguard/internal/platform/redis"
	"kinguard/internal/policy"
	policyHandler "kinguard/internal/policy/handler"
	"kinguard/internal/policy/loader"
	"kinguard/internal/risk"
	riskHandler "kinguard/internal/risk/handler"
	riskStore "kinguard/internal/risk/store"
	"kinguard/internal/subject"
	subjectHandler "kinguard/internal/subject/handler"
	subjectStore "kinguard/internal/subject/store"
	"kinguard/internal/trust"
	trustHandler "kinguard/internal/trust/handler"
	trustStore "kinguard/internal/trust/store"
	"kinguard/pkg/platform/audit/publisher"
	kafkaSink "kinguard/pkg/platform/audit/publishers/kafka"
	auditmemory "kinguard/pkg/platform/audit/store/memory"
	auditpostgres "kinguard/pkg/platform/audit/store/postgres"
	"kinguard/pkg/platform/audit/worker"
	"kinguard/pkg/platform/httputil"
	"kinguard/pkg/platform/middleware/admin"
	devicemw "kinguard/pkg/platform/middleware/device"
	"kinguard/pkg/platform/middleware/metadata"
	"kinguard/pkg/platform/middleware/requesttime"
)

// main loads configuration, wires the engine and runs until SIGINT/SIGTERM.
// Business logic lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kinguard stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("kinguard stopped")
}

// infra holds closers for external resources opened at startup.
type infra struct {
	closers []func() error
}

func (i *infra) add(fn func() error) {
	i.closers = append(i.closers, fn)
}

func (i *infra) close(log *slog.Logger) {
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	res := &infra{}
	defer res.close(log)

	// Audit log: chained in-memory log, optionally forwarded to Postgres and Kafka.
	auditLog := auditmemory.NewInMemoryStore(auditmemory.WithRetention(cfg.Engine.AuditRetention))
	sinks, err := buildAuditSinks(ctx, cfg, log, res)
	if err != nil {
		return err
	}
	auditPub := publisher.NewPublisher(auditLog,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics()),
		publisher.WithSinks(cfg.Engine.AuditBufferSize, sinks...),
		publisher.WithWorkerOptions(worker.WithMetrics(worker.NewMetrics())),
	)
	res.add(func() error { auditPub.Close(); return nil })

	// Trust, risk and the subject directory.
	trustCfg := trust.DefaultConfig()
	trustCfg.Baseline = cfg.Engine.TrustBaseline
	trustCfg.Blend = cfg.Engine.TrustBlend
	trustCfg.HistoryWindow = cfg.Engine.TrustHistoryWindow
	trustSvc, err := trust.New(trustStore.NewInMemory(),
		trust.WithConfig(trustCfg),
		trust.WithLogger(log),
		trust.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return fmt.Errorf("trust service: %w", err)
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.HistoryWindow = cfg.Engine.RiskHistoryWindow
	riskSvc, err := risk.New(riskStore.NewInMemory(),
		risk.WithConfig(riskCfg),
		risk.WithLogger(log),
		risk.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return fmt.Errorf("risk service: %w", err)
	}

	subjectSvc, err := subject.New(subjectStore.NewInMemory(), trustSvc,
		subject.WithLogger(log),
		subject.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return fmt.Errorf("subject service: %w", err)
	}

	// Rules: seed from file or defaults, then watch for edits.
	rules := policy.NewRepository(
		policy.WithLogger(log),
		policy.WithAuditPublisher(auditPub),
		policy.WithMetrics(policy.NewMetrics()),
		policy.WithMaxEvaluations(cfg.Engine.MaxEvaluations),
	)
	seed, hash, err := loader.Load(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	gen, err := rules.Replace(ctx, seed)
	if err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	log.Info("rules loaded", "count", len(seed), "generation", gen, "hash", hash, "path", cfg.RulesPath)

	// Decisions.
	store, err := buildDecisionStore(ctx, cfg, res)
	if err != nil {
		return err
	}
	dm := decisionMetrics.New()
	decisionSvc, err := decision.New(
		decisionAdapters.NewSubjectAdapter(subjectSvc),
		decisionAdapters.NewTrustAdapter(trustSvc),
		decisionAdapters.NewRiskAdapter(riskSvc),
		rules,
		store,
		decision.WithConfig(decision.Config{
			DecisionTTL:    cfg.Engine.DecisionTTL,
			Deadline:       cfg.Engine.Deadline,
			MaxEvaluations: cfg.Engine.MaxEvaluations,
			Thresholds: decision.Thresholds{
				Allow:     cfg.Engine.AllowThreshold,
				Challenge: cfg.Engine.ChallengeThreshold,
			},
			RecordTrustEvents: cfg.Engine.RecordTrustEvents,
		}),
		decision.WithLogger(log),
		decision.WithAuditPublisher(auditPub),
		decision.WithMetrics(dm),
	)
	if err != nil {
		return fmt.Errorf("decision service: %w", err)
	}
	sweeper := decision.NewSweeper(store,
		decision.WithSweepInterval(cfg.Engine.SweepInterval),
		decision.WithSweepLogger(log),
		decision.WithSweepMetrics(dm),
	)

	// HTTP.
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(devicemw.Middleware(device.NewService(true)))
	r.Use(httpMetrics.New().Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "rules_generation": rules.Generation()})
	})
	r.Handle("/metrics", promhttp.Handler())

	decisionHandler.New(decisionSvc, log).Register(r)
	subjectHandler.New(subjectSvc, log).Register(r)
	trustHandler.New(trustSvc, log).Register(r)
	riskHandler.New(riskSvc, log).Register(r)
	r.Group(func(ar chi.Router) {
		ar.Use(admin.RequireAdminToken(cfg.AdminToken, log))
		policyHandler.New(rules, log).Register(ar)
		auditHandler.New(auditPub, auditLog, log).Register(ar)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting kinguard", "addr", cfg.Addr, "env", cfg.Env)
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, r))
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	if cfg.RulesPath != "" && cfg.WatchRules {
		reloader, err := loader.NewReloader(cfg.RulesPath, rules, loader.WithReloadLogger(log))
		if err != nil {
			return fmt.Errorf("rule reloader: %w", err)
		}
		g.Go(func() error { return reloader.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildAuditSinks(ctx context.Context, cfg *config.Config, log *slog.Logger, res *infra) ([]worker.NamedSink, error) {
	var sinks []worker.NamedSink
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		res.add(db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := auditpostgres.New(db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		sinks = append(sinks, worker.NamedSink{Name: "postgres", Sink: pg})
		log.Info("audit forwarding to postgres enabled")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafkaSink.NewClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return nil, err
		}
		res.add(func() error { client.Close(); return nil })
		sinks = append(sinks, worker.NamedSink{Name: "kafka", Sink: kafkaSink.NewSink(client, cfg.Kafka.Topic)})
		log.Info("audit forwarding to kafka enabled", "topic", cfg.Kafka.Topic)
	}
	return sinks, nil
}

func buildDecisionStore(ctx context.Context, cfg *config.Config, res *infra) (decision.Store, error) {
	client, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return decisionStore.NewInMemory(decisionStore.WithHistorySize(cfg.Engine.DecisionHistorySize)), nil
	}
	res.add(client.Close)
	return decisionStore.NewRedisStore(client.Client, decisionStore.WithRedisHistorySize(cfg.Engine.DecisionHistorySize)), nil
}
