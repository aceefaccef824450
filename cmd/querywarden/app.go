package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/QueryWarden/internal/adapter/litellm"
	"github.com/Strob0t/QueryWarden/internal/adapter/memstore"
	qwnats "github.com/Strob0t/QueryWarden/internal/adapter/nats"
	"github.com/Strob0t/QueryWarden/internal/adapter/natskv"
	"github.com/Strob0t/QueryWarden/internal/adapter/postgres"
	"github.com/Strob0t/QueryWarden/internal/adapter/ristretto"
	"github.com/Strob0t/QueryWarden/internal/adapter/tiered"
	"github.com/Strob0t/QueryWarden/internal/config"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/port/cache"
	"github.com/Strob0t/QueryWarden/internal/port/flowstore"
	"github.com/Strob0t/QueryWarden/internal/resilience"
	"github.com/Strob0t/QueryWarden/internal/service"
)

// app holds the wired flow engine shared by serve and submit.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	storePool  *pgxpool.Pool
	targetPool *pgxpool.Pool
	inspector  *postgres.Inspector
	queue      *qwnats.Queue
	llm        *litellm.Client
	l1         *ristretto.Cache
	flows      *service.FlowService
}

// newApp connects to every configured backend and wires the flow service.
// On error, whatever was opened is closed before returning.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	// --- Monitored database ---
	a.targetPool, err = postgres.NewPool(ctx, cfg.Target)
	if err != nil {
		return a, fmt.Errorf("target postgres: %w", err)
	}
	a.inspector = postgres.NewInspector(a.targetPool)
	terminator := postgres.NewTerminator(a.targetPool)
	log.Info("target database connected", "max_conns", cfg.Target.MaxConns)

	// --- Flow session store ---
	var store flowstore.Store
	switch cfg.Flow.Store {
	case "memory":
		store = memstore.New()
		log.Warn("flow sessions kept in memory; they are lost on restart")
	default:
		a.storePool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return a, fmt.Errorf("postgres: %w", err)
		}
		if err = postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return a, fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")
		store = postgres.NewStore(a.storePool)
	}

	// --- NATS (optional) ---
	if cfg.NATS.URL != "" {
		a.queue, err = qwnats.Connect(ctx, cfg.NATS.URL, log)
		if err != nil {
			return a, fmt.Errorf("nats: %w", err)
		}
	}

	// --- Reasoning ---
	breaker := resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	a.llm = litellm.NewClient(cfg.LiteLLM, breaker)

	// --- Route cache: ristretto L1, NATS KV L2 when messaging is enabled ---
	a.l1, err = ristretto.New(cfg.Cache)
	if err != nil {
		return a, fmt.Errorf("route cache: %w", err)
	}
	var l2 cache.Cache
	if a.queue != nil {
		kv, kvErr := natskv.Open(ctx, a.queue.JetStream(), cfg.NATS.RouteBucket, cfg.NATS.RouteTTL)
		if kvErr != nil {
			log.Warn("route cache L2 unavailable, continuing with L1 only", "error", kvErr)
		} else {
			l2 = kv
		}
	}
	routeCache := tiered.New(a.l1, l2, cfg.Cache.RouteTTL, log)

	// --- Flow engine ---
	classifier := service.NewClassifier(a.llm, routeCache, cfg.Cache.RouteTTL, log)
	strategies := service.StrategyTable{
		flow.RouteSimple: service.NewSimpleStrategy(a.inspector, terminator, cfg.Flow.TerminateThreshold, log),
		flow.RouteComplex: service.NewComplexStrategy(a.llm, a.inspector, terminator,
			cfg.Flow.TerminateThreshold, cfg.Flow.ComplexMaxSteps, log),
	}
	a.flows = service.NewFlowService(store, classifier, strategies, a.inspector, cfg.Flow, log)
	if a.queue != nil {
		a.flows.SetQueue(a.queue)
	}
	return a, nil
}

// Close delivers pending flow events and releases every connection newApp
// opened.
func (a *app) Close() {
	if a.flows != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.flows.Close(ctx); err != nil {
			a.log.Warn("flow events not delivered", "error", err)
		}
		cancel()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.Warn("nats close", "error", err)
		}
	}
	if a.l1 != nil {
		a.l1.Close()
	}
	if a.storePool != nil {
		a.storePool.Close()
	}
	if a.targetPool != nil {
		a.targetPool.Close()
	}
}
