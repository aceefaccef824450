package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	qwhttp "github.com/Strob0t/QueryWarden/internal/adapter/http"
	qwotel "github.com/Strob0t/QueryWarden/internal/adapter/otel"
	"github.com/Strob0t/QueryWarden/internal/adapter/ws"
	"github.com/Strob0t/QueryWarden/internal/config"
	"github.com/Strob0t/QueryWarden/internal/logger"
	"github.com/Strob0t/QueryWarden/internal/middleware"
	"github.com/Strob0t/QueryWarden/internal/port/messagequeue"
)

const shutdownTimeout = 15 * time.Second

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"flow_store", cfg.Flow.Store,
		"max_concurrent", cfg.Flow.MaxConcurrent,
		"terminate_threshold", cfg.Flow.TerminateThreshold.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := qwotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := qwotel.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Flow engine ---
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := ws.NewHub(cfg.Server.CORSOrigin, log)
	a.flows.SetBroadcaster(hub)
	a.flows.SetMetrics(metrics)

	if cfg.Flow.RecoverOnStart {
		if _, err := a.flows.RecoverInterrupted(ctx); err != nil {
			return fmt.Errorf("recover interrupted flows: %w", err)
		}
	}

	if a.queue != nil {
		cancelSubmit, err := a.queue.Subscribe(ctx, messagequeue.SubjectFlowSubmit, a.flows.HandleSubmit)
		if err != nil {
			return fmt.Errorf("submit subscriber: %w", err)
		}
		defer cancelSubmit()
	}

	// --- HTTP ---
	handlers := &qwhttp.Handlers{
		Flows:     a.flows,
		Checks:    healthChecks(a),
		BodyLimit: cfg.Server.MaxRequestBodySize,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(qwotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(qwhttp.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(qwhttp.CORS(cfg.Server.CORSOrigin))
	limiter := middleware.NewSubmitLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)
	qwhttp.MountRoutes(r, handlers, hub.HandleWS, limiter.Handler)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return limiter.Run(gctx, time.Minute, 10*time.Minute) })
	g.Go(func() error {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		if werr := a.flows.Wait(sctx); werr != nil {
			log.Warn("flows still running at shutdown", "error", werr)
		}
		hub.Close()
		return err
	})
	return g.Wait()
}

// healthChecks checks each backend the engine depends on.
func healthChecks(a *app) map[string]qwhttp.HealthCheck {
	checks := map[string]qwhttp.HealthCheck{
		"target":  a.inspector.Ping,
		"litellm": a.llm.Health,
	}
	if a.storePool != nil {
		checks["postgres"] = func(ctx context.Context) error { return a.storePool.Ping(ctx) }
	}
	if a.queue != nil {
		checks["nats"] = func(context.Context) error {
			if !a.queue.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}
	return checks
}
