package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskmirror/project/internal/app/board"
	"github.com/taskmirror/project/internal/app/identity"
	"github.com/taskmirror/project/internal/app/stream"
	"github.com/taskmirror/project/internal/app/tasks"
	"github.com/taskmirror/project/internal/notify"
	"github.com/taskmirror/project/internal/platform/dbpool"
	"github.com/taskmirror/project/internal/platform/env"
	"github.com/taskmirror/project/internal/platform/metrics"
	"github.com/taskmirror/project/internal/platform/natsutil"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gatewayAddr := env.String("GATEWAY_ADDR", env.DefaultGatewayAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	webhookToken := env.String("INBOUND_WEBHOOK_TOKEN", "")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	if webhookToken == "" {
		log.Printf("INBOUND_WEBHOOK_TOKEN is empty; all inbound board deliveries will be rejected")
	}

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	identityRepo := identity.NewPostgresRepository(pool)
	if err := waitForSchema(runCtx, "identity", identityRepo.EnsureSchema, 30*time.Second); err != nil {
		log.Fatal(err)
	}
	taskStore := tasks.NewPostgresStore(pool)
	if err := waitForSchema(runCtx, "tasks", taskStore.EnsureSchema, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	tokenManager := identity.NewTokenManager(jwtSecret)
	identitySvc := identity.NewService(identityRepo, tokenManager)

	var sinks []notify.Sink
	if url := env.String("OUTBOUND_WEBHOOK_URL", ""); url != "" {
		sinks = append(sinks, notify.NewWebhookSink(
			url,
			env.String("OUTBOUND_WEBHOOK_TOKEN", ""),
			env.Duration("OUTBOUND_WEBHOOK_TIMEOUT", 5*time.Second),
		))
	}

	var natsClient *natsutil.Client
	if natsURL := env.String("NATS_URL", ""); natsURL != "" {
		natsClient, err = natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
		if err != nil {
			log.Fatal(err)
		}
		defer natsClient.Close()
		publisher := natsutil.JetStreamPublisher{JS: natsClient.JS}
		sinks = append(sinks, &notify.JetStreamSink{Publish: publisher.Publish})
	}
	notifier := notify.NewDispatcher(sinks...)

	registry := stream.NewRegistry()
	streamHandler := stream.NewHandler(registry, tokenManager)

	reconciler := board.NewReconciler(taskStore, identitySvc)
	webhookHandler := board.NewHandler(webhookToken, reconciler, registry, notifier)
	webhookHandler.ReconcileTimeout = env.Duration("RECONCILE_TIMEOUT", 5*time.Second)
	taskHandler := tasks.NewHandler(taskStore, tokenManager, registry, notifier)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := checkReadiness(req.Context(), pool, natsClient); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Mount("/api/v1/auth", identity.NewHandler(identitySvc).Router())
	r.Mount("/api/v1/tasks", taskHandler.Router())
	r.Mount("/webhooks", webhookHandler.Router())
	r.Get("/events", streamHandler.HandleEvents)
	r.Post("/events/disconnect", streamHandler.HandleDisconnect)

	// WriteTimeout stays unset: /events holds long-lived SSE responses.
	server := &http.Server{
		Addr:              gatewayAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Board gateway listening on %s\n", gatewayAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("board-gateway graceful shutdown failed: %v", err)
	}
}

func waitForSchema(ctx context.Context, name string, ensure func(context.Context) error, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = ensure(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for %s schema readiness: %v", name, lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, natsClient *natsutil.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if natsClient != nil && !natsClient.Conn.IsConnected() {
		return errors.New("nats is not connected")
	}
	return nil
}
