package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/taskmirror/project/internal/platform/metrics"
)

type config struct {
	GatewayBase          string
	WebhookToken         string
	Actors               int
	StartupWait          time.Duration
	Duration             time.Duration
	RampUp               time.Duration
	EventsPerActorPerSec float64
	DuplicateRatio       float64
	RelayRatio           float64
	RequestTimeout       time.Duration
	MetricsAddr          string
}

type simulatedActor struct {
	Index int
	Email string
	Name  string

	mu    sync.Mutex
	cards []string
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client

	deliveriesSuccess atomic.Int64
	deliveriesError   atomic.Int64
	activeActors      atomic.Int64
}

var (
	deliveriesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "loadgen_webhook_deliveries_total",
		Help: "Webhook deliveries sent by load generator.",
	}, []string{"event", "status", "outcome"})

	activeActorsGauge = metrics.NewGauge(metrics.Opts{
		Name: "loadgen_active_actors",
		Help: "Current number of simulated board actors sending events.",
	})
)

func init() {
	metrics.Default.MustRegister(deliveriesTotal, activeActorsGauge)
}

var listNames = []string{"Priority 1", "Priority 2", "Priority 3", "Done", "Priorität 1", "Erledigt"}

var labelNames = []string{"urgent", "medium", "open", "review"}

func main() {
	cfg := loadConfig()
	if cfg.Actors <= 0 {
		log.Fatal("LOADGEN_ACTORS must be > 0")
	}
	if cfg.WebhookToken == "" {
		log.Fatal("LOADGEN_WEBHOOK_TOKEN must be set")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Actors * 2,
				MaxIdleConnsPerHost: cfg.Actors * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	if err := r.waitForGateway(ctx); err != nil {
		log.Fatalf("gateway readiness failed: %v", err)
	}

	log.Printf("load generator initialized: actors=%d duration=%s rate_per_actor=%.2f ev/s duplicates=%.2f",
		cfg.Actors, cfg.Duration.String(), cfg.EventsPerActorPerSec, cfg.DuplicateRatio)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Actors; i++ {
		actor := &simulatedActor{
			Index: i,
			Email: fmt.Sprintf("board-%s-%04d@example.test", r.runID, i),
			Name:  fmt.Sprintf("Board Actor %04d", i),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runActor(ctx, actor)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load test complete: success_deliveries=%d error_deliveries=%d",
		r.deliveriesSuccess.Load(), r.deliveriesError.Load())
}

func loadConfig() config {
	return config{
		GatewayBase:          trimRightSlash(stringEnv("LOADGEN_GATEWAY_BASE", "http://board-gateway:8080")),
		WebhookToken:         stringEnv("LOADGEN_WEBHOOK_TOKEN", ""),
		Actors:               intEnv("LOADGEN_ACTORS", 50),
		StartupWait:          durationEnv("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:             durationEnv("LOADGEN_DURATION", 10*time.Minute),
		RampUp:               durationEnv("LOADGEN_RAMP_UP", 30*time.Second),
		EventsPerActorPerSec: floatEnv("LOADGEN_EVENTS_PER_ACTOR_PER_SECOND", 0.5),
		DuplicateRatio:       ratioEnv("LOADGEN_DUPLICATE_RATIO", 0.10),
		RelayRatio:           ratioEnv("LOADGEN_RELAY_RATIO", 0.25),
		RequestTimeout:       durationEnv("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:          stringEnv("LOADGEN_METRICS_ADDR", ":9099"),
	}
}

func (r *runner) waitForGateway(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}

	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.GatewayBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return fmt.Errorf("gateway not ready: %w", lastErr)
}

func (r *runner) runActor(ctx context.Context, actor *simulatedActor) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(r.cfg.Actors)) * float64(actor.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	activeActorsGauge.Inc()
	r.activeActors.Add(1)
	defer activeActorsGauge.Dec()
	defer r.activeActors.Add(-1)

	interval := time.Second
	if r.cfg.EventsPerActorPerSec > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.EventsPerActorPerSec)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(actor.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendEvent(ctx, actor, rng)
		}
	}
}

func (r *runner) sendEvent(ctx context.Context, actor *simulatedActor, rng *rand.Rand) {
	cardID, hasCard := actor.randomCard(rng)

	var event string
	var payload map[string]any
	choice := rng.Float64()
	switch {
	case !hasCard || choice < 0.40:
		cardID = fmt.Sprintf("card-%s-%d-%d", r.runID, actor.Index, rng.Intn(1_000_000))
		event = "cardCreate"
		payload = r.cardPayload(actor, event, cardID, rng)
		actor.addCard(cardID)
	case choice < 0.65:
		event = "cardUpdate"
		payload = r.cardPayload(actor, event, cardID, rng)
	case choice < 0.85:
		event = "actionCreate"
		payload = r.movePayload(actor, cardID, rng)
	default:
		event = "cardLabelCreate"
		payload = r.labelPayload(actor, cardID, rng)
	}

	if rng.Float64() < r.cfg.RelayRatio {
		payload = map[string]any{
			"headers": map[string]any{"content-type": "application/json"},
			"params":  map[string]any{},
			"query":   map[string]any{},
			"body":    payload,
		}
	}

	r.deliver(ctx, event, payload)
	if rng.Float64() < r.cfg.DuplicateRatio {
		r.deliver(ctx, event, payload)
	}
}

func (r *runner) cardPayload(actor *simulatedActor, event, cardID string, rng *rand.Rand) map[string]any {
	listID := fmt.Sprintf("list-%d", rng.Intn(len(listNames)))
	return map[string]any{
		"event": event,
		"user":  map[string]any{"email": actor.Email, "name": actor.Name},
		"data": map[string]any{
			"item": map[string]any{
				"id":        cardID,
				"name":      fmt.Sprintf("Load Card %d", rng.Intn(1_000_000)),
				"listId":    listID,
				"updatedAt": time.Now().UTC().Format(time.RFC3339),
			},
			"included": map[string]any{
				"lists": []map[string]any{
					{"id": listID, "name": listNames[rng.Intn(len(listNames))]},
				},
			},
		},
	}
}

func (r *runner) movePayload(actor *simulatedActor, cardID string, rng *rand.Rand) map[string]any {
	return map[string]any{
		"event": "actionCreate",
		"user":  map[string]any{"email": actor.Email, "name": actor.Name},
		"data": map[string]any{
			"item": map[string]any{
				"id":     fmt.Sprintf("action-%s-%d", r.runID, rng.Intn(1_000_000)),
				"type":   "moveCard",
				"cardId": cardID,
				"data": map[string]any{
					"card":   map[string]any{"name": fmt.Sprintf("Load Card %d", rng.Intn(1_000_000))},
					"toList": map[string]any{"name": listNames[rng.Intn(len(listNames))]},
				},
			},
		},
	}
}

func (r *runner) labelPayload(actor *simulatedActor, cardID string, rng *rand.Rand) map[string]any {
	return map[string]any{
		"event": "cardLabelCreate",
		"user":  map[string]any{"email": actor.Email, "name": actor.Name},
		"data": map[string]any{
			"item": map[string]any{
				"id":     fmt.Sprintf("cardlabel-%s-%d", r.runID, rng.Intn(1_000_000)),
				"cardId": cardID,
			},
			"included": map[string]any{
				"cards": []map[string]any{
					{"id": cardID, "name": fmt.Sprintf("Load Card %d", rng.Intn(1_000_000))},
				},
				"labels": []map[string]any{
					{"name": labelNames[rng.Intn(len(labelNames))]},
				},
			},
		},
	}
}

func (r *runner) deliver(ctx context.Context, event string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		deliveriesTotal.WithLabelValues(event, "0", "error").Inc()
		r.deliveriesError.Add(1)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.GatewayBase+"/webhooks/board-events", bytes.NewReader(raw))
	if err != nil {
		deliveriesTotal.WithLabelValues(event, "0", "error").Inc()
		r.deliveriesError.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Token", r.cfg.WebhookToken)

	resp, err := r.client.Do(req)
	if err != nil {
		deliveriesTotal.WithLabelValues(event, "0", "error").Inc()
		r.deliveriesError.Add(1)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	statusText := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode == http.StatusOK {
		deliveriesTotal.WithLabelValues(event, statusText, "success").Inc()
		r.deliveriesSuccess.Add(1)
		return
	}
	deliveriesTotal.WithLabelValues(event, statusText, "error").Inc()
	r.deliveriesError.Add(1)
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_deliveries=%d error_deliveries=%d active_actors=%d",
				r.deliveriesSuccess.Load(),
				r.deliveriesError.Load(),
				r.activeActors.Load(),
			)
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func (a *simulatedActor) addCard(cardID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cards = append(a.cards, cardID)
}

func (a *simulatedActor) randomCard(rng *rand.Rand) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cards) == 0 {
		return "", false
	}
	return a.cards[rng.Intn(len(a.cards))], true
}

func trimRightSlash(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func stringEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func ratioEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
