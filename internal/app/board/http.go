package board

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskmirror/project/internal/app/stream"
	"github.com/taskmirror/project/internal/contracts"
	"github.com/taskmirror/project/internal/notify"
	"github.com/taskmirror/project/internal/platform/metrics"
)

const maxDeliveryBytes = 1 << 20

const defaultReconcileTimeout = 5 * time.Second

var deliveriesTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "board_webhook_deliveries_total",
	Help: "Inbound board webhook deliveries by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(deliveriesTotal)
}

// Handler receives board webhook deliveries and drives them through
// normalize, dedup, reconcile and broadcast.
type Handler struct {
	Token      string
	Normalizer *Normalizer
	Guard      *DedupGuard
	Reconciler *Reconciler
	Streams    *stream.Registry
	Notify     *notify.Dispatcher
	// ReconcileTimeout bounds the persistence path so a slow store surfaces
	// as a 5xx and triggers upstream redelivery instead of hanging.
	ReconcileTimeout time.Duration
	Now              func() time.Time
}

func NewHandler(token string, reconciler *Reconciler, streams *stream.Registry, notifier *notify.Dispatcher) *Handler {
	return &Handler{
		Token:            token,
		Normalizer:       NewNormalizer(),
		Guard:            NewDedupGuard(defaultDedupCapacity),
		Reconciler:       reconciler,
		Streams:          streams,
		Notify:           notifier,
		ReconcileTimeout: defaultReconcileTimeout,
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

// Router serves the webhook endpoints, mounted under /webhooks.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/board-events", h.handleProbe)
	r.Post("/board-events", h.handleDelivery)
	return r
}

func (h *Handler) handleProbe(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "webhook endpoint is active",
		"timestamp": h.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if !h.tokenValid(r.Header.Get("X-Webhook-Token")) {
		deliveriesTotal.WithLabelValues("unauthorized").Inc()
		h.writeError(w, http.StatusUnauthorized, "invalid or missing webhook token")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeliveryBytes))
	if err != nil {
		deliveriesTotal.WithLabelValues("rejected").Inc()
		h.writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	ev, err := h.Normalizer.Normalize(body)
	if err != nil {
		deliveriesTotal.WithLabelValues("rejected").Inc()
		// Keep the raw payload in the log for offline diagnosis.
		log.Printf("rejecting webhook delivery: %v; payload=%s", err, truncateForLog(body))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := ev.DedupKey()
	if !h.Guard.ShouldProcess(key) {
		deliveriesTotal.WithLabelValues("duplicate").Inc()
		h.writeJSON(w, http.StatusOK, map[string]any{
			"message": "duplicate delivery ignored",
			"event":   string(ev.Kind),
			"card":    ev.CardID,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.reconcileTimeout())
	defer cancel()

	result, err := h.Reconciler.Reconcile(ctx, ev)
	if err != nil {
		deliveriesTotal.WithLabelValues("failed").Inc()
		log.Printf("reconciliation failed for card %s: %v", ev.CardID, err)
		h.writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	h.Guard.MarkProcessed(key)
	deliveriesTotal.WithLabelValues("processed").Inc()

	if h.Streams != nil {
		h.Streams.Publish(result.Owner.ID, stream.Message{
			Type:      "task_updated",
			Task:      result.Task,
			Event:     string(ev.Kind),
			Timestamp: h.Now(),
		})
	}
	h.Notify.Dispatch(contracts.TaskEvent{
		Event:       contracts.EventTaskSynced,
		TaskID:      result.Task.ID,
		OwnerID:     result.Owner.ID,
		OwnerEmail:  result.Owner.Email,
		Title:       result.Task.Title,
		Description: result.Task.Description,
		Status:      string(result.Task.Status),
		Priority:    string(result.Task.Priority),
		Label:       result.Task.Label,
		Deadline:    result.Task.Deadline,
		ExternalID:  result.Task.ExternalID,
		OccurredAt:  h.Now(),
	})

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "webhook processed",
		"event":   string(ev.Kind),
		"card":    ev.CardID,
		"task":    result.Task,
	})
}

// tokenValid compares the presented token against the configured secret in
// constant time. An unconfigured secret rejects everything.
func (h *Handler) tokenValid(presented string) bool {
	if h.Token == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.Token)) == 1
}

func (h *Handler) reconcileTimeout() time.Duration {
	if h.ReconcileTimeout <= 0 {
		return defaultReconcileTimeout
	}
	return h.ReconcileTimeout
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func truncateForLog(body []byte) string {
	const limit = 2048
	if len(body) > limit {
		return string(body[:limit]) + "...(truncated)"
	}
	return string(body)
}
