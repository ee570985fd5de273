package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	platformauth "github.com/taskmirror/project/internal/platform/auth"
)

const heartbeatInterval = 30 * time.Second

// Handler serves the per-user real-time channel as an SSE stream of
// newline-delimited JSON envelopes. Clients that cannot hold a connection
// fall back to polling the task list; no replay is offered on reconnect.
type Handler struct {
	Registry *Registry
	Auth     platformauth.Manager
	Now      func() time.Time
}

func NewHandler(registry *Registry, tokenManager platformauth.Manager) *Handler {
	return &Handler{
		Registry: registry,
		Auth:     tokenManager,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	flusher, flushable := w.(http.Flusher)
	if !flushable {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	streamCtx, cancelStream := context.WithCancel(r.Context())
	defer cancelStream()

	streamID := nuid.Next()
	sink, cancelPrev := h.Registry.Register(claims.Subject, streamID, cancelStream)
	if cancelPrev != nil {
		cancelPrev()
	}
	defer h.Registry.Unregister(claims.Subject, streamID)

	welcome := Message{Type: "connected", Timestamp: h.Now()}
	h.Registry.Publish(claims.Subject, welcome)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return
		case payload := <-sink:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				// Broken sink: drop the connection, never surface the error.
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	h.Registry.Disconnect(claims.Subject)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (platformauth.Claims, bool) {
	token := platformauth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return platformauth.Claims{}, false
	}
	claims, err := h.Auth.Parse(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return platformauth.Claims{}, false
	}
	return claims, true
}
