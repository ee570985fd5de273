package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	platformauth "github.com/taskmirror/project/internal/platform/auth"
)

func newSSEHandler() *Handler {
	h := NewHandler(NewRegistry(), platformauth.NewManager("test-secret", 15*time.Minute))
	h.Now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestHandleEvents_RequiresToken(t *testing.T) {
	h := newSSEHandler()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	h.HandleEvents(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/events?token=garbage", nil)
	rec = httptest.NewRecorder()
	h.HandleEvents(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestHandleEvents_StreamsMessages(t *testing.T) {
	h := newSSEHandler()
	token, err := h.Auth.Sign("user-1", "alice@example.com")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events?token="+token, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleEvents(rec, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.Registry.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Registry.Publish("user-1", Message{Type: "task_updated", Event: "cardCreate", Timestamp: h.Now()})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on context cancel")
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"connected"`) {
		t.Fatalf("missing welcome frame: %q", body)
	}
	if !strings.Contains(body, `"event":"cardCreate"`) {
		t.Fatalf("missing published frame: %q", body)
	}
	if h.Registry.Count() != 0 {
		t.Fatalf("stream not unregistered on exit: count=%d", h.Registry.Count())
	}
}

func TestHandleDisconnect(t *testing.T) {
	h := newSSEHandler()
	token, err := h.Auth.Sign("user-1", "alice@example.com")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	cancelled := false
	h.Registry.Register("user-1", "stream-1", func() { cancelled = true })

	req := httptest.NewRequest(http.MethodPost, "/events/disconnect", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.HandleDisconnect(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !cancelled || h.Registry.Count() != 0 {
		t.Fatalf("stream not torn down: cancelled=%v count=%d", cancelled, h.Registry.Count())
	}
}
