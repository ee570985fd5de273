package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func testMessage(event string) Message {
	return Message{
		Type:      "task_updated",
		Event:     event,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func drainOne(t *testing.T, sink <-chan []byte) Message {
	t.Helper()
	select {
	case payload := <-sink:
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		return msg
	default:
		t.Fatal("expected a message on the sink")
		return Message{}
	}
}

func TestRegistry_PublishIsolatedPerUser(t *testing.T) {
	r := NewRegistry()
	sinkA, _ := r.Register("user-a", "stream-1", func() {})
	sinkB, _ := r.Register("user-b", "stream-2", func() {})

	r.Publish("user-a", testMessage("cardCreate"))

	msg := drainOne(t, sinkA)
	if msg.Event != "cardCreate" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	select {
	case <-sinkB:
		t.Fatal("user-b must not receive user-a's events")
	default:
	}
}

func TestRegistry_PublishToAbsentUserIsNoOp(t *testing.T) {
	r := NewRegistry()
	// Must not panic or block.
	r.Publish("nobody", testMessage("cardCreate"))
	if r.Count() != 0 {
		t.Fatalf("unexpected registrations: %d", r.Count())
	}
}

func TestRegistry_SecondRegistrationReplacesFirst(t *testing.T) {
	r := NewRegistry()
	firstCancelled := false
	first, prev := r.Register("user-a", "stream-1", func() { firstCancelled = true })
	if prev != nil {
		t.Fatal("first registration should not return a previous cancel")
	}

	second, prev := r.Register("user-a", "stream-2", func() {})
	if prev == nil {
		t.Fatal("replacement should surface the previous cancel")
	}
	prev()
	if !firstCancelled {
		t.Fatal("previous registration's cancel not invoked")
	}
	if r.Count() != 1 {
		t.Fatalf("expected one live registration, got %d", r.Count())
	}

	r.Publish("user-a", testMessage("cardUpdate"))
	select {
	case <-first:
		t.Fatal("replaced sink must not receive messages")
	default:
	}
	msg := drainOne(t, second)
	if msg.Event != "cardUpdate" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRegistry_UnregisterOnlyOwnLease(t *testing.T) {
	r := NewRegistry()
	r.Register("user-a", "stream-1", func() {})
	r.Register("user-a", "stream-2", func() {})

	// The handler for the replaced stream unregisters on its way out; the
	// replacement must survive.
	r.Unregister("user-a", "stream-1")
	if r.Count() != 1 {
		t.Fatalf("replacement lease was dropped: count=%d", r.Count())
	}

	r.Unregister("user-a", "stream-2")
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestRegistry_FullSinkDropsInsteadOfBlocking(t *testing.T) {
	r := NewRegistry()
	sink, _ := r.Register("user-a", "stream-1", func() {})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sinkBuffer+10; i++ {
			r.Publish("user-a", testMessage("cardUpdate"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full sink")
	}
	if got := len(sink); got != sinkBuffer {
		t.Fatalf("expected %d buffered messages, got %d", sinkBuffer, got)
	}
}

func TestRegistry_Disconnect(t *testing.T) {
	r := NewRegistry()
	cancelled := false
	r.Register("user-a", "stream-1", func() { cancelled = true })

	r.Disconnect("user-a")
	if !cancelled {
		t.Fatal("disconnect must cancel the live stream")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}

	// Disconnecting an absent user is a no-op.
	r.Disconnect("user-a")
}

func TestRegistry_PublishAll(t *testing.T) {
	r := NewRegistry()
	sinkA, _ := r.Register("user-a", "stream-1", func() {})
	sinkB, _ := r.Register("user-b", "stream-2", func() {})

	r.PublishAll(testMessage("cardDelete"))
	if msg := drainOne(t, sinkA); msg.Event != "cardDelete" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg := drainOne(t, sinkB); msg.Event != "cardDelete" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
