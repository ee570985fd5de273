package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/taskmirror/project/internal/platform/metrics"
)

// Message is the envelope pushed to connected clients.
type Message struct {
	Type      string    `json:"type"` // task_updated | task_deleted | connected
	Task      any       `json:"task,omitempty"`
	Event     string    `json:"event,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const sinkBuffer = 64

var liveStreamsGauge = metrics.NewGauge(metrics.Opts{
	Name: "stream_live_connections",
	Help: "Current number of registered client streams.",
})

func init() {
	metrics.Default.MustRegister(liveStreamsGauge)
}

type lease struct {
	id     string
	sink   chan []byte
	cancel func()
}

// Registry holds one live output channel per connected user and fans task
// state out to it. A second registration for the same user replaces the
// first; publishes to absent users are no-ops; a full sink drops the message
// rather than blocking the publisher.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]lease
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]lease)}
}

// Register installs a sink for userID and returns the channel to drain plus
// the cancel func of any replaced registration (the caller must invoke it).
func (r *Registry) Register(userID, streamID string, cancel func()) (<-chan []byte, func()) {
	sink := make(chan []byte, sinkBuffer)

	r.mu.Lock()
	var prevCancel func()
	current, replaced := r.byUser[userID]
	if replaced {
		prevCancel = current.cancel
	}
	r.byUser[userID] = lease{id: streamID, sink: sink, cancel: cancel}
	r.mu.Unlock()

	if !replaced {
		liveStreamsGauge.Inc()
	}
	return sink, prevCancel
}

// Unregister drops the registration, but only if it still belongs to
// streamID; a replacement registered in the meantime stays.
func (r *Registry) Unregister(userID, streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byUser[userID]
	if !ok || current.id != streamID {
		return
	}
	delete(r.byUser, userID)
	liveStreamsGauge.Dec()
}

// Disconnect cancels and removes the user's live stream, if any.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	current, ok := r.byUser[userID]
	if ok {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	liveStreamsGauge.Dec()
	if current.cancel != nil {
		current.cancel()
	}
}

// Publish sends msg to the user's sink. No sink registered is a silent
// no-op; the client falls back to polling. A full sink drops the message.
func (r *Registry) Publish(userID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	r.mu.Lock()
	current, ok := r.byUser[userID]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case current.sink <- payload:
	default:
	}
}

// PublishAll sends msg to every registered sink.
func (r *Registry) PublishAll(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	r.mu.Lock()
	sinks := make([]chan []byte, 0, len(r.byUser))
	for _, l := range r.byUser {
		sinks = append(sinks, l.sink)
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		select {
		case sink <- payload:
		default:
		}
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
