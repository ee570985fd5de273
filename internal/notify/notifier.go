package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/taskmirror/project/internal/contracts"
	"github.com/taskmirror/project/internal/sharding"
)

// Sink delivers a task mutation event to one outbound destination.
type Sink interface {
	Send(ctx context.Context, event contracts.TaskEvent) error
}

const defaultSendTimeout = 5 * time.Second

// Dispatcher fans task events out to all configured sinks on detached
// goroutines. Delivery is fire-and-forget: failures are logged and never
// block or fail the request that produced the event.
type Dispatcher struct {
	Sinks   []Sink
	Timeout time.Duration
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{Sinks: sinks, Timeout: defaultSendTimeout}
}

// Dispatch sends event to every sink without waiting for the results.
func (d *Dispatcher) Dispatch(event contracts.TaskEvent) {
	if d == nil {
		return
	}
	for _, sink := range d.Sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
			defer cancel()
			if err := s.Send(ctx, event); err != nil {
				log.Printf("outbound notification failed (%s, task %s): %v", event.Event, event.TaskID, err)
			}
		}(sink)
	}
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultSendTimeout
	}
	return d.Timeout
}

// WebhookSink posts task events as JSON to a configured webhook URL,
// authenticated with a shared-secret header.
type WebhookSink struct {
	URL    string
	Token  string
	client *resty.Client
}

func NewWebhookSink(url, token string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &WebhookSink{
		URL:    url,
		Token:  token,
		client: resty.New().SetTimeout(timeout),
	}
}

func (s *WebhookSink) Send(ctx context.Context, event contracts.TaskEvent) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Token", s.Token).
		SetBody(event).
		Post(s.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook sink responded %s", resp.Status())
	}
	return nil
}

// JetStreamSink mirrors task events onto the task.event subject space for
// downstream consumers, partitioned by owner id.
type JetStreamSink struct {
	Publish func(subject string, payload []byte) error
}

func (s *JetStreamSink) Send(_ context.Context, event contracts.TaskEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Publish(sharding.GetSubject("user", event.OwnerID), payload)
}
