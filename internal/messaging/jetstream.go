package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const taskEventsStream = "TASK_EVENTS"

// EnsureStream creates (or validates) the stream that mirrors outbound
// task mutation events for downstream consumers: task.event.>
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(taskEventsStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      taskEventsStream,
				Subjects:  []string{"task.event.>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}
	return nil
}
