package board

import "time"

// EventKind identifies the normalized shape of a webhook delivery.
type EventKind string

const (
	KindCardCreated EventKind = "cardCreate"
	KindCardUpdated EventKind = "cardUpdate"
	KindCardMoved   EventKind = "cardMove"
	KindLabelAdded  EventKind = "cardLabelCreate"
	KindUnknown     EventKind = "unknown"
)

// CardChangeEvent is the canonical, shape-independent representation of a
// webhook delivery. One is produced per delivery and discarded afterwards.
type CardChangeEvent struct {
	Kind            EventKind
	CardID          string
	CardName        string
	CardDescription string
	DueDate         *time.Time
	// ListName is the containing list, "Unknown" when it cannot be resolved.
	ListName  string
	LabelName string
	ActorEmail string
	ActorName  string
	// DeliveryID is the upstream per-delivery identifier when the payload
	// carries one (action and label events do; card events do not).
	DeliveryID string
	// SourceUpdatedAt is the raw upstream timestamp of the change, used only
	// for dedup key derivation.
	SourceUpdatedAt string
	ReceivedAt      time.Time
}

// DedupKey derives the idempotency key for this delivery: the upstream
// delivery id when present, otherwise kind plus card identity plus the
// upstream change timestamp.
func (e CardChangeEvent) DedupKey() string {
	if e.DeliveryID != "" {
		return e.DeliveryID
	}
	return string(e.Kind) + ":" + e.CardID + ":" + e.SourceUpdatedAt
}
