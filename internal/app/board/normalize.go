package board

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidJSON   = errors.New("payload is not valid JSON")
	ErrCardIDMissing = errors.New("no card identity in payload")
	ErrActorMissing  = errors.New("no actor email in payload")
)

// UnknownList is the containing-list name used when the payload does not let
// us resolve one. The classifier maps it to the safe default.
const UnknownList = "Unknown"

// Normalizer turns a raw webhook body of unknown shape into a
// CardChangeEvent. It performs no side effects.
type Normalizer struct {
	Now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return time.Now().UTC() }}
}

// The board system emits several shapes distinguished by the event field and
// by which nested fields are populated. Fields we never read are omitted.
type rawPayload struct {
	Event string   `json:"event"`
	Data  *rawData `json:"data"`
	User  *rawUser `json:"user"`
	// Some relays wrap the upstream payload in a transport envelope.
	Body json.RawMessage `json:"body"`
}

type rawData struct {
	Item     *rawItem     `json:"item"`
	Included *rawIncluded `json:"included"`
	CardID   string       `json:"cardId"`
}

type rawItem struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	DueDate     string         `json:"dueDate"`
	UpdatedAt   string         `json:"updatedAt"`
	ListID      string         `json:"listId"`
	CardID      string         `json:"cardId"`
	Type        string         `json:"type"`
	Data        *rawActionData `json:"data"`
}

type rawActionData struct {
	Card     *rawCardRef `json:"card"`
	ToList   *rawList    `json:"toList"`
	FromList *rawList    `json:"fromList"`
}

type rawCardRef struct {
	Name string `json:"name"`
}

type rawList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type rawIncluded struct {
	Lists  []rawList  `json:"lists"`
	Cards  []rawCard  `json:"cards"`
	Labels []rawLabel `json:"labels"`
}

type rawCard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
	UpdatedAt   string `json:"updatedAt"`
	ListID      string `json:"listId"`
}

type rawLabel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type rawUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Normalize parses a webhook body into the canonical event. It rejects only
// payloads with no extractable card identity or actor email; everything else
// degrades to safe defaults.
func (n *Normalizer) Normalize(raw []byte) (CardChangeEvent, error) {
	var payload rawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CardChangeEvent{}, ErrInvalidJSON
	}

	// Unwrap one level of relay envelope ({headers, params, query, body}).
	if payload.Event == "" && len(payload.Body) > 0 {
		if err := json.Unmarshal(payload.Body, &payload); err != nil {
			return CardChangeEvent{}, ErrInvalidJSON
		}
	}

	ev := CardChangeEvent{
		Kind:       KindUnknown,
		ListName:   UnknownList,
		ReceivedAt: n.Now(),
	}
	if payload.User != nil {
		ev.ActorEmail = strings.TrimSpace(payload.User.Email)
		ev.ActorName = strings.TrimSpace(payload.User.Name)
	}

	switch payload.Event {
	case "cardCreate":
		ev.Kind = KindCardCreated
		n.extractCardItem(&ev, payload.Data)
	case "cardUpdate":
		ev.Kind = KindCardUpdated
		n.extractCardItem(&ev, payload.Data)
	case "actionCreate":
		n.extractAction(&ev, payload.Data)
	case "cardLabelCreate":
		ev.Kind = KindLabelAdded
		n.extractLabel(&ev, payload.Data)
	default:
		// Unknown or future shape: salvage identity fields, keep the list
		// unresolved so classification falls back to the default.
		n.extractCardItem(&ev, payload.Data)
		ev.Kind = KindUnknown
		ev.ListName = UnknownList
	}

	if ev.CardID == "" {
		return CardChangeEvent{}, ErrCardIDMissing
	}
	if ev.ActorEmail == "" {
		return CardChangeEvent{}, ErrActorMissing
	}
	return ev, nil
}

// extractCardItem handles the cardCreate/cardUpdate shape: card fields live
// at data.item, the containing list is resolved via data.item.listId inside
// data.included.lists.
func (n *Normalizer) extractCardItem(ev *CardChangeEvent, data *rawData) {
	if data == nil || data.Item == nil {
		return
	}
	item := data.Item
	ev.CardID = item.ID
	if ev.CardID == "" {
		ev.CardID = item.CardID
	}
	if ev.CardID == "" {
		ev.CardID = data.CardID
	}
	ev.CardName = item.Name
	ev.CardDescription = item.Description
	ev.DueDate = parseUpstreamTime(item.DueDate)
	ev.SourceUpdatedAt = item.UpdatedAt
	ev.ListName = resolveListName(data.Included, item.ListID)
}

// extractAction handles actionCreate. Only the moveCard action type is
// understood; the card's stable id is data.item.cardId, not data.item.id,
// and the destination list rides inside data.item.data.toList.
func (n *Normalizer) extractAction(ev *CardChangeEvent, data *rawData) {
	if data == nil || data.Item == nil {
		return
	}
	item := data.Item
	ev.CardID = item.CardID
	if ev.CardID == "" {
		ev.CardID = data.CardID
	}
	ev.DeliveryID = item.ID

	if item.Type != "moveCard" || item.Data == nil {
		return
	}
	ev.Kind = KindCardMoved
	if item.Data.Card != nil {
		ev.CardName = item.Data.Card.Name
	}
	if item.Data.ToList != nil && strings.TrimSpace(item.Data.ToList.Name) != "" {
		ev.ListName = item.Data.ToList.Name
	}
}

// extractLabel handles cardLabelCreate: the affected card is found by
// scanning data.included.cards, the label rides in data.included.labels[0].
func (n *Normalizer) extractLabel(ev *CardChangeEvent, data *rawData) {
	if data == nil {
		return
	}
	if data.Item != nil {
		ev.CardID = data.Item.CardID
		ev.DeliveryID = data.Item.ID
	}
	if data.Included == nil {
		return
	}

	var card *rawCard
	for i := range data.Included.Cards {
		c := &data.Included.Cards[i]
		if ev.CardID == "" || c.ID == ev.CardID {
			card = c
			break
		}
	}
	if card != nil {
		ev.CardID = card.ID
		ev.CardName = card.Name
		ev.CardDescription = card.Description
		ev.DueDate = parseUpstreamTime(card.DueDate)
		ev.SourceUpdatedAt = card.UpdatedAt
		ev.ListName = resolveListName(data.Included, card.ListID)
	}
	if len(data.Included.Labels) > 0 {
		ev.LabelName = data.Included.Labels[0].Name
	}
}

// resolveListName looks listID up in the included lists. Any missing piece
// resolves to UnknownList; it never fails.
func resolveListName(included *rawIncluded, listID string) string {
	if included == nil || listID == "" {
		return UnknownList
	}
	for _, l := range included.Lists {
		if l.ID == listID && strings.TrimSpace(l.Name) != "" {
			return l.Name
		}
	}
	return UnknownList
}

func parseUpstreamTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
