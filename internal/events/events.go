package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire structure for all room and global events delivered by
// the transport layer. Data carries the type-specific payload.
type Envelope struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id,omitempty"` // empty for global events
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType identifies the kind of event carried in an Envelope.
type EventType string

const (
	EventTypeGameCreated    EventType = "GameCreated"
	EventTypePlayerJoined   EventType = "PlayerJoined"
	EventTypePlayerLeft     EventType = "PlayerLeft"
	EventTypeSelectionMade  EventType = "SelectionMade"
	EventTypeChoiceRevealed EventType = "ChoiceRevealed"
	EventTypeGameResolved   EventType = "GameResolved"
	EventTypeGameCancelled  EventType = "GameCancelled"
	EventTypeTimeout        EventType = "Timeout"
)

// CoinSide is a player's choice or the flip result.
type CoinSide string

const (
	Heads CoinSide = "heads"
	Tails CoinSide = "tails"
)

// Identity returns a stable key for duplicate suppression. Transports are
// at-least-once, so consumers key processed events off this value. The event
// ID is preferred; without one the room/type/timestamp triple is used.
func (e *Envelope) Identity() string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s|%s|%d", e.RoomID, e.Type, e.Timestamp.UnixNano())
}

// Payload parses the envelope data into the payload struct for its type.
// Unknown event types return an error so malformed traffic is rejected at the
// bus boundary rather than leaking untyped data into consumers.
func (e *Envelope) Payload() (interface{}, error) {
	switch e.Type {
	case EventTypeGameCreated:
		return unmarshalPayload[GameCreatedPayload](e)
	case EventTypePlayerJoined:
		return unmarshalPayload[PlayerJoinedPayload](e)
	case EventTypePlayerLeft:
		return unmarshalPayload[PlayerLeftPayload](e)
	case EventTypeSelectionMade:
		return unmarshalPayload[SelectionMadePayload](e)
	case EventTypeChoiceRevealed:
		return unmarshalPayload[ChoiceRevealedPayload](e)
	case EventTypeGameResolved:
		return unmarshalPayload[GameResolvedPayload](e)
	case EventTypeGameCancelled:
		return unmarshalPayload[GameCancelledPayload](e)
	case EventTypeTimeout:
		return unmarshalPayload[TimeoutPayload](e)
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}
}

// Validate checks that the envelope is well formed and its payload parses.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event missing type")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s missing timestamp", e.Type)
	}
	if e.RoomID == "" && requiresRoom(e.Type) {
		return fmt.Errorf("event %s missing room id", e.Type)
	}
	if _, err := e.Payload(); err != nil {
		return fmt.Errorf("event %s payload: %w", e.Type, err)
	}
	return nil
}

func requiresRoom(t EventType) bool {
	switch t {
	case EventTypeGameCreated, EventTypePlayerJoined, EventTypePlayerLeft,
		EventTypeSelectionMade, EventTypeChoiceRevealed,
		EventTypeGameResolved, EventTypeGameCancelled, EventTypeTimeout:
		return true
	}
	return false
}

func unmarshalPayload[T any](e *Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
