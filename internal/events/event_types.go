package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAssetDefectReported EventType = "asset_defect_reported"
	EventAssetFixed          EventType = "asset_fixed"
	EventFixAmended          EventType = "asset_fix_amended"
)

// Event represents a lifecycle event emitted after a unit of work commits.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	RoomID    string      `json:"room_id"`
	PCNumber  string      `json:"pc_number"`
	ActorID   int64       `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps a fresh id on an event for the given asset.
func NewEvent(eventType EventType, ticket domain.ServiceTicketID, key domain.AssetKey, actorID int64, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  string(ticket),
		RoomID:    key.RoomID,
		PCNumber:  key.PCNumber,
		ActorID:   actorID,
		Timestamp: at,
		Payload:   payload,
	}
}

// DefectReportedPayload payload.
type DefectReportedPayload struct {
	Issues         []string           `json:"issues"`
	PreviousStatus domain.AssetStatus `json:"previous_status"`
}

// AssetFixedPayload payload.
type AssetFixedPayload struct {
	DefectTicketID string    `json:"defect_ticket_id"`
	FixedAt        time.Time `json:"fixed_at"`
	FixedBy        int64     `json:"fixed_by"`
}
