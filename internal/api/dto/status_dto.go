package dto

import "time"

// ReportDefectRequest payload for POST /api/status/defects.
type ReportDefectRequest struct {
	RoomID     string     `json:"roomID"`
	PCNumber   string     `json:"pcNumber"`
	Issues     []string   `json:"issues"`
	UserID     *int64     `json:"userID"`
	OccurredAt *time.Time `json:"occurredAt"`
}

// ReportDefectResponse carries the minted Defective ticket.
type ReportDefectResponse struct {
	ServiceTicketID string `json:"serviceTicketID"`
}

// ResolveFixRequest payload for POST /api/status/fixes.
type ResolveFixRequest struct {
	RoomID          string     `json:"roomID"`
	PCNumber        string     `json:"pcNumber"`
	ServiceTicketID string     `json:"serviceTicketID"`
	FixedBy         *int64     `json:"fixedBy"`
	FixedAt         *time.Time `json:"fixedAt"`
}

// ResolveFixResponse acknowledges a fix. FixTicketID is empty when an existing fix was
// amended.
type ResolveFixResponse struct {
	Success     bool   `json:"success"`
	FixTicketID string `json:"fixTicketID,omitempty"`
	Amended     bool   `json:"amended"`
}
