package domain

import "time"

// FixRecord attributes the resolution of a Defective ticket. At most one exists per ticket.
type FixRecord struct {
	ServiceTicketID ServiceTicketID
	RoomID          string
	PCNumber        string
	FixedAt         time.Time
	FixedBy         int64
}
