package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TicketTag records which transition minted a ticket.
type TicketTag string

const (
	TicketTagDefective TicketTag = "Defective"
	TicketTagFixed     TicketTag = "Fixed"
)

// serialWidth is the zero-padded width of the serial suffix. Stored tickets depend on it.
const serialWidth = 9

// ServiceTicketID is the human-readable key {RoomID}-{PCNumber}-{Tag}-{Serial}.
type ServiceTicketID string

// ErrMalformedTicket is returned when a ticket id does not follow the expected layout.
var ErrMalformedTicket = errors.New("malformed service ticket id")

// FormatTicket builds a ticket id, e.g. MPO310-18-Fixed-000000170.
func FormatTicket(roomID, pcNumber string, tag TicketTag, serial int64) ServiceTicketID {
	return ServiceTicketID(fmt.Sprintf("%s-%s-%s-%0*d", roomID, pcNumber, tag, serialWidth, serial))
}

// TicketParts is the decoded form of a ServiceTicketID.
type TicketParts struct {
	RoomID   string
	PCNumber string
	Tag      TicketTag
	Serial   int64
}

// Key returns the asset the ticket was minted for.
func (p TicketParts) Key() AssetKey {
	return AssetKey{RoomID: p.RoomID, PCNumber: p.PCNumber}
}

// ParseTicket decodes a ticket id. Room ids may contain dashes, so the id is split from the right.
func ParseTicket(id ServiceTicketID) (TicketParts, error) {
	parts := strings.Split(string(id), "-")
	if len(parts) < 4 {
		return TicketParts{}, ErrMalformedTicket
	}
	n := len(parts)
	serialStr, tagStr, pc := parts[n-1], parts[n-2], parts[n-3]
	room := strings.Join(parts[:n-3], "-")
	if room == "" || pc == "" || len(serialStr) < serialWidth {
		return TicketParts{}, ErrMalformedTicket
	}
	tag := TicketTag(tagStr)
	if tag != TicketTagDefective && tag != TicketTagFixed {
		return TicketParts{}, ErrMalformedTicket
	}
	serial, err := strconv.ParseInt(serialStr, 10, 64)
	if err != nil || serial < 0 {
		return TicketParts{}, ErrMalformedTicket
	}
	return TicketParts{RoomID: room, PCNumber: pc, Tag: tag, Serial: serial}, nil
}
