package domain

import (
	"sort"
	"time"
)

// StatusEvent is an immutable record of one transition. Status is the state being entered.
type StatusEvent struct {
	ServiceTicketID  ServiceTicketID
	Serial           int64
	RoomID           string
	PCNumber         string
	OccurredAt       time.Time
	Status           AssetStatus
	Issues           []string
	RecordedBy       int64
	ResolvesTicketID *ServiceTicketID
}

// Key returns the asset the event belongs to.
func (e StatusEvent) Key() AssetKey {
	return AssetKey{RoomID: e.RoomID, PCNumber: e.PCNumber}
}

// LineageTicket is the Defective ticket this event is attributed to: its own
// ticket for defect reports, the closed ticket for fixes.
func (e StatusEvent) LineageTicket() ServiceTicketID {
	if e.Status == AssetStatusWorking && e.ResolvesTicketID != nil {
		return *e.ResolvesTicketID
	}
	return e.ServiceTicketID
}

// After reports whether e sorts after other in an asset's history.
func (e StatusEvent) After(other StatusEvent) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.After(other.OccurredAt)
	}
	return e.Serial > other.Serial
}

// LatestPerAsset keeps the most recent event of each asset: max OccurredAt, ties broken by
// the highest serial. The result is ordered newest first, then by room and PC.
func LatestPerAsset(events []StatusEvent) []StatusEvent {
	latest := make(map[AssetKey]StatusEvent, len(events))
	for _, ev := range events {
		cur, ok := latest[ev.Key()]
		if !ok || ev.After(cur) {
			latest[ev.Key()] = ev
		}
	}
	out := make([]StatusEvent, 0, len(latest))
	for _, ev := range latest {
		out = append(out, ev)
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders events by OccurredAt descending with a stable key for ties.
func SortNewestFirst(events []StatusEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		if a.Serial != b.Serial {
			return a.Serial > b.Serial
		}
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		return a.PCNumber < b.PCNumber
	})
}
