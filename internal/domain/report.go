package domain

import "time"

// ReportView selects between the latest-per-asset and the full history projection.
type ReportView string

const (
	ReportViewCurrent ReportView = "current"
	ReportViewAudit   ReportView = "audit"
)

// Display statuses derived for report rows.
const (
	DisplayStatusFixed       = "Fixed"
	DisplayStatusUnderRepair = "Under Repair"
)

// ReportFilter narrows report queries. To acts as the "as of" instant for the current view.
type ReportFilter struct {
	From   *time.Time
	To     *time.Time
	RoomID *string
}

// Contains reports whether t falls inside the filter window.
func (f ReportFilter) Contains(t time.Time) bool {
	if f.From != nil && t.Before(*f.From) {
		return false
	}
	if f.To != nil && t.After(*f.To) {
		return false
	}
	return true
}

// ReportRow is one logical record of a report projection.
type ReportRow struct {
	ServiceTicketID ServiceTicketID `json:"serviceTicketID"`
	LineageTicketID ServiceTicketID `json:"lineageTicketID"`
	CheckDate       time.Time       `json:"checkDate"`
	RoomID          string          `json:"roomID"`
	PCNumber        string          `json:"pcNumber"`
	Status          AssetStatus     `json:"status"`
	DisplayStatus   string          `json:"displayStatus"`
	Issues          []string        `json:"issues"`
	FixedOn         *time.Time      `json:"fixedOn"`
	FixedByID       *int64          `json:"fixedById"`
	FixedBy         string          `json:"fixedBy"`
	RecordedByID    int64           `json:"recordedById"`
	RecordedBy      string          `json:"recordedBy"`
}

// IssueCatalogue lists the defect tags offered by the technician UI.
var IssueCatalogue = []string{
	"Mouse",
	"Keyboard",
	"Monitor",
	"Operating System",
	"Memory",
	"CPU",
	"GPU",
	"Network",
	"Other",
}
