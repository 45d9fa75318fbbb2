package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestPerAsset(t *testing.T) {
	t0 := time.Date(2025, 6, 24, 9, 0, 0, 0, time.UTC)
	events := []StatusEvent{
		{ServiceTicketID: "A-01-Defective-000000001", Serial: 1, RoomID: "A", PCNumber: "01", OccurredAt: t0, Status: AssetStatusDefective},
		{ServiceTicketID: "A-01-Fixed-000000003", Serial: 3, RoomID: "A", PCNumber: "01", OccurredAt: t0.Add(time.Hour), Status: AssetStatusWorking},
		{ServiceTicketID: "A-02-Defective-000000002", Serial: 2, RoomID: "A", PCNumber: "02", OccurredAt: t0.Add(30 * time.Minute), Status: AssetStatusDefective},
		// same instant as serial 2: the higher serial wins
		{ServiceTicketID: "A-02-Defective-000000004", Serial: 4, RoomID: "A", PCNumber: "02", OccurredAt: t0.Add(30 * time.Minute), Status: AssetStatusDefective},
	}

	latest := LatestPerAsset(events)
	require.Len(t, latest, 2)
	assert.Equal(t, ServiceTicketID("A-01-Fixed-000000003"), latest[0].ServiceTicketID)
	assert.Equal(t, ServiceTicketID("A-02-Defective-000000004"), latest[1].ServiceTicketID)
}

func TestLineageTicket(t *testing.T) {
	defect := ServiceTicketID("A-01-Defective-000000001")
	fix := StatusEvent{ServiceTicketID: "A-01-Fixed-000000002", Status: AssetStatusWorking, ResolvesTicketID: &defect}
	assert.Equal(t, defect, fix.LineageTicket())

	report := StatusEvent{ServiceTicketID: defect, Status: AssetStatusDefective}
	assert.Equal(t, defect, report.LineageTicket())
}

func TestReportFilterContains(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	f := ReportFilter{From: &from, To: &to}

	assert.True(t, f.Contains(from))
	assert.True(t, f.Contains(to))
	assert.False(t, f.Contains(from.Add(-time.Second)))
	assert.False(t, f.Contains(to.Add(time.Second)))
	assert.True(t, ReportFilter{}.Contains(from))
}
