package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/api/status/defects", "POST", 201, 4*time.Millisecond)
	m.RecordRequest("/api/status/defects", "POST", 201, 2*time.Millisecond)
	m.RecordError("/api/status/fixes", "POST", "CONFLICT")
	m.RecordTransition(TransitionDefectReported)
	m.RecordFailure("resolve_fix", "CONFLICT")

	s := m.Snapshot()
	assert.EqualValues(t, 2, s.Requests["/api/status/defects|POST|201"])
	assert.EqualValues(t, 2, s.TotalRequests)
	assert.InDelta(t, 3.0, s.AvgRequestMs, 0.001)
	assert.EqualValues(t, 1, s.Errors["/api/status/fixes|POST|CONFLICT"])
	assert.EqualValues(t, 1, s.Transitions[TransitionDefectReported])
	assert.EqualValues(t, 1, s.Failures["resolve_fix|CONFLICT"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordTransition(TransitionFixResolved)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
