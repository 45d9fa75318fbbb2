package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTicket(t *testing.T) {
	assert.Equal(t, ServiceTicketID("MPO310-18-Fixed-000000170"), FormatTicket("MPO310", "18", TicketTagFixed, 170))
	assert.Equal(t, ServiceTicketID("MPO310-05-Defective-000000001"), FormatTicket("MPO310", "05", TicketTagDefective, 1))
	assert.Equal(t, ServiceTicketID("R1-1-Defective-1234567890"), FormatTicket("R1", "1", TicketTagDefective, 1234567890))
}

func TestParseTicket(t *testing.T) {
	parts, err := ParseTicket("MPO310-18-Fixed-000000170")
	require.NoError(t, err)
	assert.Equal(t, TicketParts{RoomID: "MPO310", PCNumber: "18", Tag: TicketTagFixed, Serial: 170}, parts)

	parts, err = ParseTicket("LAB-A-07-Defective-000000042")
	require.NoError(t, err)
	assert.Equal(t, "LAB-A", parts.RoomID)
	assert.Equal(t, "07", parts.PCNumber)
	assert.Equal(t, AssetKey{RoomID: "LAB-A", PCNumber: "07"}, parts.Key())

	id := FormatTicket("MPO310", "05", TicketTagDefective, 99)
	parts, err = ParseTicket(id)
	require.NoError(t, err)
	assert.Equal(t, id, FormatTicket(parts.RoomID, parts.PCNumber, parts.Tag, parts.Serial))
}

func TestParseTicket_Malformed(t *testing.T) {
	cases := []ServiceTicketID{
		"",
		"MPO310-18-000000170",
		"MPO310-18-Broken-000000170",
		"MPO310-18-Fixed-170",
		"MPO310-18-Fixed-00000017x",
		"-18-Fixed-000000170",
		"MPO310--Fixed-000000170",
	}
	for _, tc := range cases {
		_, err := ParseTicket(tc)
		assert.ErrorIs(t, err, ErrMalformedTicket, string(tc))
	}
}
