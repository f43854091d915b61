package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsGrid(t *testing.T) {
	slots := Slots()

	require.Len(t, slots, 18)
	assert.Equal(t, "09:00", slots[0])
	assert.Equal(t, "09:30", slots[1])
	assert.Equal(t, "17:30", slots[len(slots)-1])
}

func TestOnGrid(t *testing.T) {
	tests := []struct {
		slot string
		want bool
	}{
		{"09:00", true},
		{"17:30", true},
		{"12:30", true},
		{"08:30", false},
		{"18:00", false},
		{"09:15", false},
		{"9:00", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.slot, func(t *testing.T) {
			assert.Equal(t, tt.want, OnGrid(tt.slot))
		})
	}
}

func TestBlockForNotAccepting(t *testing.T) {
	cfg := Open()
	cfg.AcceptingAppointments = false

	b := cfg.BlockFor("2026-03-01", "10:00")
	assert.True(t, b.Blocked)
	assert.Equal(t, defaultUnavailable, b.Reason)

	cfg.StatusNote = "At district camp"
	assert.Equal(t, "At district camp", cfg.BlockFor("2030-01-01", "09:00").Reason)
}

func TestBlockForLeaveRangeInclusive(t *testing.T) {
	cfg := Open()
	cfg.LeaveRanges = []LeaveRange{{StartDate: "2026-03-04", EndDate: "2026-03-06", LeaveType: "vacation", Reason: "Family visit"}}

	assert.True(t, cfg.BlockFor("2026-03-04", "09:00").Blocked)
	assert.True(t, cfg.BlockFor("2026-03-06", "17:30").Blocked)
	assert.False(t, cfg.BlockFor("2026-03-03", "09:00").Blocked)
	assert.False(t, cfg.BlockFor("2026-03-07", "09:00").Blocked)
	assert.Equal(t, "vacation: Family visit", cfg.BlockFor("2026-03-05", "11:00").Reason)
}

func TestBlockForBlockedSlotHalfOpen(t *testing.T) {
	cfg := Open()
	cfg.BlockedSlots = []BlockedSlot{{Date: "2026-03-01", StartTime: "10:00", EndTime: "11:00", Reason: "Surgery"}}

	assert.False(t, cfg.BlockFor("2026-03-01", "09:30").Blocked)
	assert.Equal(t, Block{Blocked: true, Reason: "Surgery"}, cfg.BlockFor("2026-03-01", "10:00"))
	assert.True(t, cfg.BlockFor("2026-03-01", "10:30").Blocked)
	assert.False(t, cfg.BlockFor("2026-03-01", "11:00").Blocked)
	assert.False(t, cfg.BlockFor("2026-03-02", "10:00").Blocked)
}

func TestBlockedSlotsForDateLeaveBlocksWholeDay(t *testing.T) {
	cfg := Open()
	cfg.LeaveRanges = []LeaveRange{{StartDate: "2026-03-05", EndDate: "2026-03-05", Reason: "Medical leave"}}

	blocked := cfg.BlockedSlotsForDate("2026-03-05")
	require.Len(t, blocked, 18)
	for _, slot := range Slots() {
		assert.Equal(t, "Medical leave", blocked[slot])
	}

	assert.Empty(t, cfg.BlockedSlotsForDate("2026-03-06"))
}

func TestBlockedSlotsForDateMatchesSingleSlotMode(t *testing.T) {
	cfg := Open()
	cfg.BlockedSlots = []BlockedSlot{
		{Date: "2026-03-01", StartTime: "13:00", EndTime: "14:30"},
		{Date: "2026-03-01", StartTime: "17:00", EndTime: "18:00", Reason: "Ward round"},
	}

	blocked := cfg.BlockedSlotsForDate("2026-03-01")
	assert.Len(t, blocked, 5)
	for _, slot := range Slots() {
		b := cfg.BlockFor("2026-03-01", slot)
		reason, ok := blocked[slot]
		assert.Equal(t, b.Blocked, ok, slot)
		assert.Equal(t, b.Reason, reason, slot)
	}
	assert.Equal(t, defaultBlocked, blocked["13:00"])
}

func TestNormalizeDropsMalformedEntries(t *testing.T) {
	in := Config{
		AcceptingAppointments: true,
		StatusNote:            "  available  ",
		LeaveRanges: []LeaveRange{
			{StartDate: "2026-03-05", EndDate: "2026-03-01"},
			{StartDate: "2026-3-5", EndDate: "2026-03-06"},
			{StartDate: " 2026-03-10 ", EndDate: "2026-03-12", Reason: " conference "},
			{StartDate: "2026-02-30", EndDate: "2026-03-01"},
		},
		BlockedSlots: []BlockedSlot{
			{Date: "2026-03-01", StartTime: "11:00", EndTime: "10:00"},
			{Date: "2026-03-01", StartTime: "25:00", EndTime: "26:00"},
			{Date: "2026-03-01", StartTime: "10:00", EndTime: "10:30", Reason: "call"},
		},
	}

	out := Normalize(in)

	assert.Equal(t, "available", out.StatusNote)
	require.Len(t, out.LeaveRanges, 1)
	assert.Equal(t, LeaveRange{StartDate: "2026-03-10", EndDate: "2026-03-12", Reason: "conference"}, out.LeaveRanges[0])
	require.Len(t, out.BlockedSlots, 1)
	assert.Equal(t, "10:00", out.BlockedSlots[0].StartTime)

	// input untouched
	assert.Len(t, in.LeaveRanges, 4)
}

func TestValidDate(t *testing.T) {
	assert.True(t, ValidDate("2026-03-01"))
	assert.False(t, ValidDate("2026-02-30"))
	assert.False(t, ValidDate("01-03-2026"))
	assert.False(t, ValidDate(""))
}
