package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2:30 PM", "14:30"},
		{"09:00", "09:00"},
		{"9:00", "09:00"},
		{"9:00 AM", "09:00"},
		{"9:00am", "09:00"},
		{"12:00 AM", "00:00"},
		{"12:00 PM", "12:00"},
		{"12:30 pm", "12:30"},
		{"13:15:00", "13:15"},
		{"  5:30:45 Pm  ", "17:30"},
		{"00:00", "00:00"},
		{"23:59", "23:59"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTimeRejects(t *testing.T) {
	for _, in := range []string{
		"25:61",
		"24:00",
		"9 o'clock",
		"",
		"9",
		"930",
		"13:00 PM",
		"0:30 AM",
		"10:60",
		"10:00:75",
		"10:0",
		"ten:30",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizeTime(in)
			assert.ErrorIs(t, err, ErrInvalidTimeFormat)
		})
	}
}
