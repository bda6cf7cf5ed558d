package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleActiveAt(t *testing.T) {
	// Mon-Fri 09:00-17:30. Sunday is bit 0.
	weekdays := 0
	for d := 1; d <= 5; d++ {
		weekdays |= 1 << d
	}
	s := Schedule{Days: weekdays, StartMinute: 9 * 60, EndMinute: 17*60 + 30, Enabled: true}

	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "inside_window", at: monday.Add(10 * time.Hour), want: true},
		{name: "window_start", at: monday.Add(9 * time.Hour), want: true},
		{name: "window_end_exclusive", at: monday.Add(17*time.Hour + 30*time.Minute), want: false},
		{name: "before_window", at: monday.Add(8 * time.Hour), want: false},
		{name: "sunday_not_in_mask", at: monday.AddDate(0, 0, 6).Add(10 * time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.ActiveAt(tt.at))
		})
	}

	s.Enabled = false
	assert.False(t, s.ActiveAt(monday.Add(10*time.Hour)), "disabled schedule never activates")
}

func TestScheduleWrapsPastMidnight(t *testing.T) {
	// Every day 22:00-06:00.
	s := Schedule{Days: 0x7F, StartMinute: 22 * 60, EndMinute: 6 * 60, Enabled: true}

	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.True(t, s.ActiveAt(day.Add(23*time.Hour)))
	assert.True(t, s.ActiveAt(day.Add(2*time.Hour)))
	assert.False(t, s.ActiveAt(day.Add(12*time.Hour)))
}

func TestLevelForXP(t *testing.T) {
	assert.Equal(t, 1, LevelForXP(0))
	assert.Equal(t, 1, LevelForXP(999))
	assert.Equal(t, 2, LevelForXP(1000))
	assert.Equal(t, 6, LevelForXP(5500))
}
