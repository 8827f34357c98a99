package angel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReminderTime(t *testing.T) {
	t.Parallel()
	// a Wednesday
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	est := time.FixedZone("EST", -5*60*60)
	ist := time.FixedZone("IST", 5*60*60+30*60)

	tests := []struct {
		input    string
		fireAt   time.Time
		interval time.Duration
	}{
		{input: "in 30 minutes", fireAt: now.Add(30 * time.Minute)},
		{input: "30m", fireAt: now.Add(30 * time.Minute)},
		{input: "5 minutes", fireAt: now.Add(5 * time.Minute)},
		{input: "in 2 hours", fireAt: now.Add(2 * time.Hour)},
		{input: "90 secs", fireAt: now.Add(90 * time.Second)},
		{input: "in 3 days", fireAt: now.Add(3 * day)},
		{input: "in 1 week", fireAt: now.Add(week)},
		{input: "in 1 month", fireAt: now.Add(month)},
		{input: "tomorrow at 3pm", fireAt: time.Date(2025, 1, 16, 15, 0, 0, 0, time.UTC)},
		{input: "tomorrow 3pm est", fireAt: time.Date(2025, 1, 16, 15, 0, 0, 0, est)},
		{input: "Tomorrow  at 3PM IST", fireAt: time.Date(2025, 1, 16, 15, 0, 0, 0, ist)},
		{input: "today at 18:00", fireAt: time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)},
		{input: "3pm", fireAt: time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)},
		{input: "at 9:30am", fireAt: time.Date(2025, 1, 16, 9, 30, 0, 0, time.UTC)},
		{input: "12am", fireAt: time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		{input: "2025-12-25 15:30", fireAt: time.Date(2025, 12, 25, 15, 30, 0, 0, time.UTC)},
		{input: "2025-12-25 15:30 est", fireAt: time.Date(2025, 12, 25, 15, 30, 0, 0, est)},
		{
			input:    "daily at 9am",
			fireAt:   time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC),
			interval: day,
		},
		{
			input:    "everyday at 11:30",
			fireAt:   time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC),
			interval: day,
		},
		{
			input:    "daily at 9am est",
			fireAt:   time.Date(2025, 1, 15, 9, 0, 0, 0, est),
			interval: day,
		},
		{
			input:    "every 2 days at 20:00",
			fireAt:   time.Date(2025, 1, 15, 20, 0, 0, 0, time.UTC),
			interval: 2 * day,
		},
		{
			input:    "every other day at 8am",
			fireAt:   time.Date(2025, 1, 17, 8, 0, 0, 0, time.UTC),
			interval: 2 * day,
		},
		{
			input:    "weekly on friday at 10am",
			fireAt:   time.Date(2025, 1, 17, 10, 0, 0, 0, time.UTC),
			interval: week,
		},
		{
			input:    "every week on wednesday at 9am",
			fireAt:   time.Date(2025, 1, 22, 9, 0, 0, 0, time.UTC),
			interval: week,
		},
		{
			input:    "weekly at 10am",
			fireAt:   time.Date(2025, 1, 22, 10, 0, 0, 0, time.UTC),
			interval: week,
		},
		{input: "every 30 minutes", fireAt: now.Add(30 * time.Minute), interval: 30 * time.Minute},
		{input: "every 4 hours", fireAt: now.Add(4 * time.Hour), interval: 4 * time.Hour},
	}

	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				schedule, err := ParseReminderTime(tc.input, now)
				require.NoError(t, err)
				assert.True(
					t,
					tc.fireAt.Equal(schedule.FireAt),
					"expected %s, got %s", tc.fireAt.UTC(), schedule.FireAt,
				)
				assert.Equal(t, time.UTC, schedule.FireAt.Location())
				assert.Equal(t, tc.interval, schedule.Interval)
				assert.Equal(t, tc.interval > 0, schedule.Recurring())
				assert.Equal(t, tc.input, schedule.Pattern)
			},
		)
	}
}

func TestParseReminderTime_Errors(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input  string
		expect error
	}{
		{input: "", expect: ErrInvalidReminderTime},
		{input: "   ", expect: ErrInvalidReminderTime},
		{input: "today at 9am", expect: ErrReminderInPast},
		{input: "2024-01-01 10:00", expect: ErrReminderInPast},
		{input: "13pm", expect: ErrInvalidReminderTime},
		{input: "25:00", expect: ErrInvalidReminderTime},
		{input: "tomorrow at 10:75", expect: ErrInvalidReminderTime},
		{input: "in 0 minutes", expect: ErrInvalidReminderTime},
		{input: "in 99999 weeks", expect: ErrInvalidReminderTime},
		{input: "every 0 minutes", expect: ErrInvalidInterval},
		{input: "every 400 days at 9am", expect: ErrInvalidInterval},
		{input: "every 5124096 hours", expect: ErrInvalidInterval},
		{input: "every 3000000 hours", expect: ErrInvalidInterval},
		{input: "every 525601 minutes", expect: ErrInvalidInterval},
		{input: "every 99999999999999999999 minutes", expect: ErrInvalidInterval},
		{input: "blorptastic", expect: ErrInvalidReminderTime},
	}

	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				_, err := ParseReminderTime(tc.input, now)
				require.ErrorIs(t, err, tc.expect)

				var validationErr *ValidationError
				require.True(t, errors.As(err, &validationErr))
				assert.NotEmpty(t, validationErr.Message)
			},
		)
	}
}

func TestFormatTimeUntil(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		30 * time.Second:             "less than a minute",
		90 * time.Second:             "1 minute",
		45 * time.Minute:             "45 minutes",
		2*time.Hour + 30*time.Minute: "2 hours, 30 minutes",
		49 * time.Hour:               "2 days, 1 hour",
		3*day + 5*time.Minute:        "3 days, 5 minutes",
	}
	for d, expect := range tests {
		assert.Equal(t, expect, FormatTimeUntil(d), d.String())
	}
}

func TestDescribeInterval(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		0:                "once",
		day:              "every day",
		2 * day:          "every 2 days",
		week:             "every week",
		2 * week:         "every 2 weeks",
		time.Hour:        "every hour",
		90 * time.Minute: "every 90 minutes",
	}
	for d, expect := range tests {
		assert.Equal(t, expect, describeInterval(d), d.String())
	}
}
