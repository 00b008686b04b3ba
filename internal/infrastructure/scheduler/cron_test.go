package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/pkg/timeutil"
)

func TestParseCronExpressionFields(t *testing.T) {
	ce, err := ParseCronExpression("*/15 9-17 1 * 1,3,5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 30, 45}, ce.minutes)
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14, 15, 16, 17}, ce.hours)
	assert.Equal(t, []int{1}, ce.days)
	assert.Len(t, ce.months, 12)
	assert.Equal(t, []int{1, 3, 5}, ce.weekdays)
}

func TestParseCronExpressionRejectsBadInput(t *testing.T) {
	// Wrong field counts, out-of-range values, zero steps, non-numbers.
	bad := []string{
		"",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 25 * * *",
		"* * * * 9",
		"*/0 * * * *",
		"abc * * * *",
	}
	for _, expr := range bad {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestMustParseCronExpressionPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseCronExpression("not a cron") })
	assert.NotPanics(t, func() { MustParseCronExpression(EveryMonday) })
}

func TestNextEveryMonday(t *testing.T) {
	ce := MustParseCronExpression(EveryMonday)

	// Wednesday 2026-01-07 15:30 Taipei time.
	after := time.Date(2026, 1, 7, 15, 30, 0, 0, timeutil.TaipeiTZ)
	next := ce.Next(after)

	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, timeutil.TaipeiTZ), next)
}

func TestNextIsStrictlyAfter(t *testing.T) {
	ce := MustParseCronExpression(EveryMonday)

	// Exactly Monday midnight: the next firing is the following Monday,
	// never the instant itself.
	monday := time.Date(2026, 1, 12, 0, 0, 0, 0, timeutil.TaipeiTZ)
	next := ce.Next(monday)
	assert.Equal(t, monday.AddDate(0, 0, 7), next)
}

func TestNextEveryHour(t *testing.T) {
	ce := MustParseCronExpression(EveryHour)

	after := time.Date(2026, 3, 1, 10, 17, 42, 0, time.UTC)
	next := ce.Next(after)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), next)
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(5 * time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(5*time.Minute), s.Next(now))
	assert.Equal(t, "@every 5m0s", s.String())
}
