package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchesEmptySchedule(t *testing.T) {
	var s *Schedule
	require.True(t, s.Matches(time.Now()))
	require.True(t, (&Schedule{}).Matches(time.Now()))
}

func TestMatchesAllConstraints(t *testing.T) {
	// Wednesday 2025-06-18 10:30 UTC.
	instant := time.Date(2025, time.June, 18, 10, 30, 0, 0, time.UTC)
	require.Equal(t, time.Wednesday, instant.Weekday())

	s := &Schedule{
		Days:        []int{3},
		Hours:       []int{9, 10, 11},
		Months:      []int{5},
		DaysOfMonth: []int{18},
	}
	require.True(t, s.Matches(instant))

	// Each constraint vetoes independently.
	require.False(t, (&Schedule{Days: []int{0, 6}}).Matches(instant))
	require.False(t, (&Schedule{Hours: []int{8}}).Matches(instant))
	require.False(t, (&Schedule{Months: []int{0}}).Matches(instant))
	require.False(t, (&Schedule{DaysOfMonth: []int{1}}).Matches(instant))
}

func TestMatchesMonthIsZeroBased(t *testing.T) {
	january := time.Date(2025, time.January, 5, 12, 0, 0, 0, time.UTC)
	require.True(t, (&Schedule{Months: []int{0}}).Matches(january))
	require.False(t, (&Schedule{Months: []int{1}}).Matches(january))
}

func TestValidate(t *testing.T) {
	require.NoError(t, (&Schedule{Days: []int{0, 6}, Hours: []int{0, 23}, Months: []int{0, 11}, DaysOfMonth: []int{1, 31}}).Validate())

	var fe *FieldError
	err := (&Schedule{Days: []int{7}}).Validate()
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "days", fe.Field)

	require.Error(t, (&Schedule{Hours: []int{24}}).Validate())
	require.Error(t, (&Schedule{Months: []int{12}}).Validate())
	require.Error(t, (&Schedule{DaysOfMonth: []int{0}}).Validate())
	require.Error(t, (&Schedule{DaysOfMonth: []int{32}}).Validate())
}

func TestBusinessHours(t *testing.T) {
	monday9 := time.Date(2025, time.June, 16, 9, 0, 0, 0, time.UTC)
	require.True(t, BusinessHours(monday9))

	friday1659 := time.Date(2025, time.June, 20, 16, 59, 0, 0, time.UTC)
	require.True(t, BusinessHours(friday1659))

	friday17 := time.Date(2025, time.June, 20, 17, 0, 0, 0, time.UTC)
	require.False(t, BusinessHours(friday17))

	saturday := time.Date(2025, time.June, 21, 10, 0, 0, 0, time.UTC)
	require.False(t, BusinessHours(saturday))

	monday850 := time.Date(2025, time.June, 16, 8, 50, 0, 0, time.UTC)
	require.False(t, BusinessHours(monday850))
}
