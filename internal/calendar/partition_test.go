package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestPartitionCrossesMonthBoundaries(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	buckets := Partition(day(2025, 6, 10), ptr(day(2025, 8, 3)), loc)
	require.Equal(t, []Bucket{
		{Month: day(2025, 6, 1), Days: 21},
		{Month: day(2025, 7, 1), Days: 31},
		{Month: day(2025, 8, 1), Days: 3},
	}, buckets)
	require.Equal(t, 55, TotalDays(buckets))
	require.Equal(t, "2025-06", buckets[0].Key())
}

func TestPartitionSingleDay(t *testing.T) {
	buckets := Partition(day(2025, 3, 31), nil, time.UTC)
	require.Equal(t, []Bucket{{Month: day(2025, 3, 1), Days: 1}}, buckets)
}

func TestPartitionClampsDegenerateRange(t *testing.T) {
	buckets := Partition(day(2025, 5, 20), ptr(day(2025, 5, 2)), time.UTC)
	require.Equal(t, []Bucket{{Month: day(2025, 5, 1), Days: 1}}, buckets)

	same := Partition(day(2025, 5, 20), ptr(day(2025, 5, 20)), time.UTC)
	require.Equal(t, 1, TotalDays(same))
}

func TestPartitionMonthKeyIsLocalMonthInUTC(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	buckets := Partition(day(2025, 1, 30), ptr(day(2025, 2, 2)), tokyo)
	require.Len(t, buckets, 2)
	require.Equal(t, day(2025, 1, 1), buckets[0].Month)
	require.Equal(t, 2, buckets[0].Days)
	require.Equal(t, day(2025, 2, 1), buckets[1].Month)
	require.Equal(t, 2, buckets[1].Days)
	require.Equal(t, time.UTC, buckets[1].Month.Location())
}

func TestPartitionAcrossDSTTransition(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	buckets := Partition(day(2025, 3, 1), ptr(day(2025, 3, 31)), ny)
	require.Equal(t, []Bucket{{Month: day(2025, 3, 1), Days: 31}}, buckets)

	fall := Partition(day(2025, 10, 25), ptr(day(2025, 11, 5)), ny)
	require.Equal(t, 12, TotalDays(fall))
}

func TestPartitionCoverage(t *testing.T) {
	zones := []string{"UTC", "America/Los_Angeles", "Europe/Berlin", "Australia/Sydney", "Pacific/Kiritimati"}
	for _, name := range zones {
		loc, err := time.LoadLocation(name)
		require.NoError(t, err)
		start := day(2023, 11, 17)
		for offset := -3; offset < 430; offset += 7 {
			end := start.AddDate(0, 0, offset)
			want := offset + 1
			if offset <= 0 {
				want = 1
			}
			buckets := Partition(start, &end, loc)
			require.Equal(t, want, TotalDays(buckets), "zone %s offset %d", name, offset)
			for i := 1; i < len(buckets); i++ {
				require.True(t, buckets[i-1].Month.Before(buckets[i].Month))
				require.Positive(t, buckets[i].Days)
			}
		}
	}
}

func TestDayIn(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	instant := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)
	require.Equal(t, day(2025, 6, 30), DayIn(instant, la))
	require.Equal(t, day(2025, 7, 1), DayIn(instant, nil))
}

func TestLocationsResolve(t *testing.T) {
	locs, err := NewLocations("America/Los_Angeles")
	require.NoError(t, err)
	require.Equal(t, "America/Los_Angeles", locs.Default())

	loc, name, err := locs.Resolve("  ")
	require.NoError(t, err)
	require.Equal(t, "America/Los_Angeles", name)
	require.Equal(t, "America/Los_Angeles", loc.String())

	again, _, err := locs.Resolve("Europe/Paris")
	require.NoError(t, err)
	cached, _, err := locs.Resolve("Europe/Paris")
	require.NoError(t, err)
	require.Same(t, again, cached)

	_, _, err = locs.Resolve("Mars/Olympus_Mons")
	require.ErrorIs(t, err, ErrUnknownTimezone)

	_, err = NewLocations("Not/AZone")
	require.ErrorIs(t, err, ErrUnknownTimezone)
}
