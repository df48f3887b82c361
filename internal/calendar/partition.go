// Package calendar splits stay ranges into calendar-month buckets.
package calendar

import "time"

// Bucket counts the local days of a range that fall into one calendar month.
type Bucket struct {
	// Month is the canonical month key: the first instant of the local
	// calendar month, expressed in UTC.
	Month time.Time
	Days  int
}

// Key formats the bucket month as YYYY-MM.
func (b Bucket) Key() string {
	return b.Month.Format("2006-01")
}

// MonthKey returns the canonical UTC month key for the local month containing day.
func MonthKey(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// Partition splits [start, end] into month buckets, both days inclusive.
// start and end are civil dates: only their year, month and day are read, and
// those are taken as local days in loc. A nil end means a single-day range and
// an end on or before start is clamped to one day.
func Partition(start time.Time, end *time.Time, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.UTC
	}
	first := localDay(start, loc)
	stop := first.AddDate(0, 0, 1)
	if end != nil {
		if last := localDay(*end, loc).AddDate(0, 0, 1); last.After(stop) {
			stop = last
		}
	}

	var buckets []Bucket
	cursor := first
	for cursor.Before(stop) {
		monthStart := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, loc)
		next := monthStart.AddDate(0, 1, 0)
		if stop.Before(next) {
			next = stop
		}
		if days := daysBetween(cursor, next); days > 0 {
			buckets = append(buckets, Bucket{Month: MonthKey(cursor.Year(), cursor.Month()), Days: days})
		}
		cursor = next
	}
	return buckets
}

// TotalDays sums the day counts of the buckets.
func TotalDays(buckets []Bucket) int {
	total := 0
	for _, b := range buckets {
		total += b.Days
	}
	return total
}

// DayIn returns the civil day of instant as observed in loc, at UTC midnight.
func DayIn(instant time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := instant.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func localDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days, immune to DST-shortened or lengthened days.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
