package bookings

import (
	"bytes"
	"sort"
	"time"
)

// SortRecords orders records for replay: created_at ascending, id breaking ties.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

// Reconstruct replays records into a booking snapshot. The input slice is
// not modified and its order does not matter. An empty list yields the zero
// Snapshot.
//
// The first record seeds the stay. NEW and EXTEND widen it; without a range
// end they can only move check-in. A CANCEL trims
// the tail or the head when its range covers that end of the stay; a cancel
// strictly inside the stay only adjusts totals. Every other type adjusts
// totals only.
func Reconstruct(records []Record) (Snapshot, []Inconsistency) {
	if len(records) == 0 {
		return Snapshot{}, nil
	}
	ordered := make([]Record, len(records))
	copy(ordered, records)
	SortRecords(ordered)

	var (
		snap   Snapshot
		issues []Inconsistency
	)
	for i, rec := range ordered {
		start := civil(rec.RangeStart)
		end := start
		if rec.RangeEnd != nil {
			end = civil(*rec.RangeEnd)
		}
		if !rec.Type.Valid() {
			issues = append(issues, Inconsistency{Kind: InconsistencyUnknownType, RecordID: rec.ID, Type: rec.Type})
		}

		if i == 0 {
			if rec.Type != RecordNew {
				issues = append(issues, Inconsistency{Kind: InconsistencyFirstNotNew, RecordID: rec.ID, Type: rec.Type})
			}
			snap = Snapshot{
				CheckIn:         start,
				CheckOut:        end,
				GuestTotalCents: rec.GuestDeltaCents,
				PayoutCents:     rec.PayoutDeltaCents,
			}
			continue
		}

		switch rec.Type {
		case RecordNew, RecordExtend:
			if start.Before(snap.CheckIn) {
				snap.CheckIn = start
			}
			if rec.RangeEnd != nil && end.After(snap.CheckOut) {
				snap.CheckOut = end
			}
		case RecordCancel:
			if rec.RangeEnd != nil {
				snap = trimCancelled(snap, start, end)
			}
		}
		snap.GuestTotalCents += rec.GuestDeltaCents
		snap.PayoutCents += rec.PayoutDeltaCents
	}
	return snap, issues
}

func trimCancelled(snap Snapshot, start, end time.Time) Snapshot {
	switch {
	case !start.Before(snap.CheckIn) && !end.Before(snap.CheckOut):
		if start.Before(snap.CheckOut) {
			snap.CheckOut = start
		}
	case !start.After(snap.CheckIn) && !end.After(snap.CheckOut):
		if end.After(snap.CheckIn) {
			snap.CheckIn = end
		}
	}
	return snap
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
