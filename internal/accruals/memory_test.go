package accruals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entryKey struct {
	ledger uuid.UUID
	month  time.Time
}

type lineKey struct {
	record  uuid.UUID
	account Account
	journal uuid.UUID
}

type memoryState struct {
	sources map[uuid.UUID]Source
	broken  map[uuid.UUID]bool
	entries map[entryKey]JournalEntry
	lines   map[lineKey]JournalLine
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		sources: make(map[uuid.UUID]Source, len(s.sources)),
		broken:  make(map[uuid.UUID]bool, len(s.broken)),
		entries: make(map[entryKey]JournalEntry, len(s.entries)),
		lines:   make(map[lineKey]JournalLine, len(s.lines)),
	}
	for k, v := range s.sources {
		out.sources[k] = v
	}
	for k, v := range s.broken {
		out.broken[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	return out
}

// memoryRepo applies a transaction to a copy of the state and swaps it in on
// success, so a failing fn leaves nothing behind.
type memoryRepo struct {
	mu       sync.Mutex
	state    memoryState
	failOnce error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		sources: map[uuid.UUID]Source{},
		broken:  map[uuid.UUID]bool{},
		entries: map[entryKey]JournalEntry{},
		lines:   map[lineKey]JournalLine{},
	}}
}

func (r *memoryRepo) addSource(src Source) Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src.RecordID == uuid.Nil {
		src.RecordID = uuid.New()
	}
	if src.BookingID == uuid.Nil {
		src.BookingID = uuid.New()
	}
	r.state.sources[src.RecordID] = src
	return src
}

func (r *memoryRepo) updateSource(id uuid.UUID, fn func(*Source)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.state.sources[id]
	fn(&src)
	r.state.sources[id] = src
}

func (r *memoryRepo) source(id uuid.UUID) Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.sources[id]
}

func (r *memoryRepo) linesFor(recordID uuid.UUID) map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	months := make(map[uuid.UUID]time.Time)
	for k, e := range r.state.entries {
		months[e.ID] = k.month
	}
	out := make(map[string]int64)
	for k, line := range r.state.lines {
		if k.record == recordID {
			out[months[k.journal].Format("2006-01")] = line.AmountCents
		}
	}
	return out
}

func (r *memoryRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.entries)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOnce != nil {
		err := r.failOnce
		r.failOnce = nil
		return err
	}
	tx := &memoryTx{state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	windowEnd := to.AddDate(0, 1, 0)
	var ids []uuid.UUID
	for id, src := range r.state.sources {
		end := src.RangeStart
		if src.RangeEnd != nil {
			end = *src.RangeEnd
		}
		if src.LedgerID == ledgerID && src.RangeStart.Before(windowEnd) && !end.Before(from) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memoryRepo) MonthlySummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		ledger  uuid.UUID
		month   time.Time
		account Account
	}
	byJournal := make(map[uuid.UUID]entryKey)
	for k, e := range r.state.entries {
		byJournal[e.ID] = k
	}
	sums := make(map[key]*SummaryRow)
	for k, line := range r.state.lines {
		ek := byJournal[k.journal]
		if filter.LedgerID != nil && *filter.LedgerID != ek.ledger {
			continue
		}
		if filter.Account != "" && filter.Account != k.account {
			continue
		}
		if !filter.From.IsZero() && ek.month.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && ek.month.After(filter.To) {
			continue
		}
		sk := key{ek.ledger, ek.month, k.account}
		if sums[sk] == nil {
			sums[sk] = &SummaryRow{LedgerID: ek.ledger, Month: ek.month, Account: k.account}
		}
		sums[sk].AmountCents += line.AmountCents
		sums[sk].Lines++
	}
	var out []SummaryRow
	for _, row := range sums {
		out = append(out, *row)
	}
	return out, nil
}

func (r *memoryRepo) ListSources(ctx context.Context, ledgerID *uuid.UUID) ([]Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Source
	for id, src := range r.state.sources {
		if r.state.broken[id] {
			continue
		}
		if ledgerID != nil && *ledgerID != src.LedgerID {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func (r *memoryRepo) PostedTotals(ctx context.Context, ledgerID *uuid.UUID) (map[uuid.UUID]map[Account]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ledgers := make(map[uuid.UUID]uuid.UUID)
	for k, e := range r.state.entries {
		ledgers[e.ID] = k.ledger
	}
	out := make(map[uuid.UUID]map[Account]int64)
	for k, line := range r.state.lines {
		if ledgerID != nil && ledgers[k.journal] != *ledgerID {
			continue
		}
		if out[k.record] == nil {
			out[k.record] = make(map[Account]int64)
		}
		out[k.record][k.account] += line.AmountCents
	}
	return out, nil
}

type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) LoadSource(ctx context.Context, recordID uuid.UUID) (Source, error) {
	src, ok := tx.state.sources[recordID]
	if !ok {
		return Source{}, ErrRecordNotFound
	}
	if tx.state.broken[recordID] {
		return Source{}, ErrLedgerChain
	}
	return src, nil
}

func (tx *memoryTx) UpsertEntry(ctx context.Context, ledgerID uuid.UUID, month time.Time, memo string) (JournalEntry, error) {
	k := entryKey{ledgerID, month}
	if e, ok := tx.state.entries[k]; ok {
		return e, nil
	}
	e := JournalEntry{ID: uuid.New(), LedgerID: ledgerID, PeriodMonth: month, Memo: memo}
	tx.state.entries[k] = e
	return e, nil
}

func (tx *memoryTx) UpsertLine(ctx context.Context, line JournalLine) (UpsertOutcome, error) {
	k := lineKey{line.BookingRecordID, line.Account, line.JournalID}
	if existing, ok := tx.state.lines[k]; ok {
		existing.AmountCents = line.AmountCents
		tx.state.lines[k] = existing
		return LineUpdated, nil
	}
	line.ID = uuid.New()
	tx.state.lines[k] = line
	return LineCreated, nil
}

func (tx *memoryTx) ZeroExistingLine(ctx context.Context, ledgerID uuid.UUID, month time.Time, recordID uuid.UUID, account Account) (uuid.UUID, bool, error) {
	e, ok := tx.state.entries[entryKey{ledgerID, month}]
	if !ok {
		return uuid.Nil, false, nil
	}
	k := lineKey{recordID, account, e.ID}
	line, ok := tx.state.lines[k]
	if !ok {
		return uuid.Nil, false, nil
	}
	line.AmountCents = 0
	tx.state.lines[k] = line
	return e.ID, true, nil
}

func (tx *memoryTx) DeleteStaleLines(ctx context.Context, recordID uuid.UUID, account Account, keepJournals []uuid.UUID) (int, error) {
	keep := make(map[uuid.UUID]bool, len(keepJournals))
	for _, id := range keepJournals {
		keep[id] = true
	}
	removed := 0
	for k := range tx.state.lines {
		if k.record == recordID && k.account == account && !keep[k.journal] {
			delete(tx.state.lines, k)
			removed++
		}
	}
	return removed, nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, recordID uuid.UUID) (int, error) {
	removed := 0
	for k := range tx.state.lines {
		if k.record == recordID {
			delete(tx.state.lines, k)
			removed++
		}
	}
	return removed, nil
}

func (tx *memoryTx) SetTZSnapshot(ctx context.Context, recordID uuid.UUID, tz string) error {
	src := tx.state.sources[recordID]
	if src.TZSnapshot == "" {
		src.TZSnapshot = tz
		tx.state.sources[recordID] = src
	}
	return nil
}
