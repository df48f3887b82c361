package accruals

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// Verify compares each record's posted lines against what the posting rules
// would write now. A nil ledger checks every ledger.
func (s *Service) Verify(ctx context.Context, ledgerID *uuid.UUID) ([]Mismatch, error) {
	sources, err := s.repo.ListSources(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	posted, err := s.repo.PostedTotals(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	var out []Mismatch
	for _, src := range sources {
		byAccount := posted[src.RecordID]
		ruled := make(map[Account]struct{}, len(s.rules))
		for _, rule := range s.rules {
			ruled[rule.Account] = struct{}{}
			expected := rule.Amount(src)
			if got := byAccount[rule.Account]; got != expected {
				out = append(out, Mismatch{RecordID: src.RecordID, BookingID: src.BookingID, LedgerID: src.LedgerID,
					Account: rule.Account, Expected: expected, Posted: got})
			}
		}
		for account, got := range byAccount {
			if _, ok := ruled[account]; ok || got == 0 {
				continue
			}
			out = append(out, Mismatch{RecordID: src.RecordID, BookingID: src.BookingID, LedgerID: src.LedgerID,
				Account: account, Expected: 0, Posted: got})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RecordID != out[j].RecordID {
			return out[i].RecordID.String() < out[j].RecordID.String()
		}
		return out[i].Account < out[j].Account
	})
	return out, nil
}
