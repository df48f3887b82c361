package accruals

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	postFn    func(ctx context.Context, id uuid.UUID) (PostResult, error)
	unpostFn  func(ctx context.Context, id uuid.UUID) (int, error)
	rangeFn   func(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error)
	summaryFn func(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)
	verifyFn  func(ctx context.Context, ledgerID *uuid.UUID) ([]Mismatch, error)
}

func (s *stubService) PostRecord(ctx context.Context, id uuid.UUID) (PostResult, error) {
	return s.postFn(ctx, id)
}

func (s *stubService) UnpostRecord(ctx context.Context, id uuid.UUID) (int, error) {
	return s.unpostFn(ctx, id)
}

func (s *stubService) RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error) {
	return s.rangeFn(ctx, ledgerID, from, to)
}

func (s *stubService) MonthlySummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	return s.summaryFn(ctx, filter)
}

func (s *stubService) Verify(ctx context.Context, ledgerID *uuid.UUID) ([]Mismatch, error) {
	return s.verifyFn(ctx, ledgerID)
}

type stubRunner struct {
	got []uuid.UUID
}

func (r *stubRunner) Run(ctx context.Context, ids []uuid.UUID) BatchReport {
	r.got = ids
	return BatchReport{Total: len(ids), Succeeded: len(ids), Lines: 2 * len(ids)}
}

func newTestRouter(svc service, batch runner) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, batch)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHandlePostRecord(t *testing.T) {
	id := uuid.New()
	svc := &stubService{postFn: func(ctx context.Context, got uuid.UUID) (PostResult, error) {
		if got != id {
			return PostResult{}, ErrRecordNotFound
		}
		return PostResult{RecordID: id, PostedLines: 3, MonthsTouched: 3, Created: 3, TotalAllocatedCents: 5500}, nil
	}}
	router := newTestRouter(svc, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accruals/records/"+id.String()+"/post", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body PostResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 3, body.PostedLines)
	require.Equal(t, int64(5500), body.TotalAllocatedCents)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accruals/records/"+uuid.NewString()+"/post", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accruals/records/not-a-uuid/post", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleRun(t *testing.T) {
	ledger := uuid.New()
	records := []uuid.UUID{uuid.New(), uuid.New()}
	svc := &stubService{rangeFn: func(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error) {
		require.Equal(t, ledger, ledgerID)
		require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), from)
		require.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), to)
		return records, nil
	}}
	batch := &stubRunner{}
	router := newTestRouter(svc, batch)

	body := `{"ledger_id":"` + ledger.String() + `","from":"2025-06","to":"2025-08"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accruals/run", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, records, batch.got)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Succeeded)
	require.Equal(t, 4, resp.Lines)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accruals/run", strings.NewReader(`{"ledger_id":"x","from":"June","to":"2025-08"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSummary(t *testing.T) {
	ledger := uuid.New()
	svc := &stubService{summaryFn: func(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
		require.NotNil(t, filter.LedgerID)
		require.Equal(t, ledger, *filter.LedgerID)
		require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), filter.From)
		require.True(t, filter.To.IsZero())
		require.Equal(t, AccountRent, filter.Account)
		return []SummaryRow{{LedgerID: ledger, LedgerName: "Main", Month: filter.From, Account: AccountRent, AmountCents: 210050, Lines: 4}}, nil
	}}
	router := newTestRouter(svc, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/accruals/summary?ledger_id="+ledger.String()+"&from=2025-06&account=rent", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Rows []summaryResponse `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "2025-06", body.Rows[0].Month)
	require.Equal(t, "2100.50", body.Rows[0].Amount)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/accruals/summary?from=2025-6x", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleUnpostRecord(t *testing.T) {
	id := uuid.New()
	svc := &stubService{unpostFn: func(ctx context.Context, got uuid.UUID) (int, error) {
		require.Equal(t, id, got)
		return 3, nil
	}}
	router := newTestRouter(svc, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/accruals/records/"+id.String()+"/lines", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		RecordID string `json:"record_id"`
		Removed  int    `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, id.String(), body.RecordID)
	require.Equal(t, 3, body.Removed)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/accruals/records/nope/lines", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleVerify(t *testing.T) {
	record := uuid.New()
	svc := &stubService{verifyFn: func(ctx context.Context, ledgerID *uuid.UUID) ([]Mismatch, error) {
		require.Nil(t, ledgerID)
		return []Mismatch{{RecordID: record, Account: AccountRent, Expected: 100, Posted: 90}}, nil
	}}
	router := newTestRouter(svc, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/accruals/verify", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		OK         bool               `json:"ok"`
		Mismatches []mismatchResponse `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.False(t, body.OK)
	require.Equal(t, record.String(), body.Mismatches[0].RecordID)
}
