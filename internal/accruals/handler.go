package accruals

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/allocation"
	"github.com/odyssey-erp/stayledger/internal/platform/httpx"
	"github.com/odyssey-erp/stayledger/internal/shared"
)

type service interface {
	PostRecord(ctx context.Context, recordID uuid.UUID) (PostResult, error)
	UnpostRecord(ctx context.Context, recordID uuid.UUID) (int, error)
	RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error)
	MonthlySummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)
	Verify(ctx context.Context, ledgerID *uuid.UUID) ([]Mismatch, error)
}

type runner interface {
	Run(ctx context.Context, ids []uuid.UUID) BatchReport
}

// Handler wires accrual endpoints.
type Handler struct {
	logger    *slog.Logger
	service   service
	batch     runner
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, svc service, batch runner) *Handler {
	return &Handler{logger: logger, service: svc, batch: batch, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the accruals module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accruals/records/{id}/post", h.postRecord)
	r.Delete("/accruals/records/{id}/lines", h.unpostRecord)
	r.Post("/accruals/run", h.run)
	r.Get("/accruals/summary", h.summary)
	r.Get("/accruals/verify", h.verify)
}

type runRequest struct {
	LedgerID string `json:"ledger_id" validate:"required,uuid"`
	From     string `json:"from" validate:"required,datetime=2006-01"`
	To       string `json:"to" validate:"required,datetime=2006-01"`
}

// PostResponse is the JSON form of a PostResult.
type PostResponse struct {
	RecordID            string   `json:"record_id"`
	LedgerID            string   `json:"ledger_id"`
	Timezone            string   `json:"timezone"`
	PostedLines         int      `json:"posted_lines"`
	MonthsTouched       int      `json:"months_touched"`
	Months              []string `json:"months"`
	TotalAllocatedCents int64    `json:"total_allocated_cents"`
	Created             int      `json:"created"`
	Updated             int      `json:"updated"`
	Removed             int      `json:"removed"`
}

// FailureResponse is one failed record of a batch.
type FailureResponse struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// RunResponse is the JSON form of a BatchReport.
type RunResponse struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Lines     int               `json:"lines"`
	Failures  []FailureResponse `json:"failures,omitempty"`
}

type summaryResponse struct {
	LedgerID    string `json:"ledger_id"`
	LedgerName  string `json:"ledger_name"`
	Month       string `json:"month"`
	Account     string `json:"account"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Lines       int    `json:"lines"`
}

type mismatchResponse struct {
	RecordID  string `json:"record_id"`
	BookingID string `json:"booking_id"`
	LedgerID  string `json:"ledger_id"`
	Account   string `json:"account"`
	Expected  int64  `json:"expected_cents"`
	Posted    int64  `json:"posted_cents"`
}

func (h *Handler) postRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("accruals: invalid record id"))
		return
	}
	result, err := h.service.PostRecord(r.Context(), id)
	if err != nil {
		h.fail(w, "post accruals for record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToPostResponse(result))
}

func (h *Handler) unpostRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("accruals: invalid record id"))
		return
	}
	removed, err := h.service.UnpostRecord(r.Context(), id)
	if err != nil {
		h.fail(w, "unpost record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"record_id": id.String(), "removed": removed})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ledgerID := uuid.MustParse(req.LedgerID)
	from, _ := ParseMonth(req.From)
	to, _ := ParseMonth(req.To)
	ids, err := h.service.RecordIDsForRange(r.Context(), ledgerID, from, to)
	if err != nil {
		h.fail(w, "select records for range", err)
		return
	}
	report := h.batch.Run(r.Context(), ids)
	h.logger.Info("accrual batch finished",
		slog.String("ledger_id", ledgerID.String()),
		slog.Int("total", report.Total),
		slog.Int("failed", report.Failed),
	)
	httpx.JSON(w, http.StatusOK, ToRunResponse(report))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := summaryFilterFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.MonthlySummary(r.Context(), filter)
	if err != nil {
		h.fail(w, "monthly summary", err)
		return
	}
	out := make([]summaryResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, summaryResponse{
			LedgerID:    row.LedgerID.String(),
			LedgerName:  row.LedgerName,
			Month:       row.Month.Format("2006-01"),
			Account:     string(row.Account),
			AmountCents: row.AmountCents,
			Amount:      allocation.Format(row.AmountCents),
			Lines:       row.Lines,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	ledgerID, err := optionalLedger(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	mismatches, err := h.service.Verify(r.Context(), ledgerID)
	if err != nil {
		h.fail(w, "verify accruals", err)
		return
	}
	out := make([]mismatchResponse, 0, len(mismatches))
	for _, m := range mismatches {
		out = append(out, mismatchResponse{
			RecordID:  m.RecordID.String(),
			BookingID: m.BookingID.String(),
			LedgerID:  m.LedgerID.String(),
			Account:   string(m.Account),
			Expected:  m.Expected,
			Posted:    m.Posted,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": len(out) == 0, "mismatches": out})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func summaryFilterFrom(r *http.Request) (SummaryFilter, error) {
	var filter SummaryFilter
	ledgerID, err := optionalLedger(r)
	if err != nil {
		return filter, err
	}
	filter.LedgerID = ledgerID
	q := r.URL.Query()
	if v := q.Get("account"); v != "" {
		filter.Account = Account(strings.ToUpper(v))
	}
	if v := q.Get("from"); v != "" {
		if filter.From, err = ParseMonth(v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = ParseMonth(v); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func optionalLedger(r *http.Request) (*uuid.UUID, error) {
	v := r.URL.Query().Get("ledger_id")
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, shared.Invalid("accruals: invalid ledger_id")
	}
	return &id, nil
}

// ToPostResponse renders a PostResult for JSON output.
func ToPostResponse(result PostResult) PostResponse {
	return PostResponse{
		RecordID:            result.RecordID.String(),
		LedgerID:            result.LedgerID.String(),
		Timezone:            result.Timezone,
		PostedLines:         result.PostedLines,
		MonthsTouched:       result.MonthsTouched,
		Months:              result.Months,
		TotalAllocatedCents: result.TotalAllocatedCents,
		Created:             result.Created,
		Updated:             result.Updated,
		Removed:             result.Removed,
	}
}

// ToRunResponse renders a BatchReport for JSON output.
func ToRunResponse(report BatchReport) RunResponse {
	resp := RunResponse{Total: report.Total, Succeeded: report.Succeeded, Failed: report.Failed, Lines: report.Lines}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, FailureResponse{RecordID: f.RecordID.String(), Error: f.Err.Error()})
	}
	return resp
}
