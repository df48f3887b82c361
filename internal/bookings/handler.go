package bookings

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/platform/httpx"
	"github.com/odyssey-erp/stayledger/internal/shared"
)

const dateLayout = "2006-01-02"

type service interface {
	GetBooking(ctx context.Context, bookingID uuid.UUID) (BookingDetail, error)
	ReconstructBooking(ctx context.Context, bookingID uuid.UUID) (*Snapshot, error)
	AppendRecord(ctx context.Context, in RecordInput) (ChangeResult, error)
	PatchRecord(ctx context.Context, recordID uuid.UUID, patch RecordPatch) (ChangeResult, error)
	DeleteRecord(ctx context.Context, recordID uuid.UUID, actor string) (ChangeResult, error)
}

// Handler wires booking endpoints.
type Handler struct {
	logger    *slog.Logger
	service   service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, svc service) *Handler {
	return &Handler{logger: logger, service: svc, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the bookings module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bookings/{id}", h.getBooking)
	r.Post("/bookings/{id}/reconstruct", h.reconstruct)
	r.Post("/bookings/{id}/records", h.appendRecord)
	r.Patch("/bookings/records/{id}", h.patchRecord)
	r.Delete("/bookings/records/{id}", h.deleteRecord)
}

type recordRequest struct {
	Type             string `json:"type" validate:"required,oneof=NEW UPDATE EXTEND SHORTEN CANCEL TRANSFER_IN TRANSFER_OUT"`
	RangeStart       string `json:"range_start" validate:"required,datetime=2006-01-02"`
	RangeEnd         string `json:"range_end" validate:"omitempty,datetime=2006-01-02"`
	GuestDeltaCents  int64  `json:"guest_delta_cents"`
	PayoutDeltaCents int64  `json:"payout_delta_cents"`
	Memo             string `json:"memo" validate:"max=500"`
}

type patchRequest struct {
	Type             *string `json:"type" validate:"omitempty,oneof=NEW UPDATE EXTEND SHORTEN CANCEL TRANSFER_IN TRANSFER_OUT"`
	RangeStart       *string `json:"range_start" validate:"omitempty,datetime=2006-01-02"`
	RangeEnd         *string `json:"range_end" validate:"omitempty,datetime=2006-01-02"`
	ClearRangeEnd    bool    `json:"clear_range_end"`
	GuestDeltaCents  *int64  `json:"guest_delta_cents"`
	PayoutDeltaCents *int64  `json:"payout_delta_cents"`
	Memo             *string `json:"memo" validate:"omitempty,max=500"`
}

type snapshotResponse struct {
	CheckIn         string `json:"check_in"`
	CheckOut        string `json:"check_out"`
	GuestTotalCents int64  `json:"guest_total_cents"`
	PayoutCents     int64  `json:"payout_cents"`
}

type recordResponse struct {
	ID               string  `json:"id"`
	BookingID        string  `json:"booking_id"`
	Type             string  `json:"type"`
	RangeStart       string  `json:"range_start"`
	RangeEnd         *string `json:"range_end,omitempty"`
	GuestDeltaCents  int64   `json:"guest_delta_cents"`
	PayoutDeltaCents int64   `json:"payout_delta_cents"`
	Memo             string  `json:"memo,omitempty"`
}

type bookingResponse struct {
	ID              string           `json:"id"`
	RoomID          string           `json:"room_id"`
	Status          string           `json:"status"`
	Channel         string           `json:"channel,omitempty"`
	ExternalRef     string           `json:"external_ref,omitempty"`
	CheckIn         string           `json:"check_in"`
	CheckOut        string           `json:"check_out"`
	GuestTotalCents int64            `json:"guest_total_cents"`
	PayoutCents     int64            `json:"payout_cents"`
	Records         []recordResponse `json:"records"`
}

type changeResponse struct {
	Record   recordResponse    `json:"record"`
	Snapshot *snapshotResponse `json:"snapshot,omitempty"`
	Lines    int               `json:"lines"`
	Queued   bool              `json:"queued"`
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetBooking(r.Context(), id)
	if err != nil {
		h.fail(w, "get booking", err)
		return
	}
	b := detail.Booking
	resp := bookingResponse{
		ID:              b.ID.String(),
		RoomID:          b.RoomID.String(),
		Status:          b.Status,
		Channel:         b.Channel,
		ExternalRef:     b.ExternalRef,
		CheckIn:         b.CheckIn.Format(dateLayout),
		CheckOut:        b.CheckOut.Format(dateLayout),
		GuestTotalCents: b.GuestTotalCents,
		PayoutCents:     b.PayoutCents,
		Records:         make([]recordResponse, 0, len(detail.Records)),
	}
	for _, rec := range detail.Records {
		resp.Records = append(resp.Records, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) reconstruct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.service.ReconstructBooking(r.Context(), id)
	if err != nil {
		h.fail(w, "reconstruct booking", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"booking_id": id.String(), "snapshot": toSnapshotResponse(snap)})
}

func (h *Handler) appendRecord(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, _ := time.Parse(dateLayout, req.RangeStart)
	in := RecordInput{
		BookingID:        bookingID,
		Type:             RecordType(req.Type),
		RangeStart:       start,
		GuestDeltaCents:  req.GuestDeltaCents,
		PayoutDeltaCents: req.PayoutDeltaCents,
		Memo:             req.Memo,
		Actor:            actor(r),
	}
	if req.RangeEnd != "" {
		end, _ := time.Parse(dateLayout, req.RangeEnd)
		in.RangeEnd = &end
	}
	result, err := h.service.AppendRecord(r.Context(), in)
	if err != nil {
		h.fail(w, "append booking record", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toChangeResponse(result))
}

func (h *Handler) patchRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req patchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	patch := RecordPatch{
		ClearRangeEnd:    req.ClearRangeEnd,
		GuestDeltaCents:  req.GuestDeltaCents,
		PayoutDeltaCents: req.PayoutDeltaCents,
		Memo:             req.Memo,
		Actor:            actor(r),
	}
	if req.Type != nil {
		typ := RecordType(*req.Type)
		patch.Type = &typ
	}
	if req.RangeStart != nil {
		start, _ := time.Parse(dateLayout, *req.RangeStart)
		patch.RangeStart = &start
	}
	if req.RangeEnd != nil {
		end, _ := time.Parse(dateLayout, *req.RangeEnd)
		patch.RangeEnd = &end
	}
	if patch.Empty() {
		httpx.RespondError(w, shared.Invalid("bookings: patch has no fields"))
		return
	}
	result, err := h.service.PatchRecord(r.Context(), recordID, patch)
	if err != nil {
		h.fail(w, "patch booking record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toChangeResponse(result))
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.DeleteRecord(r.Context(), recordID, actor(r))
	if err != nil {
		h.fail(w, "delete booking record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"deleted":       recordID.String(),
		"removed_lines": result.Lines,
		"snapshot":      toSnapshotResponse(result.Snapshot),
	})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.Invalid("bookings: invalid id")
	}
	return id, nil
}

func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

func toSnapshotResponse(snap *Snapshot) *snapshotResponse {
	if snap == nil {
		return nil
	}
	return &snapshotResponse{
		CheckIn:         snap.CheckIn.Format(dateLayout),
		CheckOut:        snap.CheckOut.Format(dateLayout),
		GuestTotalCents: snap.GuestTotalCents,
		PayoutCents:     snap.PayoutCents,
	}
}

func toRecordResponse(rec Record) recordResponse {
	resp := recordResponse{
		ID:               rec.ID.String(),
		BookingID:        rec.BookingID.String(),
		Type:             string(rec.Type),
		RangeStart:       rec.RangeStart.Format(dateLayout),
		GuestDeltaCents:  rec.GuestDeltaCents,
		PayoutDeltaCents: rec.PayoutDeltaCents,
		Memo:             rec.Memo,
	}
	if rec.RangeEnd != nil {
		end := rec.RangeEnd.Format(dateLayout)
		resp.RangeEnd = &end
	}
	return resp
}

func toChangeResponse(result ChangeResult) changeResponse {
	return changeResponse{
		Record:   toRecordResponse(result.Record),
		Snapshot: toSnapshotResponse(result.Snapshot),
		Lines:    result.Lines,
		Queued:   result.Queued,
	}
}
