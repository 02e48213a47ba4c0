package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"slotforge/internal/domain"
	"slotforge/internal/service/booking"
	"slotforge/internal/service/schedule"
)

// actorHeader carries the authenticated caller's identity. Authentication
// itself happens upstream at the gateway.
const actorHeader = "X-Actor-ID"

type handlers struct {
	schedules *schedule.Service
	bookings  *booking.Service
}

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed request body")
		return false
	}
	return true
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := actorID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-ID header is required")
		return "", false
	}
	return id, true
}

func (h *handlers) createDefinition(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req definitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in := definitionInput(owner, req)
	def, err := h.schedules.CreateDefinition(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDefinitionResponse(def))
}

func definitionInput(owner string, req definitionRequest) schedule.DefinitionInput {
	effectiveFrom := time.Now().UTC()
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
	}
	return schedule.DefinitionInput{
		OwnerID:                      owner,
		Timezone:                     req.Timezone,
		LocationTypes:                req.LocationTypes,
		MinAdvanceMinutes:            req.MinAdvanceMinutes,
		MaxAdvanceDays:               req.MaxAdvanceDays,
		CancellationThresholdMinutes: req.CancellationThresholdMinutes,
		PriceMinorUnits:              req.PriceMinorUnits,
		Currency:                     req.Currency,
		EffectiveFrom:                effectiveFrom,
		EffectiveTo:                  req.EffectiveTo,
		Week:                         req.Week,
		Form:                         req.Form,
		Draft:                        req.Draft,
	}
}

func (h *handlers) getDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	def, err := h.schedules.GetDefinition(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (h *handlers) updateDefinition(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	var req definitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := h.schedules.UpdateDefinition(r.Context(), owner, id, definitionInput(owner, req))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (h *handlers) archiveDefinition(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	if err := h.schedules.ArchiveDefinition(r.Context(), owner, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) pauseDefinition(w http.ResponseWriter, r *http.Request) {
	h.changeDefinitionStatus(w, r, h.schedules.PauseDefinition)
}

func (h *handlers) activateDefinition(w http.ResponseWriter, r *http.Request) {
	h.changeDefinitionStatus(w, r, h.schedules.ActivateDefinition)
}

func (h *handlers) changeDefinitionStatus(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, ownerID string, id uuid.UUID) (domain.AvailabilityDefinition, error),
) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	def, err := fn(r.Context(), owner, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (h *handlers) createException(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	defID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	var req exceptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, okStart := parseLocalDateTime(req.StartLocal)
	end, okEnd := parseLocalDateTime(req.EndLocal)
	if !okStart || !okEnd {
		writeError(w, http.StatusBadRequest, "validation_error", "start_local and end_local must be local timestamps like 2025-03-10T09:00")
		return
	}
	exc, err := h.schedules.CreateException(r.Context(), schedule.ExceptionInput{
		OwnerID:      owner,
		DefinitionID: defID,
		StartLocal:   start,
		EndLocal:     end,
		Recurring:    req.Recurring,
		Recurrence:   req.Recurrence,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExceptionResponse(exc))
}

func (h *handlers) listExceptions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	defID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	excs, err := h.schedules.ListExceptions(r.Context(), owner, defID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]exceptionResponse, 0, len(excs))
	for _, e := range excs {
		out = append(out, toExceptionResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) deleteException(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	if err := h.schedules.DeleteException(r.Context(), owner, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listDefinitions(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	defs, err := h.schedules.ListDefinitions(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]definitionResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, toDefinitionResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	q := r.URL.Query()

	windowStart := time.Now().UTC()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "from must be RFC 3339")
			return
		}
		windowStart = t
	}
	windowEnd := windowStart.AddDate(0, 0, 30)
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "to must be RFC 3339")
			return
		}
		windowEnd = t
	}

	var status *domain.SlotStatus
	if raw := q.Get("status"); raw != "" {
		st := domain.SlotStatus(raw)
		switch st {
		case domain.SlotStatusAvailable, domain.SlotStatusBooked, domain.SlotStatusBlocked:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "validation_error", "unknown slot status")
			return
		}
	}

	slots, err := h.schedules.ListSlots(r.Context(), ownerID, windowStart, windowEnd, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	client, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := h.bookings.Create(r.Context(), booking.CreateInput{
		ClientID:      client,
		SlotID:        req.SlotID,
		LocationType:  req.LocationType,
		Reason:        req.Reason,
		FormResponses: req.FormResponses,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	b, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handlers) confirmBooking(w http.ResponseWriter, r *http.Request) {
	h.transitionBooking(w, r, h.bookings.Confirm)
}

func (h *handlers) rejectBooking(w http.ResponseWriter, r *http.Request) {
	h.transitionBooking(w, r, h.bookings.Reject)
}

func (h *handlers) markNoShow(w http.ResponseWriter, r *http.Request) {
	h.transitionBooking(w, r, h.bookings.MarkNoShow)
}

func (h *handlers) completeBooking(w http.ResponseWriter, r *http.Request) {
	h.transitionBooking(w, r, h.bookings.Complete)
}

func (h *handlers) transitionBooking(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, bookingID uuid.UUID, actorID string) (domain.Booking, error),
) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	b, err := fn(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}
	var req cancelBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := h.bookings.Cancel(r.Context(), id, actor, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handlers) listClientBookings(w http.ResponseWriter, r *http.Request) {
	h.listBookings(w, r, h.bookings.ListForClient)
}

func (h *handlers) listProviderBookings(w http.ResponseWriter, r *http.Request) {
	h.listBookings(w, r, h.bookings.ListForProvider)
}

func (h *handlers) listBookings(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, partyID string) ([]domain.Booking, error),
) {
	partyID := chi.URLParam(r, "id")
	list, err := fn(r.Context(), partyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}
