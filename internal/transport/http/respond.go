package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"slotforge/internal/service/booking"
	"slotforge/internal/service/schedule"
	"slotforge/internal/store"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeServiceError maps engine failures to HTTP statuses. SlotUnavailable
// is retriable against a fresh slot list, OutOfBookingWindow is not, and
// the state-machine conflicts surface as 409s.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		schedValidation   *schedule.ValidationError
		bookingValidation *booking.ValidationError
		slotUnavailable   *booking.SlotUnavailableError
		outOfWindow       *booking.OutOfBookingWindowError
		illegalTransition *booking.IllegalTransitionError
		alreadyResolved   *booking.AlreadyResolvedError
	)
	switch {
	case errors.As(err, &schedValidation), errors.As(err, &bookingValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, booking.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not_allowed", err.Error())
	case errors.As(err, &slotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.As(err, &outOfWindow):
		writeError(w, http.StatusUnprocessableEntity, "out_of_booking_window", err.Error())
	case errors.As(err, &illegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.As(err, &alreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "the request conflicted with concurrent changes")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
