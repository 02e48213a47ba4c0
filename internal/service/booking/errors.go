package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotforge/internal/domain"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ErrNotAllowed is returned when the acting party is not entitled to the
// requested transition.
var ErrNotAllowed = errors.New("actor is not a party to this booking transition")

// SlotUnavailableError means the claim race was lost or the slot does not
// exist. Callers may retry against a freshly queried slot list.
type SlotUnavailableError struct {
	SlotID uuid.UUID
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s is not available", e.SlotID)
}

// OutOfBookingWindowError means the slot's start falls outside the owning
// definition's advance-booking bounds; not retriable without another slot.
type OutOfBookingWindowError struct {
	SlotID    uuid.UUID
	StartAt   time.Time
	NotBefore time.Time
	NotAfter  time.Time
}

func (e *OutOfBookingWindowError) Error() string {
	return fmt.Sprintf("slot %s starting %s is outside the booking window [%s, %s]",
		e.SlotID, e.StartAt.Format(time.RFC3339),
		e.NotBefore.Format(time.RFC3339), e.NotAfter.Format(time.RFC3339))
}

// IllegalTransitionError is a state-machine conflict: the requested target
// state is not reachable from the booking's current state.
type IllegalTransitionError struct {
	BookingID uuid.UUID
	From      domain.BookingStatus
	To        domain.BookingStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("booking %s: illegal transition %s -> %s", e.BookingID, e.From, e.To)
}

// AlreadyResolvedError is the loser's result in the race between the
// auto-rejection sweep and an explicit confirm/reject: the booking left
// pending before this action could apply, and no state was changed.
type AlreadyResolvedError struct {
	BookingID uuid.UUID
	Status    domain.BookingStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("booking %s was already resolved to %s", e.BookingID, e.Status)
}
