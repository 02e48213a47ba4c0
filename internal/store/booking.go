package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotforge/internal/domain"
)

// BookingTx is the transactional surface the lifecycle manager works
// through. Every method that changes state is conditional on the current
// state so the auto-rejection sweep and explicit actions cannot both win the
// same transition.
type BookingTx interface {
	GetSlot(ctx context.Context, slotID uuid.UUID) (domain.TimeSlot, error)
	// ClaimSlot transitions the slot available -> booked and attaches the
	// booking reference. Returns ErrConflict if the slot is no longer
	// available.
	ClaimSlot(ctx context.Context, slotID, bookingID uuid.UUID) error
	// ReleaseSlot transitions the slot booked -> available and detaches the
	// booking reference.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	// UpdateBooking writes b conditional on the row still being in the
	// expected status; ErrConflict when the condition no longer holds.
	UpdateBooking(ctx context.Context, b domain.Booking, expect domain.BookingStatus) (domain.Booking, error)
}

type BookingRepository interface {
	// InOwnerTransaction serializes against other mutations of the same
	// owner's calendar and runs fn inside one storage transaction.
	InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx BookingTx) error) error

	GetSlot(ctx context.Context, slotID uuid.UUID) (domain.TimeSlot, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	ListBookingsByClient(ctx context.Context, clientID string) ([]domain.Booking, error)
	ListBookingsByProvider(ctx context.Context, providerID string) ([]domain.Booking, error)

	// FindExpiredPending lists pending bookings whose auto-rejection
	// deadline has passed, for the sweep worker.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)

	// SetInvoiceRef records the external invoice reference after the
	// billing collaborator accepted the invoice. Best-effort metadata.
	SetInvoiceRef(ctx context.Context, bookingID uuid.UUID, ref string) error
}
