package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusRejected       BookingStatus = "rejected"
	BookingStatusCancelled      BookingStatus = "cancelled"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusNoShowClient   BookingStatus = "no_show_client"
	BookingStatusNoShowProvider BookingStatus = "no_show_provider"
)

type ParticipantRole string

const (
	RoleClient   ParticipantRole = "client"
	RoleProvider ParticipantRole = "provider"
	RoleSystem   ParticipantRole = "system"
)

const (
	// AutoRejectAfter is how long an unconfirmed request stays pending
	// before the sweep worker rejects it and releases the slot.
	AutoRejectAfter = 15 * time.Minute

	// ProviderNoShowDelay is how long past the scheduled start the client
	// must wait before marking the provider a no-show.
	ProviderNoShowDelay = 5 * time.Minute

	// ClientNoShowDelay is the provider-side equivalent for marking the
	// client a no-show.
	ClientNoShowDelay = 10 * time.Minute

	MaxReasonLength = 500
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending: {
		BookingStatusConfirmed,
		BookingStatusRejected,
	},
	BookingStatusConfirmed: {
		BookingStatusCancelled,
		BookingStatusCompleted,
		BookingStatusNoShowClient,
		BookingStatusNoShowProvider,
	},
}

func CanTransition(from, to BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

// Booking is a client's reservation of a slot against a provider.
// ScheduledAt and DurationMinutes are snapshotted from the slot at claim
// time so later regeneration cannot alter the recorded appointment time.
// Bookings are never deleted; they only move through the state machine.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              uuid.UUID      `bun:"id,pk,type:uuid"`
	ClientID        string         `bun:"client_id,notnull"`
	ProviderID      string         `bun:"provider_id,notnull"`
	SlotID          uuid.UUID      `bun:"slot_id,notnull,type:uuid"`
	DefinitionID    uuid.UUID      `bun:"definition_id,notnull,type:uuid"`
	LocationType    string         `bun:"location_type,notnull"`
	Reason          string         `bun:"reason"`
	Status          BookingStatus  `bun:"status,notnull"`
	ScheduledAt     time.Time      `bun:"scheduled_at,notnull"`
	DurationMinutes int            `bun:"duration_minutes,notnull"`
	PriceMinorUnits *int64         `bun:"price_minor_units"`
	Currency        string         `bun:"currency"`
	FormResponses   map[string]any `bun:"form_responses,type:jsonb"`

	// Pending bookings carry the auto-rejection deadline; the field is
	// cleared once the booking is explicitly resolved.
	ExpiresAt *time.Time `bun:"expires_at"`

	RejectedBy               *ParticipantRole `bun:"rejected_by"`
	CancelledBy              *ParticipantRole `bun:"cancelled_by"`
	CancellationReason       *string          `bun:"cancellation_reason"`
	CancelledAt              *time.Time       `bun:"cancelled_at"`
	CancelledWithinThreshold *bool            `bun:"cancelled_within_threshold"`
	NoShowMarkedBy           *ParticipantRole `bun:"no_show_marked_by"`
	NoShowMarkedAt           *time.Time       `bun:"no_show_marked_at"`
	InvoiceRef               *string          `bun:"invoice_ref"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Booking) ScheduledEnd() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}
