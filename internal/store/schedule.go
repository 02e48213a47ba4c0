package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotforge/internal/domain"
)

// ScheduleRepository persists availability definitions, their exceptions,
// and the generated slots. Mutations that touch slots run inside a per-owner
// transaction so regeneration never races a concurrent claim into deleting a
// slot that is being booked: the delete is scoped to status = 'available' at
// the same transactional boundary as the claim check.
type ScheduleRepository interface {
	CreateDefinition(ctx context.Context, def domain.AvailabilityDefinition) (domain.AvailabilityDefinition, error)
	GetDefinition(ctx context.Context, id uuid.UUID) (domain.AvailabilityDefinition, error)
	UpdateDefinition(ctx context.Context, def domain.AvailabilityDefinition) (domain.AvailabilityDefinition, error)
	// ArchiveDefinition marks the definition archived, removes its
	// exceptions, and purges its available slots. The row itself, booked
	// slots, and their bookings survive as historical record.
	ArchiveDefinition(ctx context.Context, ownerID string, id uuid.UUID) error
	// ListDefinitions returns the owner's definitions, archived ones
	// excluded.
	ListDefinitions(ctx context.Context, ownerID string) ([]domain.AvailabilityDefinition, error)

	CreateException(ctx context.Context, ex domain.Exception) (domain.Exception, error)
	GetException(ctx context.Context, id uuid.UUID) (domain.Exception, error)
	DeleteException(ctx context.Context, ownerID string, id uuid.UUID) error
	ListExceptions(ctx context.Context, definitionID uuid.UUID) ([]domain.Exception, error)

	// ReplaceAvailableSlots atomically deletes the definition's available
	// slots starting at or after from and inserts the freshly generated
	// set. Slots colliding with an existing (owner, start) row are skipped.
	ReplaceAvailableSlots(ctx context.Context, def domain.AvailabilityDefinition, from time.Time, slots []domain.TimeSlot) error
	// PurgeAvailableSlots deletes available slots for the definition with
	// start at or after from; a zero from purges them all.
	PurgeAvailableSlots(ctx context.Context, ownerID string, definitionID uuid.UUID, from time.Time) (int64, error)
	// DeleteAvailableSlotsWithin deletes available slots overlapping any of
	// the given UTC intervals.
	DeleteAvailableSlotsWithin(ctx context.Context, ownerID string, definitionID uuid.UUID, intervals []domain.Interval) (int64, error)

	ListSlots(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, status *domain.SlotStatus) ([]domain.TimeSlot, error)
}
