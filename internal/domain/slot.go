package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusBlocked   SlotStatus = "blocked"
)

// TimeSlot is a concrete, UTC-anchored bookable interval. (owner_id,
// start_at) is unique; that index is the storage-level double-booking guard.
type TimeSlot struct {
	bun.BaseModel `bun:"table:time_slots"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid"`
	OwnerID         string     `bun:"owner_id,notnull"`
	DefinitionID    uuid.UUID  `bun:"definition_id,notnull,type:uuid"`
	SlotDate        time.Time  `bun:"slot_date,notnull"`
	StartAt         time.Time  `bun:"start_at,notnull"`
	EndAt           time.Time  `bun:"end_at,notnull"`
	LocationTypes   []string   `bun:"location_types,array"`
	Status          SlotStatus `bun:"status,notnull"`
	PriceMinorUnits *int64     `bun:"price_minor_units"`
	BookingID       *uuid.UUID `bun:"booking_id,type:uuid"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

func (s *TimeSlot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

func (s TimeSlot) DurationMinutes() int {
	return int(s.EndAt.Sub(s.StartAt) / time.Minute)
}
