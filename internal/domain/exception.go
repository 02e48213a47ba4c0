package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Interval is a half-open UTC span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(start, end time.Time) bool {
	return start.Before(iv.End) && end.After(iv.Start)
}

// Exception is an owner-declared blackout interval on a definition.
// StartLocal and EndLocal hold wall-clock datetimes interpreted in the owning
// definition's timezone; only their calendar fields are meaningful. For a
// recurring exception they describe the first occurrence, whose time-of-day
// and day-span are replicated on every expanded occurrence date.
type Exception struct {
	bun.BaseModel `bun:"table:availability_exceptions"`

	ID           uuid.UUID          `bun:"id,pk,type:uuid"`
	OwnerID      string             `bun:"owner_id,notnull"`
	DefinitionID uuid.UUID          `bun:"definition_id,notnull,type:uuid"`
	StartLocal   time.Time          `bun:"start_local,notnull"`
	EndLocal     time.Time          `bun:"end_local,notnull"`
	Recurring    bool               `bun:"recurring,notnull"`
	Recurrence   *RecurrencePattern `bun:"recurrence,type:jsonb"`
	CreatedAt    time.Time          `bun:"created_at,notnull"`
	UpdatedAt    time.Time          `bun:"updated_at,notnull"`
}

func (e *Exception) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		e.UpdatedAt = now
	}
	return nil
}

func (e Exception) Validate() error {
	if !e.EndLocal.After(e.StartLocal) {
		return errors.New("end must be after start")
	}
	if e.Recurring {
		if e.Recurrence == nil {
			return errors.New("recurring exception requires a recurrence pattern")
		}
		return e.Recurrence.Validate()
	}
	if e.Recurrence != nil {
		return errors.New("recurrence pattern is only valid on a recurring exception")
	}
	return nil
}

// BlockedIntervals expands the exception into the UTC intervals it blocks
// inside [windowStart, windowEnd). A non-recurring exception contributes its
// single interval; a recurring one contributes one interval per expanded
// occurrence date, anchored at the first occurrence's local time-of-day.
func (e Exception) BlockedIntervals(loc *time.Location, windowStart, windowEnd time.Time) ([]Interval, error) {
	if !e.Recurring {
		iv := Interval{
			Start: localize(e.StartLocal, loc).UTC(),
			End:   localize(e.EndLocal, loc).UTC(),
		}
		if !iv.Overlaps(windowStart, windowEnd) {
			return nil, nil
		}
		return []Interval{iv}, nil
	}

	anchor := civilDate(e.StartLocal)
	// Expand over local dates; an occurrence whose date precedes the window
	// can still overlap it, so widen the date range by the exception's span.
	daySpan := civilDate(e.EndLocal).Sub(civilDate(e.StartLocal)) / (24 * time.Hour)
	expandStart := civilDate(windowStart.In(loc)).AddDate(0, 0, -int(daySpan)-1)
	expandEnd := civilDate(windowEnd.In(loc)).AddDate(0, 0, 1)

	dates, err := ExpandRecurrence(*e.Recurrence, anchor, expandStart, expandEnd)
	if err != nil {
		return nil, err
	}

	out := make([]Interval, 0, len(dates))
	for _, d := range dates {
		start := time.Date(d.Year(), d.Month(), d.Day(),
			e.StartLocal.Hour(), e.StartLocal.Minute(), 0, 0, loc)
		endDay := d.AddDate(0, 0, int(daySpan))
		end := time.Date(endDay.Year(), endDay.Month(), endDay.Day(),
			e.EndLocal.Hour(), e.EndLocal.Minute(), 0, 0, loc)
		iv := Interval{Start: start.UTC(), End: end.UTC()}
		if iv.Overlaps(windowStart, windowEnd) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// localize reinterprets the wall-clock fields of t in loc.
func localize(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
