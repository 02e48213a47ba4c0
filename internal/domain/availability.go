package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"
	DefinitionStatusActive   DefinitionStatus = "active"
	DefinitionStatusPaused   DefinitionStatus = "paused"
	DefinitionStatusArchived DefinitionStatus = "archived"
)

const (
	MinSlotDurationMinutes     = 15
	MaxSlotDurationMinutes     = 480
	DefaultSlotDurationMinutes = 30
	MaxBufferMinutes           = 120
)

// TimeBlock is a contiguous local-time work period within one weekday.
// Start and end are wall-clock "HH:MM" strings interpreted in the owning
// definition's timezone.
type TimeBlock struct {
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	BufferMinutes       int    `json:"buffer_minutes"`
}

func (b TimeBlock) Validate() error {
	start, err := ParseMinuteOfDay(b.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseMinuteOfDay(b.EndTime)
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("end_time %q must be after start_time %q", b.EndTime, b.StartTime)
	}
	if b.SlotDurationMinutes != 0 && (b.SlotDurationMinutes < MinSlotDurationMinutes || b.SlotDurationMinutes > MaxSlotDurationMinutes) {
		return fmt.Errorf("slot_duration_minutes must be between %d and %d", MinSlotDurationMinutes, MaxSlotDurationMinutes)
	}
	if b.BufferMinutes < 0 || b.BufferMinutes > MaxBufferMinutes {
		return fmt.Errorf("buffer_minutes must be between 0 and %d", MaxBufferMinutes)
	}
	return nil
}

func (b TimeBlock) slotDuration() int {
	if b.SlotDurationMinutes == 0 {
		return DefaultSlotDurationMinutes
	}
	return b.SlotDurationMinutes
}

// ParseMinuteOfDay parses an "HH:MM" wall-clock string into minutes since
// midnight, rejecting anything outside 00:00-23:59.
func ParseMinuteOfDay(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hh*60 + mm, nil
}

// DailyConfig describes one weekday's working blocks.
type DailyConfig struct {
	Enabled bool        `json:"enabled"`
	Blocks  []TimeBlock `json:"blocks"`
}

type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var weekdayNames = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// WeeklySchedule maps weekday names to their DailyConfig. Stored as JSONB.
type WeeklySchedule map[Weekday]DailyConfig

func (w WeeklySchedule) For(d time.Weekday) (DailyConfig, bool) {
	dc, ok := w[weekdayNames[d]]
	return dc, ok
}

// Validate checks every block of every day and rejects overlapping blocks
// within the same day. Overlap is judged on wall-clock minutes; the engine
// would otherwise generate duplicate slots for the overlapped span.
func (w WeeklySchedule) Validate() error {
	for day, dc := range w {
		if _, ok := weekdayIndex(day); !ok {
			return fmt.Errorf("unknown weekday %q", day)
		}
		type span struct{ start, end int }
		spans := make([]span, 0, len(dc.Blocks))
		for _, b := range dc.Blocks {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			start, _ := ParseMinuteOfDay(b.StartTime)
			end, _ := ParseMinuteOfDay(b.EndTime)
			for _, s := range spans {
				if start < s.end && end > s.start {
					return fmt.Errorf("%s: time blocks overlap", day)
				}
			}
			spans = append(spans, span{start: start, end: end})
		}
	}
	return nil
}

func weekdayIndex(d Weekday) (time.Weekday, bool) {
	for wd, name := range weekdayNames {
		if name == d {
			return wd, true
		}
	}
	return 0, false
}

type FormFieldType string

const (
	FormFieldText     FormFieldType = "text"
	FormFieldTextarea FormFieldType = "textarea"
	FormFieldSelect   FormFieldType = "select"
	FormFieldCheckbox FormFieldType = "checkbox"
)

// FormField is one intake-form question attached to a definition. The variant
// is discriminated by Type; only select fields carry options.
type FormField struct {
	Type     FormFieldType `json:"type"`
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	Required bool          `json:"required"`
	Options  []string      `json:"options,omitempty"`
}

func ValidateForm(fields []FormField) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return errors.New("form field name is required")
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("duplicate form field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case FormFieldSelect:
			if len(f.Options) == 0 {
				return fmt.Errorf("form field %q: select requires options", f.Name)
			}
		case FormFieldText, FormFieldTextarea, FormFieldCheckbox:
			if len(f.Options) != 0 {
				return fmt.Errorf("form field %q: options are only valid for select", f.Name)
			}
		default:
			return fmt.Errorf("form field %q: unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// AvailabilityDefinition is an owner's recurring weekly schedule template.
type AvailabilityDefinition struct {
	bun.BaseModel `bun:"table:availability_definitions"`

	ID                           uuid.UUID        `bun:"id,pk,type:uuid"`
	OwnerID                      string           `bun:"owner_id,notnull"`
	Timezone                     string           `bun:"timezone,notnull"`
	LocationTypes                []string         `bun:"location_types,array"`
	MinAdvanceMinutes            int              `bun:"min_advance_minutes,notnull"`
	MaxAdvanceDays               int              `bun:"max_advance_days,notnull"`
	CancellationThresholdMinutes int              `bun:"cancellation_threshold_minutes,notnull"`
	PriceMinorUnits              *int64           `bun:"price_minor_units"`
	Currency                     string           `bun:"currency"`
	EffectiveFrom                time.Time        `bun:"effective_from,notnull"`
	EffectiveTo                  *time.Time       `bun:"effective_to"`
	Week                         WeeklySchedule   `bun:"week,type:jsonb"`
	Form                         []FormField      `bun:"form,type:jsonb"`
	Status                       DefinitionStatus `bun:"status,notnull"`
	CreatedAt                    time.Time        `bun:"created_at,notnull"`
	UpdatedAt                    time.Time        `bun:"updated_at,notnull"`
}

func (d *AvailabilityDefinition) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if d.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			d.ID = id
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		d.UpdatedAt = now
	}
	return nil
}
