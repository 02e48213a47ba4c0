package http

import (
	"time"

	"github.com/google/uuid"

	"slotforge/internal/domain"
)

// localDateTimeLayouts are the accepted wall-clock formats for exception
// boundaries; they carry no zone because the definition's timezone applies.
var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseLocalDateTime(s string) (time.Time, bool) {
	for _, layout := range localDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type definitionRequest struct {
	Timezone                     string                `json:"timezone"`
	LocationTypes                []string              `json:"location_types"`
	MinAdvanceMinutes            int                   `json:"min_advance_minutes"`
	MaxAdvanceDays               int                   `json:"max_advance_days"`
	CancellationThresholdMinutes int                   `json:"cancellation_threshold_minutes"`
	PriceMinorUnits              *int64                `json:"price_minor_units"`
	Currency                     string                `json:"currency"`
	EffectiveFrom                *time.Time            `json:"effective_from"`
	EffectiveTo                  *time.Time            `json:"effective_to"`
	Week                         domain.WeeklySchedule `json:"week"`
	Form                         []domain.FormField    `json:"form"`

	// Draft applies on creation only; updates never change status.
	Draft bool `json:"draft,omitempty"`
}

type definitionResponse struct {
	ID                           uuid.UUID             `json:"id"`
	OwnerID                      string                `json:"owner_id"`
	Timezone                     string                `json:"timezone"`
	LocationTypes                []string              `json:"location_types"`
	MinAdvanceMinutes            int                   `json:"min_advance_minutes"`
	MaxAdvanceDays               int                   `json:"max_advance_days"`
	CancellationThresholdMinutes int                   `json:"cancellation_threshold_minutes"`
	PriceMinorUnits              *int64                `json:"price_minor_units,omitempty"`
	Currency                     string                `json:"currency,omitempty"`
	EffectiveFrom                time.Time             `json:"effective_from"`
	EffectiveTo                  *time.Time            `json:"effective_to,omitempty"`
	Week                         domain.WeeklySchedule `json:"week"`
	Form                         []domain.FormField    `json:"form,omitempty"`
	Status                       string                `json:"status"`
	CreatedAt                    time.Time             `json:"created_at"`
	UpdatedAt                    time.Time             `json:"updated_at"`
}

func toDefinitionResponse(d domain.AvailabilityDefinition) definitionResponse {
	return definitionResponse{
		ID:                           d.ID,
		OwnerID:                      d.OwnerID,
		Timezone:                     d.Timezone,
		LocationTypes:                d.LocationTypes,
		MinAdvanceMinutes:            d.MinAdvanceMinutes,
		MaxAdvanceDays:               d.MaxAdvanceDays,
		CancellationThresholdMinutes: d.CancellationThresholdMinutes,
		PriceMinorUnits:              d.PriceMinorUnits,
		Currency:                     d.Currency,
		EffectiveFrom:                d.EffectiveFrom,
		EffectiveTo:                  d.EffectiveTo,
		Week:                         d.Week,
		Form:                         d.Form,
		Status:                       string(d.Status),
		CreatedAt:                    d.CreatedAt,
		UpdatedAt:                    d.UpdatedAt,
	}
}

type exceptionRequest struct {
	StartLocal string                    `json:"start_local"`
	EndLocal   string                    `json:"end_local"`
	Recurring  bool                      `json:"recurring"`
	Recurrence *domain.RecurrencePattern `json:"recurrence,omitempty"`
}

type exceptionResponse struct {
	ID           uuid.UUID                 `json:"id"`
	DefinitionID uuid.UUID                 `json:"definition_id"`
	StartLocal   string                    `json:"start_local"`
	EndLocal     string                    `json:"end_local"`
	Recurring    bool                      `json:"recurring"`
	Recurrence   *domain.RecurrencePattern `json:"recurrence,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

func toExceptionResponse(e domain.Exception) exceptionResponse {
	return exceptionResponse{
		ID:           e.ID,
		DefinitionID: e.DefinitionID,
		StartLocal:   e.StartLocal.Format(localDateTimeLayouts[0]),
		EndLocal:     e.EndLocal.Format(localDateTimeLayouts[0]),
		Recurring:    e.Recurring,
		Recurrence:   e.Recurrence,
		CreatedAt:    e.CreatedAt,
	}
}

type slotResponse struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         string    `json:"owner_id"`
	DefinitionID    uuid.UUID `json:"definition_id"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	LocationTypes   []string  `json:"location_types"`
	Status          string    `json:"status"`
	PriceMinorUnits *int64    `json:"price_minor_units,omitempty"`
}

func toSlotResponse(s domain.TimeSlot) slotResponse {
	return slotResponse{
		ID:              s.ID,
		OwnerID:         s.OwnerID,
		DefinitionID:    s.DefinitionID,
		StartAt:         s.StartAt,
		EndAt:           s.EndAt,
		LocationTypes:   s.LocationTypes,
		Status:          string(s.Status),
		PriceMinorUnits: s.PriceMinorUnits,
	}
}

type createBookingRequest struct {
	SlotID        uuid.UUID      `json:"slot_id"`
	LocationType  string         `json:"location_type"`
	Reason        string         `json:"reason,omitempty"`
	FormResponses map[string]any `json:"form_responses,omitempty"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type bookingResponse struct {
	ID                       uuid.UUID  `json:"id"`
	ClientID                 string     `json:"client_id"`
	ProviderID               string     `json:"provider_id"`
	SlotID                   uuid.UUID  `json:"slot_id"`
	LocationType             string     `json:"location_type"`
	Reason                   string     `json:"reason,omitempty"`
	Status                   string     `json:"status"`
	ScheduledAt              time.Time  `json:"scheduled_at"`
	DurationMinutes          int        `json:"duration_minutes"`
	PriceMinorUnits          *int64     `json:"price_minor_units,omitempty"`
	Currency                 string     `json:"currency,omitempty"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
	CancelledBy              *string    `json:"cancelled_by,omitempty"`
	CancellationReason       *string    `json:"cancellation_reason,omitempty"`
	CancelledAt              *time.Time `json:"cancelled_at,omitempty"`
	CancelledWithinThreshold *bool      `json:"cancelled_within_threshold,omitempty"`
	InvoiceRef               *string    `json:"invoice_ref,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	var cancelledBy *string
	if b.CancelledBy != nil {
		s := string(*b.CancelledBy)
		cancelledBy = &s
	}
	return bookingResponse{
		ID:                       b.ID,
		ClientID:                 b.ClientID,
		ProviderID:               b.ProviderID,
		SlotID:                   b.SlotID,
		LocationType:             b.LocationType,
		Reason:                   b.Reason,
		Status:                   string(b.Status),
		ScheduledAt:              b.ScheduledAt,
		DurationMinutes:          b.DurationMinutes,
		PriceMinorUnits:          b.PriceMinorUnits,
		Currency:                 b.Currency,
		ExpiresAt:                b.ExpiresAt,
		CancelledBy:              cancelledBy,
		CancellationReason:       b.CancellationReason,
		CancelledAt:              b.CancelledAt,
		CancelledWithinThreshold: b.CancelledWithinThreshold,
		InvoiceRef:               b.InvoiceRef,
		CreatedAt:                b.CreatedAt,
	}
}
