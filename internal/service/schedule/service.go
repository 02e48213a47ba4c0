package schedule

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotforge/internal/domain"
	"slotforge/internal/metrics"
	"slotforge/internal/store"
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

type Service struct {
	repo store.ScheduleRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo store.ScheduleRepository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type DefinitionInput struct {
	OwnerID                      string
	Timezone                     string
	LocationTypes                []string
	MinAdvanceMinutes            int
	MaxAdvanceDays               int
	CancellationThresholdMinutes int
	PriceMinorUnits              *int64
	Currency                     string
	EffectiveFrom                time.Time
	EffectiveTo                  *time.Time
	Week                         domain.WeeklySchedule
	Form                         []domain.FormField

	// Draft creates the definition without generating slots; it becomes
	// bookable through ActivateDefinition.
	Draft bool
}

func (s *Service) validateDefinitionInput(in DefinitionInput) error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return validationError("owner_id is required")
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		return validationError("timezone is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return validationError("invalid timezone")
	}
	if in.MinAdvanceMinutes < 0 {
		return validationError("min_advance_minutes must not be negative")
	}
	if in.MaxAdvanceDays < 1 {
		return validationError("max_advance_days must be at least 1")
	}
	if in.CancellationThresholdMinutes < 0 {
		return validationError("cancellation_threshold_minutes must not be negative")
	}
	if in.PriceMinorUnits != nil {
		if *in.PriceMinorUnits < 0 {
			return validationError("price must not be negative")
		}
		if strings.TrimSpace(in.Currency) == "" {
			return validationError("currency is required when a price is set")
		}
	}
	if in.EffectiveTo != nil && !in.EffectiveTo.After(in.EffectiveFrom) {
		return validationError("effective_to must be after effective_from")
	}
	for _, lt := range in.LocationTypes {
		if strings.TrimSpace(lt) == "" {
			return validationError("location types must not be empty")
		}
	}
	if err := in.Week.Validate(); err != nil {
		return validationError(err.Error())
	}
	if err := domain.ValidateForm(in.Form); err != nil {
		return validationError(err.Error())
	}
	return nil
}

func (s *Service) CreateDefinition(ctx context.Context, in DefinitionInput) (domain.AvailabilityDefinition, error) {
	if err := s.validateDefinitionInput(in); err != nil {
		return domain.AvailabilityDefinition{}, err
	}

	effectiveFrom := in.EffectiveFrom.UTC()
	if effectiveFrom.IsZero() {
		effectiveFrom = s.now()
	}
	status := domain.DefinitionStatusActive
	if in.Draft {
		status = domain.DefinitionStatusDraft
	}

	def := domain.AvailabilityDefinition{
		OwnerID:                      in.OwnerID,
		Timezone:                     strings.TrimSpace(in.Timezone),
		LocationTypes:                in.LocationTypes,
		MinAdvanceMinutes:            in.MinAdvanceMinutes,
		MaxAdvanceDays:               in.MaxAdvanceDays,
		CancellationThresholdMinutes: in.CancellationThresholdMinutes,
		PriceMinorUnits:              in.PriceMinorUnits,
		Currency:                     in.Currency,
		EffectiveFrom:                effectiveFrom,
		EffectiveTo:                  in.EffectiveTo,
		Week:                         in.Week,
		Form:                         in.Form,
		Status:                       status,
	}

	created, err := s.repo.CreateDefinition(ctx, def)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	if created.Status == domain.DefinitionStatusActive {
		if err := s.Regenerate(ctx, created); err != nil {
			return domain.AvailabilityDefinition{}, err
		}
	}
	return created, nil
}

// UpdateDefinition replaces the mutable fields of a definition. Status is
// changed through Pause/Activate/Delete, not here. Changes to generation
// fields (week, timezone, effective dates) regenerate slots from the
// effective boundary; form, location-type, price, and advance-bound changes
// leave already-generated slots alone.
func (s *Service) UpdateDefinition(ctx context.Context, ownerID string, id uuid.UUID, in DefinitionInput) (domain.AvailabilityDefinition, error) {
	if err := s.validateDefinitionInput(in); err != nil {
		return domain.AvailabilityDefinition{}, err
	}

	existing, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	if existing.OwnerID != ownerID {
		return domain.AvailabilityDefinition{}, store.ErrNotFound
	}

	updated := existing
	updated.Timezone = strings.TrimSpace(in.Timezone)
	updated.LocationTypes = in.LocationTypes
	updated.MinAdvanceMinutes = in.MinAdvanceMinutes
	updated.MaxAdvanceDays = in.MaxAdvanceDays
	updated.CancellationThresholdMinutes = in.CancellationThresholdMinutes
	updated.PriceMinorUnits = in.PriceMinorUnits
	updated.Currency = in.Currency
	if !in.EffectiveFrom.IsZero() {
		updated.EffectiveFrom = in.EffectiveFrom.UTC()
	}
	updated.EffectiveTo = in.EffectiveTo
	updated.Week = in.Week
	updated.Form = in.Form

	saved, err := s.repo.UpdateDefinition(ctx, updated)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}

	if generationRelevantChange(existing, saved) && saved.Status == domain.DefinitionStatusActive {
		if err := s.Regenerate(ctx, saved); err != nil {
			return domain.AvailabilityDefinition{}, err
		}
	}
	return saved, nil
}

func generationRelevantChange(prev, next domain.AvailabilityDefinition) bool {
	if prev.Timezone != next.Timezone {
		return true
	}
	if !prev.EffectiveFrom.Equal(next.EffectiveFrom) {
		return true
	}
	switch {
	case prev.EffectiveTo == nil && next.EffectiveTo != nil,
		prev.EffectiveTo != nil && next.EffectiveTo == nil:
		return true
	case prev.EffectiveTo != nil && next.EffectiveTo != nil && !prev.EffectiveTo.Equal(*next.EffectiveTo):
		return true
	}
	return !reflect.DeepEqual(prev.Week, next.Week)
}

func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (domain.AvailabilityDefinition, error) {
	return s.repo.GetDefinition(ctx, id)
}

func (s *Service) ListDefinitions(ctx context.Context, ownerID string) ([]domain.AvailabilityDefinition, error) {
	if ownerID == "" {
		return nil, validationError("owner_id is required")
	}
	return s.repo.ListDefinitions(ctx, ownerID)
}

// ArchiveDefinition retires a definition permanently: its bookable slots
// are purged and it no longer appears in owner listings, but the row stays
// so existing bookings keep a resolvable definition.
func (s *Service) ArchiveDefinition(ctx context.Context, ownerID string, id uuid.UUID) error {
	if ownerID == "" {
		return validationError("owner_id is required")
	}
	return s.repo.ArchiveDefinition(ctx, ownerID, id)
}

// PauseDefinition purges the definition's bookable slots but keeps the
// definition for later reactivation. Booked slots are untouched.
func (s *Service) PauseDefinition(ctx context.Context, ownerID string, id uuid.UUID) (domain.AvailabilityDefinition, error) {
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	if def.OwnerID != ownerID {
		return domain.AvailabilityDefinition{}, store.ErrNotFound
	}
	if def.Status != domain.DefinitionStatusActive {
		return domain.AvailabilityDefinition{}, validationError("only an active definition can be paused")
	}

	def.Status = domain.DefinitionStatusPaused
	saved, err := s.repo.UpdateDefinition(ctx, def)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}

	purged, err := s.repo.PurgeAvailableSlots(ctx, ownerID, id, time.Time{})
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	metrics.SlotsPurged.Add(float64(purged))
	s.log.Info("definition paused",
		slog.String("definition_id", id.String()),
		slog.Int64("slots_purged", purged),
	)
	return saved, nil
}

func (s *Service) ActivateDefinition(ctx context.Context, ownerID string, id uuid.UUID) (domain.AvailabilityDefinition, error) {
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	if def.OwnerID != ownerID {
		return domain.AvailabilityDefinition{}, store.ErrNotFound
	}
	switch def.Status {
	case domain.DefinitionStatusDraft, domain.DefinitionStatusPaused:
	default:
		return domain.AvailabilityDefinition{}, validationError("definition is not activatable")
	}

	def.Status = domain.DefinitionStatusActive
	saved, err := s.repo.UpdateDefinition(ctx, def)
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	if err := s.Regenerate(ctx, saved); err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	return saved, nil
}

type ExceptionInput struct {
	OwnerID      string
	DefinitionID uuid.UUID
	StartLocal   time.Time
	EndLocal     time.Time
	Recurring    bool
	Recurrence   *domain.RecurrencePattern
}

// CreateException stores the blackout and deletes any already-materialized
// available slots its occurrences overlap within the current generation
// window. Booked slots, and slots in the past, are not revisited.
func (s *Service) CreateException(ctx context.Context, in ExceptionInput) (domain.Exception, error) {
	def, err := s.repo.GetDefinition(ctx, in.DefinitionID)
	if err != nil {
		return domain.Exception{}, err
	}
	if def.OwnerID != in.OwnerID {
		return domain.Exception{}, store.ErrNotFound
	}

	ex := domain.Exception{
		OwnerID:      in.OwnerID,
		DefinitionID: in.DefinitionID,
		StartLocal:   in.StartLocal,
		EndLocal:     in.EndLocal,
		Recurring:    in.Recurring,
		Recurrence:   in.Recurrence,
	}
	if err := ex.Validate(); err != nil {
		return domain.Exception{}, validationError(err.Error())
	}

	created, err := s.repo.CreateException(ctx, ex)
	if err != nil {
		return domain.Exception{}, err
	}

	loc, err := time.LoadLocation(def.Timezone)
	if err != nil {
		return domain.Exception{}, validationError("invalid timezone")
	}
	now := s.now()
	windowEnd := now.AddDate(0, 0, def.MaxAdvanceDays)
	blocked, err := created.BlockedIntervals(loc, now, windowEnd)
	if err != nil {
		return domain.Exception{}, validationError(err.Error())
	}

	purged, err := s.repo.DeleteAvailableSlotsWithin(ctx, def.OwnerID, def.ID, blocked)
	if err != nil {
		return domain.Exception{}, err
	}
	metrics.SlotsPurged.Add(float64(purged))
	s.log.Info("exception created",
		slog.String("definition_id", def.ID.String()),
		slog.String("exception_id", created.ID.String()),
		slog.Int64("slots_purged", purged),
	)
	return created, nil
}

// DeleteException removes the blackout and regenerates forward so the slots
// it had suppressed become bookable again.
func (s *Service) DeleteException(ctx context.Context, ownerID string, id uuid.UUID) error {
	ex, err := s.repo.GetException(ctx, id)
	if err != nil {
		return err
	}
	if ex.OwnerID != ownerID {
		return store.ErrNotFound
	}

	if err := s.repo.DeleteException(ctx, ownerID, id); err != nil {
		return err
	}

	def, err := s.repo.GetDefinition(ctx, ex.DefinitionID)
	if err != nil {
		// Definition deleted concurrently; nothing to regenerate.
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if def.Status != domain.DefinitionStatusActive {
		return nil
	}
	return s.Regenerate(ctx, def)
}

func (s *Service) ListExceptions(ctx context.Context, ownerID string, definitionID uuid.UUID) ([]domain.Exception, error) {
	def, err := s.repo.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return s.repo.ListExceptions(ctx, definitionID)
}

// ListSlots is the read-only slot discovery query.
func (s *Service) ListSlots(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, status *domain.SlotStatus) ([]domain.TimeSlot, error) {
	if ownerID == "" {
		return nil, validationError("owner_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if !end.After(start) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.repo.ListSlots(ctx, ownerID, start, end, status)
}

// Regenerate recomputes the definition's bookable slots from the effective
// boundary forward. Available slots at or after the boundary are discarded
// and rebuilt; booked slots are never selected for deletion.
func (s *Service) Regenerate(ctx context.Context, def domain.AvailabilityDefinition) error {
	if def.Status != domain.DefinitionStatusActive {
		return nil
	}

	now := s.now()
	boundary := effectiveBoundary(now, def.MinAdvanceMinutes)
	windowEnd := now.AddDate(0, 0, def.MaxAdvanceDays)

	exceptions, err := s.repo.ListExceptions(ctx, def.ID)
	if err != nil {
		return err
	}

	slots, err := domain.GenerateSlots(def, exceptions, boundary, windowEnd)
	if err != nil {
		return validationError(err.Error())
	}

	if err := s.repo.ReplaceAvailableSlots(ctx, def, boundary, slots); err != nil {
		return err
	}
	metrics.SlotsGenerated.Add(float64(len(slots)))
	s.log.Info("schedule regenerated",
		slog.String("definition_id", def.ID.String()),
		slog.Time("boundary", boundary),
		slog.Int("slots", len(slots)),
	)
	return nil
}

// effectiveBoundary is the earliest instant a schedule change may alter
// generated slots: minimum advance notice from now, rounded up to a whole
// minute. Slot-grid alignment follows from the generator only emitting
// grid-aligned candidates at or after the boundary, so no partial slot can
// appear at the seam.
func effectiveBoundary(now time.Time, minAdvanceMinutes int) time.Time {
	b := now.Add(time.Duration(minAdvanceMinutes) * time.Minute)
	if rounded := b.Truncate(time.Minute); rounded.Before(b) {
		return rounded.Add(time.Minute)
	}
	return b
}
