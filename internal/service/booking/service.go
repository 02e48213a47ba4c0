package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotforge/internal/billing"
	"slotforge/internal/domain"
	"slotforge/internal/metrics"
	"slotforge/internal/notify"
	"slotforge/internal/store"
)

// Service is the booking lifecycle manager. All state changes run as
// conditional updates inside per-owner transactions, so a concurrent
// explicit action and the auto-rejection sweep resolve to exactly one
// winner; the loser observes AlreadyResolvedError and changes nothing.
type Service struct {
	repo      store.BookingRepository
	schedules store.ScheduleRepository
	invoicer  billing.Invoicer
	notifier  notify.Notifier
	log       *slog.Logger
	now       func() time.Time
}

func NewService(repo store.BookingRepository, schedules store.ScheduleRepository, invoicer billing.Invoicer, notifier notify.Notifier, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		schedules: schedules,
		invoicer:  invoicer,
		notifier:  notifier,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	ClientID      string
	SlotID        uuid.UUID
	LocationType  string
	Reason        string
	FormResponses map[string]any
}

// Create atomically claims the slot (available -> booked) and records the
// pending booking with its auto-rejection deadline. The claim and the
// booking insert commit together or not at all.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	if strings.TrimSpace(in.ClientID) == "" {
		return domain.Booking{}, validationError("client_id is required")
	}
	if in.SlotID == uuid.Nil {
		return domain.Booking{}, validationError("slot_id is required")
	}
	if len(in.Reason) > domain.MaxReasonLength {
		return domain.Booking{}, validationError(fmt.Sprintf("reason must be at most %d characters", domain.MaxReasonLength))
	}
	if strings.TrimSpace(in.LocationType) == "" {
		return domain.Booking{}, validationError("location_type is required")
	}

	slot, err := s.repo.GetSlot(ctx, in.SlotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, &SlotUnavailableError{SlotID: in.SlotID}
		}
		return domain.Booking{}, err
	}
	if in.ClientID == slot.OwnerID {
		return domain.Booking{}, validationError("cannot book your own slot")
	}
	if !locationSupported(slot.LocationTypes, in.LocationType) {
		return domain.Booking{}, validationError("location_type is not offered for this slot")
	}

	def, err := s.schedules.GetDefinition(ctx, slot.DefinitionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, &SlotUnavailableError{SlotID: in.SlotID}
		}
		return domain.Booking{}, err
	}
	if def.Status != domain.DefinitionStatusActive {
		return domain.Booking{}, &SlotUnavailableError{SlotID: in.SlotID}
	}

	now := s.now()
	notBefore := now.Add(time.Duration(def.MinAdvanceMinutes) * time.Minute)
	notAfter := now.AddDate(0, 0, def.MaxAdvanceDays)
	if slot.StartAt.Before(notBefore) || slot.StartAt.After(notAfter) {
		return domain.Booking{}, &OutOfBookingWindowError{
			SlotID:    slot.ID,
			StartAt:   slot.StartAt,
			NotBefore: notBefore,
			NotAfter:  notAfter,
		}
	}

	if err := validateFormResponses(def.Form, in.FormResponses); err != nil {
		return domain.Booking{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Booking{}, err
	}
	expiresAt := now.Add(domain.AutoRejectAfter)

	b := domain.Booking{
		ID:              id,
		ClientID:        in.ClientID,
		ProviderID:      slot.OwnerID,
		SlotID:          slot.ID,
		DefinitionID:    slot.DefinitionID,
		LocationType:    in.LocationType,
		Reason:          in.Reason,
		Status:          domain.BookingStatusPending,
		ScheduledAt:     slot.StartAt,
		DurationMinutes: slot.DurationMinutes(),
		PriceMinorUnits: slot.PriceMinorUnits,
		Currency:        def.Currency,
		FormResponses:   in.FormResponses,
		ExpiresAt:       &expiresAt,
	}

	var created domain.Booking
	err = s.repo.InOwnerTransaction(ctx, slot.OwnerID, func(ctx context.Context, tx store.BookingTx) error {
		if err := tx.ClaimSlot(ctx, slot.ID, id); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &SlotUnavailableError{SlotID: slot.ID}
			}
			return err
		}
		out, err := tx.InsertBooking(ctx, b)
		if err != nil {
			return err
		}
		created = out
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	metrics.BookingsCreated.Inc()
	s.publish(ctx, notify.EventBookingCreated, created)
	return created, nil
}

// Confirm is restricted to the provider and legal only from pending. On
// success the auto-rejection deadline is cleared in the same transaction,
// and, if the definition carries a price, an invoice is requested from the
// billing collaborator; invoice failure never unwinds the confirmation.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID, actorID string) (domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if actorID != b.ProviderID {
		return domain.Booking{}, ErrNotAllowed
	}

	var confirmed domain.Booking
	err = s.repo.InOwnerTransaction(ctx, b.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(cur.Status, domain.BookingStatusConfirmed) {
			return pendingExitFailure(cur, domain.BookingStatusConfirmed)
		}

		upd := cur
		upd.Status = domain.BookingStatusConfirmed
		upd.ExpiresAt = nil
		out, err := tx.UpdateBooking(ctx, upd, domain.BookingStatusPending)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &AlreadyResolvedError{BookingID: bookingID, Status: cur.Status}
			}
			return err
		}
		confirmed = out
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	metrics.BookingTransitions.WithLabelValues(string(domain.BookingStatusConfirmed)).Inc()
	s.publish(ctx, notify.EventBookingConfirmed, confirmed)
	s.createInvoice(ctx, &confirmed)
	return confirmed, nil
}

// Reject is restricted to the provider, legal only from pending, and
// releases the slot back into the bookable pool.
func (s *Service) Reject(ctx context.Context, bookingID uuid.UUID, actorID string) (domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if actorID != b.ProviderID {
		return domain.Booking{}, ErrNotAllowed
	}

	rejected, err := s.reject(ctx, b, domain.RoleProvider)
	if err != nil {
		return domain.Booking{}, err
	}

	metrics.BookingTransitions.WithLabelValues(string(domain.BookingStatusRejected)).Inc()
	s.publish(ctx, notify.EventBookingRejected, rejected)
	return rejected, nil
}

func (s *Service) reject(ctx context.Context, b domain.Booking, by domain.ParticipantRole) (domain.Booking, error) {
	var rejected domain.Booking
	err := s.repo.InOwnerTransaction(ctx, b.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		cur, err := tx.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(cur.Status, domain.BookingStatusRejected) {
			return pendingExitFailure(cur, domain.BookingStatusRejected)
		}

		upd := cur
		upd.Status = domain.BookingStatusRejected
		upd.RejectedBy = &by
		upd.ExpiresAt = nil
		out, err := tx.UpdateBooking(ctx, upd, domain.BookingStatusPending)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &AlreadyResolvedError{BookingID: b.ID, Status: cur.Status}
			}
			return err
		}
		if err := tx.ReleaseSlot(ctx, cur.SlotID); err != nil {
			return err
		}
		rejected = out
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return rejected, nil
}

// SweepExpiredPending auto-rejects pending bookings whose deadline passed
// and releases their slots. Bookings resolved between the query and the
// conditional update are skipped; the sweep is safe to run concurrently
// with explicit actions and with itself.
func (s *Service) SweepExpiredPending(ctx context.Context) (int, error) {
	expired, err := s.repo.FindExpiredPending(ctx, s.now(), 100)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, b := range expired {
		rejected, err := s.reject(ctx, b, domain.RoleSystem)
		if err != nil {
			var resolved *AlreadyResolvedError
			if errors.As(err, &resolved) {
				continue
			}
			s.log.Error("auto-reject failed",
				slog.Any("err", err),
				slog.String("booking_id", b.ID.String()),
			)
			continue
		}
		swept++
		metrics.AutoRejections.Inc()
		s.publish(ctx, notify.EventBookingRejected, rejected)
	}
	return swept, nil
}

// Cancel is legal only from confirmed; a pending booking is rejected, not
// cancelled. Either party may cancel with a reason. The slot stays booked:
// the slot-booking link is a permanent historical record and the interval
// does not re-enter the bookable pool.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, actorID, reason string) (domain.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Booking{}, validationError("a cancellation reason is required")
	}
	if len(reason) > domain.MaxReasonLength {
		return domain.Booking{}, validationError(fmt.Sprintf("reason must be at most %d characters", domain.MaxReasonLength))
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	role, err := participantRole(b, actorID)
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.now()
	within := s.cancelledWithinThreshold(ctx, b, now)

	var cancelled domain.Booking
	err = s.repo.InOwnerTransaction(ctx, b.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(cur.Status, domain.BookingStatusCancelled) {
			return &IllegalTransitionError{BookingID: bookingID, From: cur.Status, To: domain.BookingStatusCancelled}
		}

		upd := cur
		upd.Status = domain.BookingStatusCancelled
		upd.CancelledBy = &role
		upd.CancellationReason = &reason
		upd.CancelledAt = &now
		upd.CancelledWithinThreshold = &within
		out, err := tx.UpdateBooking(ctx, upd, domain.BookingStatusConfirmed)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &IllegalTransitionError{BookingID: bookingID, From: cur.Status, To: domain.BookingStatusCancelled}
			}
			return err
		}
		cancelled = out
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	metrics.BookingTransitions.WithLabelValues(string(domain.BookingStatusCancelled)).Inc()
	s.publish(ctx, notify.EventBookingCancelled, cancelled)
	return cancelled, nil
}

// cancelledWithinThreshold reports whether the cancellation happened with at
// least the definition's threshold of notice before the scheduled start.
// False means a late cancellation; the billing collaborator decides what
// that costs. An orphaned booking whose definition is gone has no threshold
// to violate.
func (s *Service) cancelledWithinThreshold(ctx context.Context, b domain.Booking, now time.Time) bool {
	def, err := s.schedules.GetDefinition(ctx, b.DefinitionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("threshold lookup failed, treating cancellation as in time",
				slog.Any("err", err),
				slog.String("booking_id", b.ID.String()),
			)
		}
		return true
	}
	threshold := time.Duration(def.CancellationThresholdMinutes) * time.Minute
	return b.ScheduledAt.Sub(now) >= threshold
}

// MarkNoShow records a no-show against the counterparty. The client may
// mark the provider once ProviderNoShowDelay has passed since the scheduled
// start, the provider may mark the client after ClientNoShowDelay. The two
// no-show states are mutually exclusive and terminal.
func (s *Service) MarkNoShow(ctx context.Context, bookingID uuid.UUID, actorID string) (domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}

	var (
		role   domain.ParticipantRole
		target domain.BookingStatus
		delay  time.Duration
	)
	switch actorID {
	case b.ClientID:
		role = domain.RoleClient
		target = domain.BookingStatusNoShowProvider
		delay = domain.ProviderNoShowDelay
	case b.ProviderID:
		role = domain.RoleProvider
		target = domain.BookingStatusNoShowClient
		delay = domain.ClientNoShowDelay
	default:
		return domain.Booking{}, ErrNotAllowed
	}

	now := s.now()
	if now.Before(b.ScheduledAt.Add(delay)) {
		return domain.Booking{}, validationError("no-show cannot be marked yet")
	}

	var marked domain.Booking
	err = s.repo.InOwnerTransaction(ctx, b.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(cur.Status, target) {
			return &IllegalTransitionError{BookingID: bookingID, From: cur.Status, To: target}
		}

		upd := cur
		upd.Status = target
		upd.NoShowMarkedBy = &role
		upd.NoShowMarkedAt = &now
		out, err := tx.UpdateBooking(ctx, upd, domain.BookingStatusConfirmed)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &IllegalTransitionError{BookingID: bookingID, From: cur.Status, To: target}
			}
			return err
		}
		marked = out
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	metrics.BookingTransitions.WithLabelValues(string(target)).Inc()
	s.publish(ctx, notify.EventBookingNoShow, marked)
	return marked, nil
}

// Complete is restricted to the provider, legal only from confirmed, and
// only once the scheduled interval has ended.
func (s *Service) Complete(ctx context.Context, bookingID uuid.UUID, actorID string) (domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if actorID != b.ProviderID {
		return domain.Booking{}, ErrNotAllowed
	}
	if s.now().Before(b.ScheduledEnd()) {
		return domain.Booking{}, validationError("booking cannot be completed before its scheduled end")
	}

	var completed domain.Booking
	err = s.repo.InOwnerTransaction(ctx, b.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(cur.Status, domain.BookingStatusCompleted) {
			return &IllegalTransitionError{BookingID: bookingID, From: cur.Status, To: domain.BookingStatusCompleted}
		}

		upd := cur
		upd.Status = domain.BookingStatusCompleted
		out, err := tx.UpdateBooking(ctx, upd, domain.BookingStatusConfirmed)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &IllegalTransitionError{BookingID: bookingID, From: cur.Status, To: domain.BookingStatusCompleted}
			}
			return err
		}
		completed = out
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	metrics.BookingTransitions.WithLabelValues(string(domain.BookingStatusCompleted)).Inc()
	s.publish(ctx, notify.EventBookingCompleted, completed)
	return completed, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *Service) ListForClient(ctx context.Context, clientID string) ([]domain.Booking, error) {
	if clientID == "" {
		return nil, validationError("client_id is required")
	}
	return s.repo.ListBookingsByClient(ctx, clientID)
}

func (s *Service) ListForProvider(ctx context.Context, providerID string) ([]domain.Booking, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	return s.repo.ListBookingsByProvider(ctx, providerID)
}

func (s *Service) createInvoice(ctx context.Context, b *domain.Booking) {
	if b.PriceMinorUnits == nil || *b.PriceMinorUnits <= 0 {
		return
	}
	ref, err := s.invoicer.CreateInvoice(ctx, billing.Invoice{
		Customer:         b.ClientID,
		Merchant:         b.ProviderID,
		ContextKey:       b.ID.String(),
		AmountMinorUnits: *b.PriceMinorUnits,
		Currency:         b.Currency,
	})
	if err != nil {
		s.log.Error("invoice creation failed",
			slog.Any("err", err),
			slog.String("booking_id", b.ID.String()),
		)
		return
	}
	if ref == "" {
		return
	}
	if err := s.repo.SetInvoiceRef(ctx, b.ID, ref); err != nil {
		s.log.Error("invoice ref persist failed",
			slog.Any("err", err),
			slog.String("booking_id", b.ID.String()),
			slog.String("invoice_ref", ref),
		)
		return
	}
	b.InvoiceRef = &ref
}

func (s *Service) publish(ctx context.Context, eventType string, b domain.Booking) {
	s.notifier.Publish(ctx, notify.Event{
		Type:       eventType,
		BookingID:  b.ID,
		SlotID:     b.SlotID,
		ClientID:   b.ClientID,
		ProviderID: b.ProviderID,
		Status:     b.Status,
		At:         s.now(),
	})
}

// pendingExitFailure classifies a failed transition out of pending: the
// confirm/reject races resolve as AlreadyResolved, anything else is an
// illegal transition.
func pendingExitFailure(cur domain.Booking, attempted domain.BookingStatus) error {
	switch cur.Status {
	case domain.BookingStatusConfirmed, domain.BookingStatusRejected:
		return &AlreadyResolvedError{BookingID: cur.ID, Status: cur.Status}
	default:
		return &IllegalTransitionError{BookingID: cur.ID, From: cur.Status, To: attempted}
	}
}

func participantRole(b domain.Booking, actorID string) (domain.ParticipantRole, error) {
	switch actorID {
	case b.ClientID:
		return domain.RoleClient, nil
	case b.ProviderID:
		return domain.RoleProvider, nil
	default:
		return "", ErrNotAllowed
	}
}

func locationSupported(offered []string, requested string) bool {
	if len(offered) == 0 {
		return true
	}
	for _, lt := range offered {
		if lt == requested {
			return true
		}
	}
	return false
}

func validateFormResponses(fields []domain.FormField, responses map[string]any) error {
	byName := make(map[string]domain.FormField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	for name := range responses {
		if _, ok := byName[name]; !ok {
			return validationError(fmt.Sprintf("unknown form field %q", name))
		}
	}
	for _, f := range fields {
		v, ok := responses[f.Name]
		if !ok {
			if f.Required {
				return validationError(fmt.Sprintf("form field %q is required", f.Name))
			}
			continue
		}
		switch f.Type {
		case domain.FormFieldText, domain.FormFieldTextarea:
			if _, ok := v.(string); !ok {
				return validationError(fmt.Sprintf("form field %q must be a string", f.Name))
			}
		case domain.FormFieldCheckbox:
			if _, ok := v.(bool); !ok {
				return validationError(fmt.Sprintf("form field %q must be a boolean", f.Name))
			}
		case domain.FormFieldSelect:
			choice, ok := v.(string)
			if !ok {
				return validationError(fmt.Sprintf("form field %q must be a string", f.Name))
			}
			valid := false
			for _, opt := range f.Options {
				if opt == choice {
					valid = true
					break
				}
			}
			if !valid {
				return validationError(fmt.Sprintf("form field %q has no option %q", f.Name, choice))
			}
		}
	}
	return nil
}
