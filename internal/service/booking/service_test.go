package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"slotforge/internal/billing"
	"slotforge/internal/domain"
	"slotforge/internal/notify"
	"slotforge/internal/store"
)

// memRepo is an in-memory BookingRepository whose mutations apply the same
// conditional semantics as the postgres store, so the race-resolution tests
// exercise the real ErrConflict paths.
type memRepo struct {
	slots    map[uuid.UUID]domain.TimeSlot
	bookings map[uuid.UUID]domain.Booking
}

func newMemRepo() *memRepo {
	return &memRepo{
		slots:    make(map[uuid.UUID]domain.TimeSlot),
		bookings: make(map[uuid.UUID]domain.Booking),
	}
}

func (m *memRepo) InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return fn(ctx, m)
}

func (m *memRepo) GetSlot(ctx context.Context, slotID uuid.UUID) (domain.TimeSlot, error) {
	s, ok := m.slots[slotID]
	if !ok {
		return domain.TimeSlot{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memRepo) ClaimSlot(ctx context.Context, slotID, bookingID uuid.UUID) error {
	s, ok := m.slots[slotID]
	if !ok || s.Status != domain.SlotStatusAvailable {
		return store.ErrConflict
	}
	s.Status = domain.SlotStatusBooked
	s.BookingID = &bookingID
	m.slots[slotID] = s
	return nil
}

func (m *memRepo) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	s, ok := m.slots[slotID]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = domain.SlotStatusAvailable
	s.BookingID = nil
	m.slots[slotID] = s
	return nil
}

func (m *memRepo) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if _, ok := m.bookings[b.ID]; ok {
		return domain.Booking{}, store.ErrConflict
	}
	m.bookings[b.ID] = b
	return b, nil
}

func (m *memRepo) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memRepo) UpdateBooking(ctx context.Context, b domain.Booking, expect domain.BookingStatus) (domain.Booking, error) {
	cur, ok := m.bookings[b.ID]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	if cur.Status != expect {
		return domain.Booking{}, store.ErrConflict
	}
	m.bookings[b.ID] = b
	return b, nil
}

func (m *memRepo) ListBookingsByClient(ctx context.Context, clientID string) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.ClientID == clientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) ListBookingsByProvider(ctx context.Context, providerID string) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.ProviderID == providerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.Status == domain.BookingStatusPending && b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
			out = append(out, b)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memRepo) SetInvoiceRef(ctx context.Context, bookingID uuid.UUID, ref string) error {
	b, ok := m.bookings[bookingID]
	if !ok {
		return store.ErrNotFound
	}
	b.InvoiceRef = &ref
	m.bookings[bookingID] = b
	return nil
}

// fakeSchedules satisfies store.ScheduleRepository; the lifecycle manager
// only reads definitions from it.
type fakeSchedules struct {
	store.ScheduleRepository
	defs map[uuid.UUID]domain.AvailabilityDefinition
}

func (f *fakeSchedules) GetDefinition(ctx context.Context, id uuid.UUID) (domain.AvailabilityDefinition, error) {
	d, ok := f.defs[id]
	if !ok {
		return domain.AvailabilityDefinition{}, store.ErrNotFound
	}
	return d, nil
}

type recordNotifier struct {
	events []notify.Event
}

func (r *recordNotifier) Publish(ctx context.Context, ev notify.Event) {
	r.events = append(r.events, ev)
}

type fakeInvoicer struct {
	createFn func(ctx context.Context, inv billing.Invoice) (string, error)
}

func (f *fakeInvoicer) CreateInvoice(ctx context.Context, inv billing.Invoice) (string, error) {
	if f.createFn == nil {
		panic("CreateInvoice not configured")
	}
	return f.createFn(ctx, inv)
}

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *memRepo
	notifier *recordNotifier
	defID    uuid.UUID
	slotID   uuid.UUID
}

func newFixture(t *testing.T, mutate func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot)) *fixture {
	t.Helper()

	defID := uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	slotID := uuid.MustParse("00000000-0000-0000-0000-000000000051")

	def := domain.AvailabilityDefinition{
		ID:                           defID,
		OwnerID:                      "prov-1",
		Timezone:                     "UTC",
		LocationTypes:                []string{"video", "phone"},
		MinAdvanceMinutes:            0,
		MaxAdvanceDays:               30,
		CancellationThresholdMinutes: 1440,
		Status:                       domain.DefinitionStatusActive,
	}
	slot := domain.TimeSlot{
		ID:            slotID,
		OwnerID:       "prov-1",
		DefinitionID:  defID,
		StartAt:       testNow.Add(48 * time.Hour),
		EndAt:         testNow.Add(48*time.Hour + 30*time.Minute),
		LocationTypes: []string{"video", "phone"},
		Status:        domain.SlotStatusAvailable,
	}
	if mutate != nil {
		mutate(&def, &slot)
	}

	repo := newMemRepo()
	repo.slots[slot.ID] = slot
	notifier := &recordNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(repo, &fakeSchedules{defs: map[uuid.UUID]domain.AvailabilityDefinition{def.ID: def}}, billing.NopInvoicer{}, notifier, log)
	svc.now = func() time.Time { return testNow }

	return &fixture{svc: svc, repo: repo, notifier: notifier, defID: def.ID, slotID: slot.ID}
}

func TestCreate_ClaimsSlotAndSetsDeadline(t *testing.T) {
	f := newFixture(t, nil)

	b, err := f.svc.Create(context.Background(), CreateInput{
		ClientID:     "client-1",
		SlotID:       f.slotID,
		LocationType: "video",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if b.Status != domain.BookingStatusPending {
		t.Fatalf("Status = %q, want pending", b.Status)
	}
	if b.ExpiresAt == nil || !b.ExpiresAt.Equal(testNow.Add(domain.AutoRejectAfter)) {
		t.Fatalf("ExpiresAt = %v, want now+%v", b.ExpiresAt, domain.AutoRejectAfter)
	}
	slot := f.repo.slots[f.slotID]
	if slot.Status != domain.SlotStatusBooked {
		t.Fatalf("slot status = %q, want booked", slot.Status)
	}
	if slot.BookingID == nil || *slot.BookingID != b.ID {
		t.Fatalf("slot booking link = %v, want %v", slot.BookingID, b.ID)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Type != notify.EventBookingCreated {
		t.Fatalf("events = %+v", f.notifier.events)
	}
}

func TestCreate_SecondClaimLoses(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Create(context.Background(), CreateInput{ClientID: "client-1", SlotID: f.slotID, LocationType: "video"}); err != nil {
		t.Fatalf("first Create error: %v", err)
	}
	_, err := f.svc.Create(context.Background(), CreateInput{ClientID: "client-2", SlotID: f.slotID, LocationType: "video"})
	var unavailable *SlotUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *SlotUnavailableError", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot)
		input   func(f *fixture) CreateInput
		wantErr func(t *testing.T, err error)
	}{
		{
			name:  "missing client",
			input: func(f *fixture) CreateInput { return CreateInput{SlotID: f.slotID, LocationType: "video"} },
			wantErr: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %T, want *ValidationError", err)
				}
			},
		},
		{
			name:  "own slot",
			input: func(f *fixture) CreateInput { return CreateInput{ClientID: "prov-1", SlotID: f.slotID, LocationType: "video"} },
			wantErr: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %T, want *ValidationError", err)
				}
			},
		},
		{
			name: "unsupported location",
			input: func(f *fixture) CreateInput {
				return CreateInput{ClientID: "client-1", SlotID: f.slotID, LocationType: "in_person"}
			},
			wantErr: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %T, want *ValidationError", err)
				}
			},
		},
		{
			name: "paused definition",
			mutate: func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
				def.Status = domain.DefinitionStatusPaused
			},
			input: func(f *fixture) CreateInput {
				return CreateInput{ClientID: "client-1", SlotID: f.slotID, LocationType: "video"}
			},
			wantErr: func(t *testing.T, err error) {
				var unavailable *SlotUnavailableError
				if !errors.As(err, &unavailable) {
					t.Fatalf("error = %T, want *SlotUnavailableError", err)
				}
			},
		},
		{
			name: "below minimum advance",
			mutate: func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
				def.MinAdvanceMinutes = 60
				slot.StartAt = testNow.Add(30 * time.Minute)
				slot.EndAt = slot.StartAt.Add(30 * time.Minute)
			},
			input: func(f *fixture) CreateInput {
				return CreateInput{ClientID: "client-1", SlotID: f.slotID, LocationType: "video"}
			},
			wantErr: func(t *testing.T, err error) {
				var window *OutOfBookingWindowError
				if !errors.As(err, &window) {
					t.Fatalf("error = %T, want *OutOfBookingWindowError", err)
				}
			},
		},
		{
			name: "beyond maximum advance",
			mutate: func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
				slot.StartAt = testNow.AddDate(0, 0, 31)
				slot.EndAt = slot.StartAt.Add(30 * time.Minute)
			},
			input: func(f *fixture) CreateInput {
				return CreateInput{ClientID: "client-1", SlotID: f.slotID, LocationType: "video"}
			},
			wantErr: func(t *testing.T, err error) {
				var window *OutOfBookingWindowError
				if !errors.As(err, &window) {
					t.Fatalf("error = %T, want *OutOfBookingWindowError", err)
				}
			},
		},
		{
			name: "missing required form field",
			mutate: func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
				def.Form = []domain.FormField{{Type: domain.FormFieldText, Name: "topic", Label: "Topic", Required: true}}
			},
			input: func(f *fixture) CreateInput {
				return CreateInput{ClientID: "client-1", SlotID: f.slotID, LocationType: "video"}
			},
			wantErr: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %T, want *ValidationError", err)
				}
			},
		},
		{
			name: "select outside options",
			mutate: func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
				def.Form = []domain.FormField{{Type: domain.FormFieldSelect, Name: "channel", Label: "Channel", Options: []string{"a", "b"}}}
			},
			input: func(f *fixture) CreateInput {
				return CreateInput{
					ClientID:      "client-1",
					SlotID:        f.slotID,
					LocationType:  "video",
					FormResponses: map[string]any{"channel": "c"},
				}
			},
			wantErr: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %T, want *ValidationError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			_, err := f.svc.Create(context.Background(), tt.input(f))
			if err == nil {
				t.Fatalf("expected error")
			}
			tt.wantErr(t, err)
		})
	}
}

func createPending(t *testing.T, f *fixture) domain.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), CreateInput{
		ClientID:     "client-1",
		SlotID:       f.slotID,
		LocationType: "video",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return b
}

func TestConfirm_ProviderOnly(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	if _, err := f.svc.Confirm(context.Background(), b.ID, "client-1"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("client confirm error = %v, want ErrNotAllowed", err)
	}

	confirmed, err := f.svc.Confirm(context.Background(), b.ID, "prov-1")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if confirmed.Status != domain.BookingStatusConfirmed {
		t.Fatalf("Status = %q, want confirmed", confirmed.Status)
	}
	if confirmed.ExpiresAt != nil {
		t.Fatalf("ExpiresAt = %v, want cleared", confirmed.ExpiresAt)
	}
}

func TestConfirm_AfterRejectIsAlreadyResolved(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	if _, err := f.svc.Reject(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	_, err := f.svc.Confirm(context.Background(), b.ID, "prov-1")
	var resolved *AlreadyResolvedError
	if !errors.As(err, &resolved) {
		t.Fatalf("error = %v, want *AlreadyResolvedError", err)
	}
	if resolved.Status != domain.BookingStatusRejected {
		t.Fatalf("resolved status = %q, want rejected", resolved.Status)
	}
}

func TestConfirm_PricedBookingGetsInvoice(t *testing.T) {
	price := int64(5000)
	f := newFixture(t, func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
		def.PriceMinorUnits = &price
		def.Currency = "EUR"
		slot.PriceMinorUnits = &price
	})

	var invoiced []billing.Invoice
	f.svc.invoicer = &fakeInvoicer{createFn: func(ctx context.Context, inv billing.Invoice) (string, error) {
		invoiced = append(invoiced, inv)
		return "inv-42", nil
	}}

	b := createPending(t, f)
	confirmed, err := f.svc.Confirm(context.Background(), b.ID, "prov-1")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if len(invoiced) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoiced))
	}
	if invoiced[0].AmountMinorUnits != price || invoiced[0].Currency != "EUR" {
		t.Fatalf("invoice = %+v", invoiced[0])
	}
	if confirmed.InvoiceRef == nil || *confirmed.InvoiceRef != "inv-42" {
		t.Fatalf("InvoiceRef = %v, want inv-42", confirmed.InvoiceRef)
	}
}

func TestConfirm_InvoiceFailureDoesNotUnwind(t *testing.T) {
	price := int64(5000)
	f := newFixture(t, func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
		def.PriceMinorUnits = &price
		slot.PriceMinorUnits = &price
	})
	f.svc.invoicer = &fakeInvoicer{createFn: func(ctx context.Context, inv billing.Invoice) (string, error) {
		return "", billing.ErrInternal
	}}

	b := createPending(t, f)
	confirmed, err := f.svc.Confirm(context.Background(), b.ID, "prov-1")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if confirmed.Status != domain.BookingStatusConfirmed {
		t.Fatalf("Status = %q, want confirmed", confirmed.Status)
	}
	if confirmed.InvoiceRef != nil {
		t.Fatalf("InvoiceRef = %v, want nil", confirmed.InvoiceRef)
	}
}

func TestReject_ReleasesSlotForRebooking(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	rejected, err := f.svc.Reject(context.Background(), b.ID, "prov-1")
	if err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	if rejected.RejectedBy == nil || *rejected.RejectedBy != domain.RoleProvider {
		t.Fatalf("RejectedBy = %v, want provider", rejected.RejectedBy)
	}
	if f.repo.slots[f.slotID].Status != domain.SlotStatusAvailable {
		t.Fatalf("slot status = %q, want available", f.repo.slots[f.slotID].Status)
	}

	// The released slot re-enters the bookable pool.
	if _, err := f.svc.Create(context.Background(), CreateInput{ClientID: "client-2", SlotID: f.slotID, LocationType: "video"}); err != nil {
		t.Fatalf("rebooking after reject failed: %v", err)
	}
}

func TestSweepExpiredPending(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	// Not yet expired: nothing happens.
	swept, err := f.svc.SweepExpiredPending(context.Background())
	if err != nil {
		t.Fatalf("SweepExpiredPending error: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	f.svc.now = func() time.Time { return testNow.Add(domain.AutoRejectAfter + time.Minute) }
	swept, err = f.svc.SweepExpiredPending(context.Background())
	if err != nil {
		t.Fatalf("SweepExpiredPending error: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got := f.repo.bookings[b.ID]
	if got.Status != domain.BookingStatusRejected {
		t.Fatalf("Status = %q, want rejected", got.Status)
	}
	if got.RejectedBy == nil || *got.RejectedBy != domain.RoleSystem {
		t.Fatalf("RejectedBy = %v, want system", got.RejectedBy)
	}
	if f.repo.slots[f.slotID].Status != domain.SlotStatusAvailable {
		t.Fatalf("slot status = %q, want available", f.repo.slots[f.slotID].Status)
	}
}

func TestAutoReject_LosesRaceAgainstConfirm(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	// Simulate a confirm racing ahead of the sweep: the booking leaves
	// pending between the sweep's listing and its conditional update. The
	// stale snapshot still says pending; the reject must observe the
	// resolved state and change nothing.
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	_, err := f.svc.reject(context.Background(), b, domain.RoleSystem)
	var resolved *AlreadyResolvedError
	if !errors.As(err, &resolved) {
		t.Fatalf("error = %v, want *AlreadyResolvedError", err)
	}
	if f.repo.bookings[b.ID].Status != domain.BookingStatusConfirmed {
		t.Fatalf("Status = %q, want confirmed untouched", f.repo.bookings[b.ID].Status)
	}
	if f.repo.slots[f.slotID].Status != domain.SlotStatusBooked {
		t.Fatalf("slot status = %q, want booked", f.repo.slots[f.slotID].Status)
	}
}

func TestCancel_FromPendingIsIllegal(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	_, err := f.svc.Cancel(context.Background(), b.ID, "client-1", "changed my mind")
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("error = %v, want *IllegalTransitionError", err)
	}
}

func TestCancel_RequiresReason(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)

	_, err := f.svc.Cancel(context.Background(), b.ID, "client-1", "   ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %T, want *ValidationError", err)
	}
}

func TestCancel_LateCancellationFlaggedOutsideThreshold(t *testing.T) {
	// 1440-minute threshold, booking starts in 10 minutes: the notice given
	// is far below the threshold, so the within flag must be false.
	f := newFixture(t, func(def *domain.AvailabilityDefinition, slot *domain.TimeSlot) {
		slot.StartAt = testNow.Add(10 * time.Minute)
		slot.EndAt = slot.StartAt.Add(30 * time.Minute)
	})
	b := createPending(t, f)
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	cancelled, err := f.svc.Cancel(context.Background(), b.ID, "client-1", "sick")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.CancelledWithinThreshold == nil || *cancelled.CancelledWithinThreshold {
		t.Fatalf("CancelledWithinThreshold = %v, want false", cancelled.CancelledWithinThreshold)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != domain.RoleClient {
		t.Fatalf("CancelledBy = %v, want client", cancelled.CancelledBy)
	}
	// The slot-booking link is permanent: cancellation never frees the slot.
	if f.repo.slots[f.slotID].Status != domain.SlotStatusBooked {
		t.Fatalf("slot status = %q, want booked", f.repo.slots[f.slotID].Status)
	}
}

func TestCancel_EarlyCancellationWithinThreshold(t *testing.T) {
	f := newFixture(t, nil) // slot starts in 48h, threshold 1440m = 24h
	b := createPending(t, f)
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	cancelled, err := f.svc.Cancel(context.Background(), b.ID, "prov-1", "conflict")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.CancelledWithinThreshold == nil || !*cancelled.CancelledWithinThreshold {
		t.Fatalf("CancelledWithinThreshold = %v, want true", cancelled.CancelledWithinThreshold)
	}
}

func TestCancel_StrangerNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), b.ID, "someone-else", "reason"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("error = %v, want ErrNotAllowed", err)
	}
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	// Too early for either party.
	f.svc.now = func() time.Time { return b.ScheduledAt.Add(2 * time.Minute) }
	_, err := f.svc.MarkNoShow(context.Background(), b.ID, "client-1")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("early mark error = %T, want *ValidationError", err)
	}

	// After the provider delay the client can mark the provider.
	f.svc.now = func() time.Time { return b.ScheduledAt.Add(domain.ProviderNoShowDelay) }
	marked, err := f.svc.MarkNoShow(context.Background(), b.ID, "client-1")
	if err != nil {
		t.Fatalf("MarkNoShow error: %v", err)
	}
	if marked.Status != domain.BookingStatusNoShowProvider {
		t.Fatalf("Status = %q, want no_show_provider", marked.Status)
	}
	if marked.NoShowMarkedBy == nil || *marked.NoShowMarkedBy != domain.RoleClient {
		t.Fatalf("NoShowMarkedBy = %v, want client", marked.NoShowMarkedBy)
	}

	// The state is terminal; the provider cannot mark it again.
	f.svc.now = func() time.Time { return b.ScheduledAt.Add(domain.ClientNoShowDelay) }
	_, err = f.svc.MarkNoShow(context.Background(), b.ID, "prov-1")
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("second mark error = %v, want *IllegalTransitionError", err)
	}
}

func TestMarkNoShow_ProviderMarksClient(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	// The provider delay has passed but the longer client delay has not.
	f.svc.now = func() time.Time { return b.ScheduledAt.Add(domain.ProviderNoShowDelay) }
	if _, err := f.svc.MarkNoShow(context.Background(), b.ID, "prov-1"); err == nil {
		t.Fatal("expected error before client delay elapses")
	}

	f.svc.now = func() time.Time { return b.ScheduledAt.Add(domain.ClientNoShowDelay) }
	marked, err := f.svc.MarkNoShow(context.Background(), b.ID, "prov-1")
	if err != nil {
		t.Fatalf("MarkNoShow error: %v", err)
	}
	if marked.Status != domain.BookingStatusNoShowClient {
		t.Fatalf("Status = %q, want no_show_client", marked.Status)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t, nil)
	b := createPending(t, f)
	if _, err := f.svc.Confirm(context.Background(), b.ID, "prov-1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	if _, err := f.svc.Complete(context.Background(), b.ID, "client-1"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("client complete error = %v, want ErrNotAllowed", err)
	}

	_, err := f.svc.Complete(context.Background(), b.ID, "prov-1")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("early complete error = %T, want *ValidationError", err)
	}

	f.svc.now = func() time.Time { return b.ScheduledEnd().Add(time.Minute) }
	completed, err := f.svc.Complete(context.Background(), b.ID, "prov-1")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if completed.Status != domain.BookingStatusCompleted {
		t.Fatalf("Status = %q, want completed", completed.Status)
	}
}

func TestTransitionGuards_TerminalStatesRefuseEveryOperation(t *testing.T) {
	terminal := []domain.BookingStatus{
		domain.BookingStatusCancelled,
		domain.BookingStatusCompleted,
		domain.BookingStatusNoShowClient,
		domain.BookingStatusNoShowProvider,
	}
	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, nil)
			b := createPending(t, f)

			// Force the booking into the terminal state, with the
			// appointment in the past so the no-show and completion
			// timing checks do not mask the state guard.
			cur := f.repo.bookings[b.ID]
			cur.Status = status
			cur.ScheduledAt = testNow.Add(-2 * time.Hour)
			f.repo.bookings[b.ID] = cur

			ctx := context.Background()
			ops := []struct {
				name string
				call func() error
			}{
				{"confirm", func() error { _, err := f.svc.Confirm(ctx, b.ID, "prov-1"); return err }},
				{"reject", func() error { _, err := f.svc.Reject(ctx, b.ID, "prov-1"); return err }},
				{"cancel", func() error { _, err := f.svc.Cancel(ctx, b.ID, "client-1", "changed my mind"); return err }},
				{"no-show", func() error { _, err := f.svc.MarkNoShow(ctx, b.ID, "client-1"); return err }},
				{"complete", func() error { _, err := f.svc.Complete(ctx, b.ID, "prov-1"); return err }},
			}
			for _, op := range ops {
				var illegal *IllegalTransitionError
				if err := op.call(); !errors.As(err, &illegal) {
					t.Errorf("%s error = %v, want *IllegalTransitionError", op.name, err)
				}
			}
		})
	}
}
