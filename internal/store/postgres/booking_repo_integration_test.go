package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotforge/internal/domain"
	"slotforge/internal/store"
)

func TestPostgresIntegration_SlotClaimReleaseAndConditionalUpdate(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("SLOTFORGE_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("SLOTFORGE_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "slotforge_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema).Exec(ctx); err != nil {
			return err
		}
		if err := ApplyMigrations(ctx, tx); err != nil {
			return err
		}

		slot := domain.TimeSlot{
			OwnerID:      "prov-1",
			DefinitionID: uuid.New(),
			SlotDate:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			StartAt:      time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
			EndAt:        time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
			Status:       domain.SlotStatusAvailable,
		}
		if _, err := tx.NewInsert().Model(&slot).Exec(ctx); err != nil {
			return err
		}

		bt := bookingTx{tx: tx}
		bookingID := uuid.New()

		if err := bt.ClaimSlot(ctx, slot.ID, bookingID); err != nil {
			t.Fatalf("ClaimSlot error: %v", err)
		}
		// A second claim must lose.
		if err := bt.ClaimSlot(ctx, slot.ID, uuid.New()); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("second ClaimSlot error = %v, want ErrConflict", err)
		}

		claimed, err := bt.GetSlot(ctx, slot.ID)
		if err != nil {
			t.Fatalf("GetSlot error: %v", err)
		}
		if claimed.Status != domain.SlotStatusBooked || claimed.BookingID == nil || *claimed.BookingID != bookingID {
			t.Fatalf("claimed slot = %+v", claimed)
		}

		expiresAt := time.Now().UTC().Add(domain.AutoRejectAfter)
		b, err := bt.InsertBooking(ctx, domain.Booking{
			ID:              bookingID,
			ClientID:        "client-1",
			ProviderID:      "prov-1",
			SlotID:          slot.ID,
			DefinitionID:    slot.DefinitionID,
			LocationType:    "video",
			Status:          domain.BookingStatusPending,
			ScheduledAt:     slot.StartAt,
			DurationMinutes: 30,
			ExpiresAt:       &expiresAt,
		})
		if err != nil {
			t.Fatalf("InsertBooking error: %v", err)
		}

		// The conditional update succeeds once from the expected status,
		// then the stale expectation conflicts.
		upd := b
		upd.Status = domain.BookingStatusConfirmed
		upd.ExpiresAt = nil
		if _, err := bt.UpdateBooking(ctx, upd, domain.BookingStatusPending); err != nil {
			t.Fatalf("UpdateBooking error: %v", err)
		}
		if _, err := bt.UpdateBooking(ctx, upd, domain.BookingStatusPending); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("stale UpdateBooking error = %v, want ErrConflict", err)
		}

		// Releasing flips the slot back and a fresh claim works again.
		if err := bt.ReleaseSlot(ctx, slot.ID); err != nil {
			t.Fatalf("ReleaseSlot error: %v", err)
		}
		if err := bt.ClaimSlot(ctx, slot.ID, uuid.New()); err != nil {
			t.Fatalf("reclaim after release error: %v", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("transaction error: %v", err)
	}
}

func randomHex(t *testing.T, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(buf)
}
