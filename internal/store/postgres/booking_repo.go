package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotforge/internal/domain"
	"slotforge/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerSchedule(ctx, tx, ownerID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func (r *BookingRepo) GetSlot(ctx context.Context, slotID uuid.UUID) (domain.TimeSlot, error) {
	var m domain.TimeSlot
	err := r.db.NewSelect().
		Model(&m).
		Where("id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.TimeSlot{}, mapNotFound(err)
	}
	return m, nil
}

func (r *BookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var m domain.Booking
	err := r.db.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, mapNotFound(err)
	}
	return m, nil
}

func (r *BookingRepo) ListBookingsByClient(ctx context.Context, clientID string) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("client_id = ?", clientID).
		OrderExpr("scheduled_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) ListBookingsByProvider(ctx context.Context, providerID string) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("scheduled_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.BookingStatusPending).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		OrderExpr("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) SetInvoiceRef(ctx context.Context, bookingID uuid.UUID, ref string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("invoice_ref = ?", ref).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t bookingTx) GetSlot(ctx context.Context, slotID uuid.UUID) (domain.TimeSlot, error) {
	var m domain.TimeSlot
	err := t.tx.NewSelect().
		Model(&m).
		Where("id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.TimeSlot{}, mapNotFound(err)
	}
	return m, nil
}

func (t bookingTx) ClaimSlot(ctx context.Context, slotID, bookingID uuid.UUID) error {
	res, err := t.tx.NewUpdate().
		Model((*domain.TimeSlot)(nil)).
		Set("status = ?", domain.SlotStatusBooked).
		Set("booking_id = ?", bookingID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", slotID).
		Where("status = ?", domain.SlotStatusAvailable).
		Exec(ctx)
	if err != nil {
		return mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t bookingTx) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	res, err := t.tx.NewUpdate().
		Model((*domain.TimeSlot)(nil)).
		Set("status = ?", domain.SlotStatusAvailable).
		Set("booking_id = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", slotID).
		Where("status = ?", domain.SlotStatusBooked).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t bookingTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Booking{}, mapPgError(err)
	}
	return m, nil
}

func (t bookingTx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var m domain.Booking
	err := t.tx.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, mapNotFound(err)
	}
	return m, nil
}

func (t bookingTx) UpdateBooking(ctx context.Context, b domain.Booking, expect domain.BookingStatus) (domain.Booking, error) {
	m := b
	res, err := t.tx.NewUpdate().
		Model(&m).
		WherePK().
		Where("status = ?", expect).
		Exec(ctx)
	if err != nil {
		return domain.Booking{}, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, err
	}
	if affected == 0 {
		return domain.Booking{}, store.ErrConflict
	}
	return m, nil
}
