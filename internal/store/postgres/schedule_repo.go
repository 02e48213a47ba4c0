package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"slotforge/internal/domain"
	"slotforge/internal/store"
)

type ScheduleRepo struct {
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

func (r *ScheduleRepo) CreateDefinition(ctx context.Context, def domain.AvailabilityDefinition) (domain.AvailabilityDefinition, error) {
	m := def
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.AvailabilityDefinition{}, mapPgError(err)
	}
	return m, nil
}

func (r *ScheduleRepo) GetDefinition(ctx context.Context, id uuid.UUID) (domain.AvailabilityDefinition, error) {
	var m domain.AvailabilityDefinition
	err := r.db.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityDefinition{}, mapNotFound(err)
	}
	return m, nil
}

func (r *ScheduleRepo) UpdateDefinition(ctx context.Context, def domain.AvailabilityDefinition) (domain.AvailabilityDefinition, error) {
	m := def
	res, err := r.db.NewUpdate().
		Model(&m).
		WherePK().
		Where("owner_id = ?", def.OwnerID).
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityDefinition{}, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.AvailabilityDefinition{}, err
	}
	if affected == 0 {
		return domain.AvailabilityDefinition{}, store.ErrNotFound
	}
	return m, nil
}

func (r *ScheduleRepo) ArchiveDefinition(ctx context.Context, ownerID string, id uuid.UUID) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerSchedule(ctx, tx, ownerID); err != nil {
			return err
		}

		res, err := tx.NewUpdate().
			Model((*domain.AvailabilityDefinition)(nil)).
			Set("status = ?", domain.DefinitionStatusArchived).
			Set("updated_at = now()").
			Where("id = ?", id).
			Where("owner_id = ?", ownerID).
			Where("status != ?", domain.DefinitionStatusArchived).
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

		if _, err := tx.NewDelete().
			Model((*domain.Exception)(nil)).
			Where("definition_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}

		// Booked slots remain as historical record.
		_, err = tx.NewDelete().
			Model((*domain.TimeSlot)(nil)).
			Where("definition_id = ?", id).
			Where("status = ?", domain.SlotStatusAvailable).
			Exec(ctx)
		return err
	})
}

func (r *ScheduleRepo) ListDefinitions(ctx context.Context, ownerID string) ([]domain.AvailabilityDefinition, error) {
	var rows []domain.AvailabilityDefinition
	err := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		Where("status != ?", domain.DefinitionStatusArchived).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) CreateException(ctx context.Context, ex domain.Exception) (domain.Exception, error) {
	m := ex
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Exception{}, mapPgError(err)
	}
	return m, nil
}

func (r *ScheduleRepo) GetException(ctx context.Context, id uuid.UUID) (domain.Exception, error) {
	var m domain.Exception
	err := r.db.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Exception{}, mapNotFound(err)
	}
	return m, nil
}

func (r *ScheduleRepo) DeleteException(ctx context.Context, ownerID string, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Exception)(nil)).
		Where("id = ?", id).
		Where("owner_id = ?", ownerID).
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

func (r *ScheduleRepo) ListExceptions(ctx context.Context, definitionID uuid.UUID) ([]domain.Exception, error) {
	var rows []domain.Exception
	err := r.db.NewSelect().
		Model(&rows).
		Where("definition_id = ?", definitionID).
		OrderExpr("start_local ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) ReplaceAvailableSlots(ctx context.Context, def domain.AvailabilityDefinition, from time.Time, slots []domain.TimeSlot) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerSchedule(ctx, tx, def.OwnerID); err != nil {
			return err
		}

		if _, err := tx.NewDelete().
			Model((*domain.TimeSlot)(nil)).
			Where("definition_id = ?", def.ID).
			Where("status = ?", domain.SlotStatusAvailable).
			Where("start_at >= ?", from).
			Exec(ctx); err != nil {
			return err
		}

		if len(slots) == 0 {
			return nil
		}

		// A booked slot may still occupy (owner, start_at); skip those
		// rows instead of failing the whole regeneration.
		_, err := tx.NewInsert().
			Model(&slots).
			On("CONFLICT (owner_id, start_at) DO NOTHING").
			Exec(ctx)
		return err
	})
}

func (r *ScheduleRepo) PurgeAvailableSlots(ctx context.Context, ownerID string, definitionID uuid.UUID, from time.Time) (int64, error) {
	var affected int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerSchedule(ctx, tx, ownerID); err != nil {
			return err
		}

		q := tx.NewDelete().
			Model((*domain.TimeSlot)(nil)).
			Where("definition_id = ?", definitionID).
			Where("status = ?", domain.SlotStatusAvailable)
		if !from.IsZero() {
			q = q.Where("start_at >= ?", from)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (r *ScheduleRepo) DeleteAvailableSlotsWithin(ctx context.Context, ownerID string, definitionID uuid.UUID, intervals []domain.Interval) (int64, error) {
	if len(intervals) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerSchedule(ctx, tx, ownerID); err != nil {
			return err
		}

		q := tx.NewDelete().
			Model((*domain.TimeSlot)(nil)).
			Where("definition_id = ?", definitionID).
			Where("status = ?", domain.SlotStatusAvailable)
		q = q.WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			for _, iv := range intervals {
				iv := iv
				q = q.WhereOr("(start_at < ? AND end_at > ?)", iv.End, iv.Start)
			}
			return q
		})
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (r *ScheduleRepo) ListSlots(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, status *domain.SlotStatus) ([]domain.TimeSlot, error) {
	var rows []domain.TimeSlot
	q := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		Where("start_at < ?", windowEnd).
		Where("end_at > ?", windowStart).
		OrderExpr("start_at ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return err
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
