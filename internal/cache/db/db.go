package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"congressus-cache/internal/models"
)

// ErrNotFound is returned when an id is not in the cache.
var ErrNotFound = errors.New("not found in cache")

// DB is the entity cache: one table per kind, rows keyed by id with the
// record stored as an opaque JSON payload.
type DB struct {
	Bun *bun.DB
}

// CreateTables creates the cache tables and their event_id indexes if they
// do not exist yet.
func (d *DB) CreateTables(ctx context.Context) error {
	for _, model := range []interface{}{
		(*models.EventRow)(nil),
		(*models.ParticipationRow)(nil),
		(*models.TicketRow)(nil),
	} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct {
		model interface{}
		name  string
	}{
		{(*models.ParticipationRow)(nil), "participations_event_id_idx"},
		{(*models.TicketRow)(nil), "tickets_event_id_idx"},
	}
	for _, idx := range indexes {
		_, err := d.Bun.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			IfNotExists().
			Column("event_id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// StaleIDs returns the ids in before that are missing from seen, in the
// order they appear in before.
func StaleIDs(before, seen []string) []string {
	present := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		present[id] = struct{}{}
	}
	stale := []string{}
	for _, id := range before {
		if _, ok := present[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

// --- events ---

// EventIDs snapshots the ids currently cached.
func (d *DB) EventIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.EventRow)(nil)).
		Column("id").
		Scan(ctx, &ids)
	return ids, err
}

// UpsertEvents inserts or overwrites each row by id.
func (d *DB) UpsertEvents(ctx context.Context, rows []models.EventRow) error {
	now := time.Now().UTC()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := range rows {
			rows[i].UpdatedAt = now
			_, err := tx.NewInsert().
				Model(&rows[i]).
				On("CONFLICT (id) DO UPDATE").
				Set("payload = EXCLUDED.payload").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("upsert event %s: %w", rows[i].ID, err)
			}
		}
		return nil
	})
}

func (d *DB) ListEvents(ctx context.Context) ([]models.EventRow, error) {
	var rows []models.EventRow
	err := d.Bun.NewSelect().
		Model(&rows).
		Scan(ctx)
	return rows, err
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.EventRow, error) {
	var row models.EventRow
	err := d.Bun.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// ReconcileEvents deletes every id of the pre-refresh snapshot that the
// refresh did not see, and returns how many rows were removed.
func (d *DB) ReconcileEvents(ctx context.Context, before, seen []string) (int, error) {
	stale := StaleIDs(before, seen)
	if len(stale) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewDelete().
		Model((*models.EventRow)(nil)).
		Where("id IN (?)", bun.In(stale)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete stale events: %w", err)
	}
	return affected(res, len(stale)), nil
}

// --- participations ---

// ParticipationIDs snapshots the ids cached for one event.
func (d *DB) ParticipationIDs(ctx context.Context, eventID string) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.ParticipationRow)(nil)).
		Column("id").
		Where("event_id = ?", eventID).
		Scan(ctx, &ids)
	return ids, err
}

func (d *DB) UpsertParticipations(ctx context.Context, rows []models.ParticipationRow) error {
	now := time.Now().UTC()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := range rows {
			rows[i].UpdatedAt = now
			_, err := tx.NewInsert().
				Model(&rows[i]).
				On("CONFLICT (id) DO UPDATE").
				Set("event_id = EXCLUDED.event_id").
				Set("payload = EXCLUDED.payload").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("upsert participation %s: %w", rows[i].ID, err)
			}
		}
		return nil
	})
}

func (d *DB) ListParticipations(ctx context.Context, eventID string) ([]models.ParticipationRow, error) {
	var rows []models.ParticipationRow
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		Scan(ctx)
	return rows, err
}

// ReconcileParticipations works like ReconcileEvents but never touches
// rows that belong to another event.
func (d *DB) ReconcileParticipations(ctx context.Context, eventID string, before, seen []string) (int, error) {
	stale := StaleIDs(before, seen)
	if len(stale) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewDelete().
		Model((*models.ParticipationRow)(nil)).
		Where("event_id = ?", eventID).
		Where("id IN (?)", bun.In(stale)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete stale participations for event %s: %w", eventID, err)
	}
	return affected(res, len(stale)), nil
}

// --- tickets ---

func (d *DB) UpsertTicket(ctx context.Context, row models.TicketRow) error {
	row.UpdatedAt = time.Now().UTC()
	_, err := d.Bun.NewInsert().
		Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("event_id = EXCLUDED.event_id").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert ticket %s: %w", row.ID, err)
	}
	return nil
}

func (d *DB) GetTicket(ctx context.Context, eventID, id string) (*models.TicketRow, error) {
	var row models.TicketRow
	err := d.Bun.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListTickets(ctx context.Context, eventID string) ([]models.TicketRow, error) {
	var rows []models.TicketRow
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		Scan(ctx)
	return rows, err
}

func affected(res sql.Result, fallback int) int {
	n, err := res.RowsAffected()
	if err != nil {
		return fallback
	}
	return int(n)
}
