package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conductor/internal/domain"
)

// TargetRepo — репозиторий для работы с targets (schedules и sensors).
type TargetRepo struct {
	pool *pgxpool.Pool
}

// NewTargetRepo создаёт новый TargetRepo.
func NewTargetRepo(pool *pgxpool.Pool) *TargetRepo {
	return &TargetRepo{pool: pool}
}

const targetColumns = `id, name, kind, job_name, cron_expr, interval_sec, timezone,
	       enabled, next_due_at, last_tick_at, created_at, updated_at`

// Create создаёт новый target.
func (r *TargetRepo) Create(ctx context.Context, t *domain.Target) error {
	query := `
		INSERT INTO targets (id, name, kind, job_name, cron_expr, interval_sec, timezone,
		                     enabled, next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Name,
		t.Kind,
		t.JobName,
		nullString(t.CronExpr),
		t.IntervalSec,
		t.Timezone,
		t.Enabled,
		t.NextDueAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// GetByID возвращает target по ID.
func (r *TargetRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id = $1`
	return r.scanTarget(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все targets, опционально по виду.
func (r *TargetRepo) List(ctx context.Context, kind domain.TargetKind) ([]domain.Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE ($1::text IS NULL OR kind = $1)
		ORDER BY name ASC
	`
	rows, err := r.pool.Query(ctx, query, nullString(string(kind)))
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	return r.collectTargets(rows)
}

// ListDue возвращает включённые targets, у которых подошло next_due_at.
func (r *TargetRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE enabled = true AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due targets: %w", err)
	}
	defer rows.Close()

	return r.collectTargets(rows)
}

// Update обновляет изменяемые поля target.
func (r *TargetRepo) Update(ctx context.Context, t *domain.Target) error {
	query := `
		UPDATE targets
		SET enabled = $2, next_due_at = $3, last_tick_at = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Enabled,
		t.NextDueAt,
		t.LastTickAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled включает/выключает target.
func (r *TargetRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `UPDATE targets SET enabled = $2, updated_at = now() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("set target enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *TargetRepo) scanTarget(row rowScanner) (*domain.Target, error) {
	var t domain.Target
	var cronExpr *string

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Kind,
		&t.JobName,
		&cronExpr,
		&t.IntervalSec,
		&t.Timezone,
		&t.Enabled,
		&t.NextDueAt,
		&t.LastTickAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan target: %w", err)
	}

	if cronExpr != nil {
		t.CronExpr = *cronExpr
	}

	return &t, nil
}

func (r *TargetRepo) collectTargets(rows pgx.Rows) ([]domain.Target, error) {
	var targets []domain.Target
	for rows.Next() {
		t, err := r.scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}
