package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conductor/internal/domain"
)

// TickRepo — репозиторий для работы с ticks.
type TickRepo struct {
	pool *pgxpool.Pool
}

// NewTickRepo создаёт новый TickRepo.
func NewTickRepo(pool *pgxpool.Pool) *TickRepo {
	return &TickRepo{pool: pool}
}

const tickColumns = `id, target_id, kind, status, run_ids, error, skip_reason,
	       started_at, finished_at`

// Create сохраняет открытый tick (статус STARTED).
func (r *TickRepo) Create(ctx context.Context, tick *domain.Tick) error {
	query := `
		INSERT INTO ticks (id, target_id, kind, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		tick.ID,
		tick.TargetID,
		tick.Kind,
		tick.Status,
		tick.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

// Finalize записывает финальное состояние tick.
func (r *TickRepo) Finalize(ctx context.Context, tick *domain.Tick) error {
	runIDsJSON, err := json.Marshal(tick.RunIDs)
	if err != nil {
		return fmt.Errorf("marshal run ids: %w", err)
	}

	query := `
		UPDATE ticks
		SET status = $2, run_ids = $3, error = $4, skip_reason = $5, finished_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		tick.ID,
		tick.Status,
		runIDsJSON,
		nullString(tick.Error),
		nullString(tick.SkipReason),
		tick.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize tick: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TickFilter — параметры фильтрации ticks.
type TickFilter struct {
	TargetID *uuid.UUID
	Status   domain.TickStatus
	Limit    int
	Offset   int
}

// List возвращает ticks, новые первыми.
func (r *TickRepo) List(ctx context.Context, filter TickFilter) ([]domain.Tick, error) {
	query := `
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE ($1::uuid IS NULL OR target_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.TargetID,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var ticks []domain.Tick
	for rows.Next() {
		tick, err := r.scanTick(rows)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, *tick)
	}
	return ticks, rows.Err()
}

// PurgeOlderThan удаляет финализированные ticks данного вида и статуса,
// начатые раньше cutoff. Возвращает число удалённых строк.
// Повторный вызов по уже очищенным данным — no-op.
func (r *TickRepo) PurgeOlderThan(ctx context.Context, kind domain.TargetKind, status domain.TickStatus, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM ticks
		WHERE kind = $1 AND status = $2 AND started_at < $3
	`
	result, err := r.pool.Exec(ctx, query, kind, status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge ticks: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

func (r *TickRepo) scanTick(row rowScanner) (*domain.Tick, error) {
	var tick domain.Tick
	var runIDsJSON []byte
	var errText, skipReason *string

	err := row.Scan(
		&tick.ID,
		&tick.TargetID,
		&tick.Kind,
		&tick.Status,
		&runIDsJSON,
		&errText,
		&skipReason,
		&tick.StartedAt,
		&tick.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan tick: %w", err)
	}

	if len(runIDsJSON) > 0 {
		if err := json.Unmarshal(runIDsJSON, &tick.RunIDs); err != nil {
			return nil, fmt.Errorf("unmarshal run ids: %w", err)
		}
	}
	if errText != nil {
		tick.Error = *errText
	}
	if skipReason != nil {
		tick.SkipReason = *skipReason
	}

	return &tick, nil
}
