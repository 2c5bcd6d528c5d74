package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conductor/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, job_name, status, tags, priority, payload, error,
	       submitted_at, started_at, finished_at`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	tagsJSON, err := json.Marshal(run.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	payloadJSON, err := json.Marshal(run.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO runs (id, job_name, status, tags, priority, payload, error, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.JobName,
		run.Status,
		tagsJSON,
		run.Priority,
		payloadJSON,
		nullString(run.Error),
		run.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет изменяемые поля run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, error = $3, started_at = $4, finished_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Status domain.RunStatus
	Limit  int
	Offset int
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return r.collectRuns(rows)
}

// ListByStatus возвращает runs в заданном статусе, старые первыми.
// Используется при восстановлении очереди и в polling fallback.
func (r *RunRepo) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = $1
		ORDER BY submitted_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	defer rows.Close()

	return r.collectRuns(rows)
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *RunRepo) scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var tagsJSON, payloadJSON []byte
	var errText *string

	err := row.Scan(
		&run.ID,
		&run.JobName,
		&run.Status,
		&tagsJSON,
		&run.Priority,
		&payloadJSON,
		&errText,
		&run.SubmittedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &run.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &run.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if errText != nil {
		run.Error = *errText
	}

	return &run, nil
}

func (r *RunRepo) collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
