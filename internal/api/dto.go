package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// Run DTOs

// SubmitRunRequest — запрос на приём run.
type SubmitRunRequest struct {
	JobName  string         `json:"job_name"`
	Tags     []domain.Tag   `json:"tags,omitempty"`
	Priority int            `json:"priority,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          uuid.UUID      `json:"id"`
	JobName     string         `json:"job_name"`
	Status      string         `json:"status"`
	Tags        []domain.Tag   `json:"tags,omitempty"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		JobName:     r.JobName,
		Status:      string(r.Status),
		Tags:        r.Tags,
		Priority:    r.Priority,
		Payload:     r.Payload,
		Error:       r.Error,
		SubmittedAt: r.SubmittedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

// TerminateRunsRequest — запрос на batch-остановку runs.
// Значение в Runs — поддерживает ли backend безопасную остановку run.
type TerminateRunsRequest struct {
	Runs  map[uuid.UUID]bool `json:"runs"`
	Force bool               `json:"force,omitempty"`
}

// TerminateRunsResponse — итог batch-остановки.
type TerminateRunsResponse struct {
	Completed int                  `json:"completed"`
	Total     int                  `json:"total"`
	Errors    map[uuid.UUID]string `json:"errors,omitempty"`
}

// Tick DTOs

// TickResponse — ответ с tick.
type TickResponse struct {
	ID         uuid.UUID   `json:"id"`
	TargetID   uuid.UUID   `json:"target_id"`
	Kind       string      `json:"kind"`
	Status     string      `json:"status"`
	RunIDs     []uuid.UUID `json:"run_ids,omitempty"`
	Error      string      `json:"error,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// TickFromDomain конвертирует domain.Tick в TickResponse.
func TickFromDomain(t domain.Tick) TickResponse {
	return TickResponse{
		ID:         t.ID,
		TargetID:   t.TargetID,
		Kind:       string(t.Kind),
		Status:     string(t.Status),
		RunIDs:     t.RunIDs,
		Error:      t.Error,
		SkipReason: t.SkipReason,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}

// Target DTOs

// CreateTargetRequest — запрос на создание target.
type CreateTargetRequest struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	JobName     string `json:"job_name"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// SetEnabledRequest — запрос на включение/выключение target.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// TargetResponse — ответ с target.
type TargetResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	JobName     string     `json:"job_name"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   time.Time  `json:"next_due_at"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TargetFromDomain конвертирует domain.Target в TargetResponse.
func TargetFromDomain(t domain.Target) TargetResponse {
	return TargetResponse{
		ID:          t.ID,
		Name:        t.Name,
		Kind:        string(t.Kind),
		JobName:     t.JobName,
		CronExpr:    t.CronExpr,
		IntervalSec: t.IntervalSec,
		Timezone:    t.Timezone,
		Enabled:     t.Enabled,
		NextDueAt:   t.NextDueAt,
		LastTickAt:  t.LastTickAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
