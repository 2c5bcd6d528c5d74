package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tag — пара ключ/значение, привязанная к run.
//
// Теги используются для:
// - Лимитов конкурентности (tag_concurrency_limits)
// - Атрибуции (какой target создал run)
// - Фильтрации в API/CLI
//
// Ключи не обязаны быть уникальными в пределах run.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Run — единица работы, проходящая через control plane.
//
// Run создаётся когда:
// - Пользователь отправляет запуск вручную (через API/CLI)
// - Tick Evaluator создаёт run из schedule или sensor
//
// Conductor не интерпретирует бизнес-логику run: JobName и Payload
// передаются execution backend как есть.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// JobName — имя job, которое исполняет backend.
	JobName string `json:"job_name"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Tags — упорядоченный набор тегов.
	Tags []Tag `json:"tags,omitempty"`

	// Priority — приоритет в очереди. Больше — раньше. По умолчанию 0.
	Priority int `json:"priority"`

	// Payload — произвольные параметры для backend.
	Payload map[string]any `json:"payload,omitempty"`

	// Error — текст ошибки, если run завершился с FAILURE.
	Error string `json:"error,omitempty"`

	// SubmittedAt — время приёма run (фиксирует порядок FIFO).
	SubmittedAt time.Time `json:"submitted_at"`

	// StartedAt — время подтверждения запуска backend'ом.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения финального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun создаёт run в статусе QUEUED.
func NewRun(jobName string, tags []Tag, priority int, payload map[string]any) *Run {
	return &Run{
		ID:          uuid.New(),
		JobName:     jobName,
		Status:      RunStatusQueued,
		Tags:        tags,
		Priority:    priority,
		Payload:     payload,
		SubmittedAt: time.Now().UTC(),
	}
}

// HasTag возвращает true, если у run есть тег с данным ключом.
// Если value не пустой, значение тега тоже должно совпадать.
func (r *Run) HasTag(key, value string) bool {
	for _, t := range r.Tags {
		if t.Key != key {
			continue
		}
		if value == "" || t.Value == value {
			return true
		}
	}
	return false
}

// IsFinished возвращает true, если run достиг финального статуса.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkStarting переводит run в статус STARTING.
func (r *Run) MarkStarting() {
	r.Status = RunStatusStarting
}

// MarkStarted переводит run в статус STARTED.
func (r *Run) MarkStarted() {
	now := time.Now().UTC()
	r.Status = RunStatusStarted
	r.StartedAt = &now
}

// MarkSuccess переводит run в статус SUCCESS.
func (r *Run) MarkSuccess() {
	now := time.Now().UTC()
	r.Status = RunStatusSuccess
	r.FinishedAt = &now
}

// MarkFailure переводит run в статус FAILURE с текстом ошибки.
func (r *Run) MarkFailure(err string) {
	now := time.Now().UTC()
	r.Status = RunStatusFailure
	r.FinishedAt = &now
	r.Error = err
}

// MarkCanceling переводит run в статус CANCELING.
func (r *Run) MarkCanceling() {
	r.Status = RunStatusCanceling
}

// MarkCanceled переводит run в статус CANCELED.
func (r *Run) MarkCanceled() {
	now := time.Now().UTC()
	r.Status = RunStatusCanceled
	r.FinishedAt = &now
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}
