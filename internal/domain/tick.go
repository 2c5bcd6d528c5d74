package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tick — запись об одной evaluation target'а.
//
// Tick создаётся в статусе STARTED в начале evaluation и финализируется
// в SUCCESS/SKIPPED/FAILURE в конце. После финализации tick неизменяем;
// удаляет его только Retention Sweeper.
type Tick struct {
	// ID — уникальный идентификатор tick.
	ID uuid.UUID `json:"id"`

	// TargetID — ссылка на schedule/sensor, которому принадлежит tick.
	TargetID uuid.UUID `json:"target_id"`

	// Kind — вид target (дублируется для политики retention).
	Kind TargetKind `json:"kind"`

	// Status — результат evaluation.
	Status TickStatus `json:"status"`

	// RunIDs — runs, созданные этой evaluation.
	RunIDs []uuid.UUID `json:"run_ids,omitempty"`

	// Error — текст ошибки для FAILURE tick.
	Error string `json:"error,omitempty"`

	// SkipReason — причина SKIPPED (например, условие сенсора не выполнено).
	SkipReason string `json:"skip_reason,omitempty"`

	// StartedAt — время начала evaluation.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время финализации. Nil для незавершённого tick.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewTick открывает tick в статусе STARTED.
func NewTick(target *Target) *Tick {
	return &Tick{
		ID:        uuid.New(),
		TargetID:  target.ID,
		Kind:      target.Kind,
		Status:    TickStatusStarted,
		StartedAt: time.Now().UTC(),
	}
}

// FinalizeSuccess финализирует tick как SUCCESS с созданными runs.
func (t *Tick) FinalizeSuccess(runIDs []uuid.UUID) {
	now := time.Now().UTC()
	t.Status = TickStatusSuccess
	t.RunIDs = runIDs
	t.FinishedAt = &now
}

// FinalizeSkipped финализирует tick как SKIPPED.
func (t *Tick) FinalizeSkipped(reason string) {
	now := time.Now().UTC()
	t.Status = TickStatusSkipped
	t.SkipReason = reason
	t.FinishedAt = &now
}

// FinalizeFailure финализирует tick как FAILURE с ошибкой.
func (t *Tick) FinalizeFailure(err string) {
	now := time.Now().UTC()
	t.Status = TickStatusFailure
	t.Error = err
	t.FinishedAt = &now
}
