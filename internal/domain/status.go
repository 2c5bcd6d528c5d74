package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	QUEUED → STARTING → STARTED → SUCCESS
//	                            ↘ FAILURE
//	        (или) → CANCELING → CANCELED
type RunStatus string

const (
	// RunStatusQueued — run принят, ждёт допуска (admission) в очереди.
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusStarting — допуск получен, launcher запускает окружение.
	RunStatusStarting RunStatus = "STARTING"

	// RunStatusStarted — окружение подтвердило запуск, run выполняется.
	RunStatusStarted RunStatus = "STARTED"

	// RunStatusSuccess — run успешно завершён.
	RunStatusSuccess RunStatus = "SUCCESS"

	// RunStatusFailure — run завершился с ошибкой
	// (в том числе если launcher не смог создать окружение).
	RunStatusFailure RunStatus = "FAILURE"

	// RunStatusCanceling — запрошена отмена, ждём подтверждения backend.
	RunStatusCanceling RunStatus = "CANCELING"

	// RunStatusCanceled — run отменён.
	RunStatusCanceled RunStatus = "CANCELED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// TickStatus — статус tick (результат одной evaluation).
//
// Жизненный цикл:
//
//	STARTED → SUCCESS | SKIPPED | FAILURE
type TickStatus string

const (
	// TickStatusStarted — evaluation началась, tick ещё не финализирован.
	TickStatusStarted TickStatus = "STARTED"

	// TickStatusSkipped — evaluation прошла, но runs не создавались.
	TickStatusSkipped TickStatus = "SKIPPED"

	// TickStatusSuccess — evaluation прошла, созданы runs.
	TickStatusSuccess TickStatus = "SUCCESS"

	// TickStatusFailure — evaluation упала; ошибка сохранена в tick.
	TickStatusFailure TickStatus = "FAILURE"
)

// IsFinal возвращает true, если tick финализирован.
func (s TickStatus) IsFinal() bool {
	return s != TickStatusStarted
}

// TargetKind — вид target: schedule или sensor.
type TargetKind string

const (
	// TargetKindSchedule — запуск по времени (cron или интервал).
	TargetKindSchedule TargetKind = "SCHEDULE"

	// TargetKindSensor — запуск по внешнему условию.
	TargetKindSensor TargetKind = "SENSOR"
)
