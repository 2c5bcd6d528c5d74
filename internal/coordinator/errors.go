package coordinator

import "errors"

// Ошибки координатора.
var (
	// ErrNotQueued — run не в статусе QUEUED при приёме.
	ErrNotQueued = errors.New("run is not in QUEUED status")

	// ErrRunFinished — операция невозможна: run уже финален.
	ErrRunFinished = errors.New("run already finished")
)
