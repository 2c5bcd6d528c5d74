// Package launcher — запуск и остановка runs в execution backend.
//
// Launcher — это capability-интерфейс: control plane не знает, как
// именно исполняется run (локальный подпроцесс, агент за брокером,
// job в кластере). Конкретный backend выбирается по имени из реестра
// при загрузке конфигурации.
package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// Policy — семантика остановки run.
type Policy string

const (
	// PolicySafe — кооперативная остановка: run получает сигнал,
	// выполняет собственный cleanup и освобождает ресурсы штатно.
	// Успех означает «сигнал доставлен», не «выполнение остановлено».
	PolicySafe Policy = "SAFE"

	// PolicyImmediate — принудительное уничтожение окружения без
	// ожидания cleanup. Может оставить за собой внешние ресурсы,
	// созданные run'ом: никакая очистка не гарантируется.
	PolicyImmediate Policy = "IMMEDIATE"
)

// Launcher — backend, умеющий запускать и останавливать runs.
type Launcher interface {
	// Name возвращает имя backend в реестре.
	Name() string

	// Launch запускает выполнение run. Возвращает *LaunchError,
	// если backend не смог создать окружение — координатор переводит
	// такой run в FAILURE и освобождает ёмкость.
	Launch(ctx context.Context, run *domain.Run) error

	// Terminate останавливает run согласно policy.
	// Возвращает ErrAlreadyTerminal, если run уже финален — это
	// no-op исход, а не ошибка остановки.
	Terminate(ctx context.Context, run *domain.Run, policy Policy) error

	// PollStatus возвращает текущий статус run с точки зрения backend.
	PollStatus(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error)
}

// ErrAlreadyTerminal — остановка запрошена для уже завершённого run.
var ErrAlreadyTerminal = errors.New("run already in terminal status")

// LaunchError — backend не смог создать окружение для run.
type LaunchError struct {
	RunID uuid.UUID
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch run %s: %v", e.RunID, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// TerminationError — backend отказался или не смог остановить run.
type TerminationError struct {
	RunID uuid.UUID
	Err   error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate run %s: %v", e.RunID, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}
