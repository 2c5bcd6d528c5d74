package launcher

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrUnknownBackend — в реестре нет backend с таким именем.
var errUnknownBackend = fmt.Errorf("unknown launcher backend")

// Deps — зависимости, доступные фабрикам backend'ов.
type Deps struct {
	// Publisher — публикация команд launch/terminate (broker backend).
	Publisher CommandPublisher

	// Statuses — чтение статуса run из хранилища (broker backend).
	Statuses StatusStore

	// OnExit — уведомление о завершении подпроцесса (process backend).
	OnExit func(runID uuid.UUID, runErr error)

	Logger *slog.Logger
}

// Factory создаёт backend из зависимостей.
type Factory func(deps Deps) (Launcher, error)

// Registry — реестр backend'ов по имени.
// Выбор backend — конфигурационное решение, не наследование.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry создаёт реестр со встроенными backend'ами:
// process (локальный подпроцесс) и broker (агенты за RabbitMQ).
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("process", func(deps Deps) (Launcher, error) {
		return NewProcessLauncher(deps.Logger, deps.OnExit), nil
	})
	r.Register("broker", func(deps Deps) (Launcher, error) {
		return NewBrokerLauncher(deps.Publisher, deps.Statuses, deps.Logger)
	})
	return r
}

// Register добавляет фабрику backend.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Create создаёт backend по имени.
func (r *Registry) Create(name string, deps Deps) (Launcher, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, name)
	}
	return factory(deps)
}
