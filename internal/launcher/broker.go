package launcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// CommandPublisher — публикация команд launch/terminate в брокер.
// Реализуется mq.Publisher.
type CommandPublisher interface {
	PublishRunLaunch(ctx context.Context, run *domain.Run) error
	PublishRunTerminate(ctx context.Context, runID uuid.UUID, policy string) error
}

// StatusStore — чтение текущего статуса run.
// Реализуется repo.RunRepo.
type StatusStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// BrokerLauncher передаёт runs удалённым агентам через RabbitMQ.
//
// Launch и Terminate публикуют команды в очереди runs.launch и
// runs.terminate; финальные статусы агенты сообщают через
// runs.completed, поэтому PollStatus читает run из хранилища.
type BrokerLauncher struct {
	publisher CommandPublisher
	statuses  StatusStore
	logger    *slog.Logger
}

// NewBrokerLauncher создаёт broker backend.
func NewBrokerLauncher(publisher CommandPublisher, statuses StatusStore, logger *slog.Logger) (*BrokerLauncher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("broker launcher requires a publisher (is RabbitMQ configured?)")
	}
	if statuses == nil {
		return nil, fmt.Errorf("broker launcher requires a status store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerLauncher{
		publisher: publisher,
		statuses:  statuses,
		logger:    logger,
	}, nil
}

// Name возвращает имя backend.
func (b *BrokerLauncher) Name() string { return "broker" }

// Launch публикует команду запуска. Ошибка публикации означает,
// что окружение создать не удалось — координатор получает LaunchError.
func (b *BrokerLauncher) Launch(ctx context.Context, run *domain.Run) error {
	if err := b.publisher.PublishRunLaunch(ctx, run); err != nil {
		return &LaunchError{RunID: run.ID, Err: err}
	}
	b.logger.Info("launch command published", "run_id", run.ID, "job", run.JobName)
	return nil
}

// Terminate публикует команду остановки.
// Для уже финального run возвращает ErrAlreadyTerminal.
func (b *BrokerLauncher) Terminate(ctx context.Context, run *domain.Run, policy Policy) error {
	current, err := b.statuses.GetByID(ctx, run.ID)
	if err != nil {
		return &TerminationError{RunID: run.ID, Err: err}
	}
	if current.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}

	if err := b.publisher.PublishRunTerminate(ctx, run.ID, string(policy)); err != nil {
		return &TerminationError{RunID: run.ID, Err: err}
	}

	b.logger.Info("terminate command published",
		"run_id", run.ID,
		"policy", policy,
	)
	return nil
}

// PollStatus возвращает статус run из хранилища.
func (b *BrokerLauncher) PollStatus(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	run, err := b.statuses.GetByID(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}
