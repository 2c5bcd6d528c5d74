package termination

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/launcher"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// Ошибки валидации batch-запроса.
var (
	// ErrEmptyRequest — batch без единого run.
	ErrEmptyRequest = errors.New("termination request contains no runs")

	// ErrForceRequired — в batch есть runs без поддержки безопасной
	// остановки, а force не задан. Принудительная остановка может
	// оставить за собой внешние ресурсы, поэтому требует явного согласия.
	ErrForceRequired = errors.New("batch contains runs without safe termination support, force required")
)

// RunCanceler — отмена одного run. Реализуется coordinator.Coordinator.
type RunCanceler interface {
	Cancel(ctx context.Context, runID uuid.UUID, policy launcher.Policy) error
}

// Request — batch-запрос на остановку.
//
// Runs отображает id run на признак «backend умеет останавливать
// этот run безопасно». Policy выбирается одна на весь batch:
// SAFE, только если безопасную остановку поддерживают все runs,
// иначе IMMEDIATE — и тогда обязателен Force.
type Request struct {
	Runs  map[uuid.UUID]bool
	Force bool
}

// Policy возвращает policy остановки для batch.
func (r Request) Policy() (launcher.Policy, error) {
	if len(r.Runs) == 0 {
		return "", ErrEmptyRequest
	}
	for _, safe := range r.Runs {
		if !safe {
			if !r.Force {
				return "", ErrForceRequired
			}
			return launcher.PolicyImmediate, nil
		}
	}
	return launcher.PolicySafe, nil
}

// Progress — состояние обработки batch.
type Progress struct {
	// Completed — сколько runs обработано (включая уже финальные).
	Completed int

	// Total — размер batch.
	Total int

	// Errors — ошибки остановки по id run.
	Errors map[uuid.UUID]string
}

// Controller последовательно исполняет batch-остановки runs.
type Controller struct {
	canceler RunCanceler
	logger   *slog.Logger

	// listener получает снимок Progress после каждого run; отправка
	// неблокирующая — медленный получатель теряет промежуточные
	// снимки, но не тормозит остановку
	listener chan<- Progress
}

// New создаёт Controller поверх canceler.
func New(canceler RunCanceler, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{canceler: canceler, logger: logger}
}

// SetListener подключает канал для снимков Progress.
func (c *Controller) SetListener(ch chan<- Progress) {
	c.listener = ch
}

// Terminate исполняет batch-остановку.
//
// Runs обрабатываются последовательно в детерминированном порядке
// (по id). Уже финальный run считается обработанным без ошибки.
// Начатый batch доводится до конца, даже если запросивший клиент
// отключился: контекст вызова отвязывается от отмены.
func (c *Controller) Terminate(ctx context.Context, req Request) (Progress, error) {
	policy, err := req.Policy()
	if err != nil {
		return Progress{}, err
	}

	ids := make([]uuid.UUID, 0, len(req.Runs))
	for id := range req.Runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	c.logger.Info("terminating run batch",
		"total", len(ids),
		"policy", policy,
	)

	// Остановка должна завершиться, даже если HTTP-клиент ушёл
	ctx = context.WithoutCancel(ctx)

	progress := Progress{
		Total:  len(ids),
		Errors: make(map[uuid.UUID]string),
	}

	for _, id := range ids {
		switch err := c.canceler.Cancel(ctx, id, policy); {
		case err == nil:
			telemetry.Terminations.WithLabelValues("requested").Inc()
		case errors.Is(err, launcher.ErrAlreadyTerminal):
			telemetry.Terminations.WithLabelValues("already_terminal").Inc()
		default:
			progress.Errors[id] = err.Error()
			telemetry.Terminations.WithLabelValues("failed").Inc()
			c.logger.Error("failed to terminate run", "run_id", id, "error", err)
		}

		progress.Completed++
		c.notify(progress)
	}

	c.logger.Info("run batch terminated",
		"total", progress.Total,
		"errors", len(progress.Errors),
	)
	return progress, nil
}

// notify отправляет снимок Progress без блокировки.
func (c *Controller) notify(progress Progress) {
	if c.listener == nil {
		return
	}

	snapshot := progress
	snapshot.Errors = make(map[uuid.UUID]string, len(progress.Errors))
	for id, msg := range progress.Errors {
		snapshot.Errors[id] = msg
	}

	select {
	case c.listener <- snapshot:
	default:
	}
}
