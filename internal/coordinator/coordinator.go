package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/launcher"
	"github.com/shaiso/Conductor/internal/ledger"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// Default configuration values.
const (
	defaultDequeueInterval = 5 * time.Second
	defaultPollInterval    = 30 * time.Second
	defaultRecoveryBatch   = 500
)

// RunStore — хранилище runs, нужное координатору.
// Реализуется repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error)
}

// Coordinator решает, когда и как запускается каждый run.
//
// Поток управления: Submit фиксирует run в QUEUED и пробует немедленный
// допуск через Ledger; при отказе run остаётся в очереди. Фоновый
// dequeue-цикл на каждом тике повторяет допуск для очереди; занятая
// голова не блокирует runs позади себя. Завершения приходят из очереди
// runs.completed (и через polling fallback) и освобождают ёмкость.
type Coordinator struct {
	runs   RunStore
	ledger *ledger.Ledger
	launch launcher.Launcher

	queue *runQueue

	// MQ (опционально)
	conn              *mq.Connection
	submittedConsumer *mq.Consumer
	completedConsumer *mq.Consumer

	// Configuration
	interval     time.Duration
	pollInterval time.Duration
	pool         config.Pool

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Coordinator.
type Config struct {
	Runs     RunStore
	Ledger   *ledger.Ledger
	Launcher launcher.Launcher

	// Conn — соединение с RabbitMQ; nil — режим polling-only.
	Conn *mq.Connection

	// Interval — период dequeue-цикла (default: 5s).
	Interval time.Duration

	// PollInterval — период polling fallback (default: 30s).
	PollInterval time.Duration

	// Pool — пул воркеров для диспетчеризации допущенных runs.
	Pool config.Pool

	Logger *slog.Logger
}

// New создаёт новый Coordinator.
func New(cfg Config) *Coordinator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultDequeueInterval
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		runs:         cfg.Runs,
		ledger:       cfg.Ledger,
		launch:       cfg.Launcher,
		queue:        newRunQueue(),
		conn:         cfg.Conn,
		interval:     interval,
		pollInterval: pollInterval,
		pool:         cfg.Pool,
		logger:       logger,
	}
}

// Submit принимает run: сохраняет его в QUEUED и пробует немедленный
// допуск. Отказ допуска — не ошибка: run ждёт в очереди.
func (c *Coordinator) Submit(ctx context.Context, run *domain.Run) error {
	if run.Status != domain.RunStatusQueued {
		return ErrNotQueued
	}

	if err := c.runs.Create(ctx, run); err != nil {
		return err
	}

	c.admitOrEnqueue(ctx, run)
	return nil
}

// admitOrEnqueue пробует немедленный допуск, иначе ставит run в очередь.
func (c *Coordinator) admitOrEnqueue(ctx context.Context, run *domain.Run) {
	if c.ledger.Reserve(run) {
		c.dispatch(ctx, run)
	} else {
		c.queue.Push(run)
		c.logger.Debug("run enqueued", "run_id", run.ID, "priority", run.Priority)
	}
	telemetry.QueueDepth.Set(float64(c.queue.Len()))
}

// Start запускает фоновые циклы координатора.
//
// Запускает:
//   - Dequeue-цикл (допуск очереди по тикам)
//   - Consumer для runs.submitted и runs.completed (если есть MQ)
//   - Polling fallback по БД
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting run coordinator",
		"dequeue_interval", c.interval,
		"use_threads", c.pool.UseThreads,
		"num_workers", c.pool.NumWorkers,
	)

	// Восстанавливаем очередь из БД (runs, принятые до рестарта)
	if err := c.recoverQueued(ctx); err != nil {
		return err
	}

	if c.conn != nil {
		c.submittedConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsSubmitted),
			Handler:  c.handleRunSubmitted,
			Prefetch: 10,
		})
		c.completedConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsCompleted),
			Handler:  c.handleRunCompleted,
			Prefetch: 10,
		})

		for _, consumer := range []*mq.Consumer{c.submittedConsumer, c.completedConsumer} {
			consumer := consumer
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Error("consumer error", "error", err)
				}
			}()
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dequeueLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx)
	}()

	c.logger.Info("run coordinator started")
	return nil
}

// Stop останавливает координатор и ждёт завершения горутин.
func (c *Coordinator) Stop() {
	c.logger.Info("stopping run coordinator...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	if c.submittedConsumer != nil {
		c.submittedConsumer.Stop()
	}
	if c.completedConsumer != nil {
		c.completedConsumer.Stop()
	}

	c.wg.Wait()

	c.logger.Info("run coordinator stopped", "queue_depth", c.queue.Len())
}

// QueueDepth возвращает текущую глубину очереди.
func (c *Coordinator) QueueDepth() int {
	return c.queue.Len()
}

// recoverQueued загружает QUEUED runs из БД в очередь.
func (c *Coordinator) recoverQueued(ctx context.Context) error {
	runs, err := c.runs.ListByStatus(ctx, domain.RunStatusQueued, defaultRecoveryBatch)
	if err != nil {
		return err
	}

	for i := range runs {
		run := runs[i]
		c.queue.Push(&run)
	}

	if len(runs) > 0 {
		c.logger.Info("recovered queued runs", "count", len(runs))
	}
	telemetry.QueueDepth.Set(float64(c.queue.Len()))
	return nil
}

// dequeueLoop — фоновый цикл допуска очереди.
func (c *Coordinator) dequeueLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.dequeuePass(ctx)
		}
	}
}

// dequeuePass — один проход по очереди.
//
// Извлекает runs в порядке очереди и пробует допуск каждого.
// Отказанные возвращаются на свои места: занятая голова (например,
// по насыщенному tag-лимиту) не блокирует runs позади неё, для
// которых ёмкость есть. Ledger-блокировка не удерживается через
// вызов Launch.
func (c *Coordinator) dequeuePass(ctx context.Context) {
	var admitted []*domain.Run
	var denied []*queueItem

	for {
		item := c.queue.popItem()
		if item == nil {
			break
		}
		if c.ledger.Reserve(item.run) {
			c.queue.forget(item.run.ID)
			admitted = append(admitted, item.run)
		} else {
			denied = append(denied, item)
		}
	}

	// Отказанные возвращаются с исходным seq — порядок сохранён
	for _, item := range denied {
		c.queue.pushItem(item)
	}

	telemetry.QueueDepth.Set(float64(c.queue.Len()))

	if len(admitted) == 0 {
		return
	}

	c.logger.Debug("dequeue pass admitted runs",
		"admitted", len(admitted),
		"denied", len(denied),
	)

	if !c.pool.UseThreads || len(admitted) == 1 {
		for _, run := range admitted {
			c.dispatch(ctx, run)
		}
		return
	}

	// Диспетчеризация пулом: ширина ограничивает нагрузку на backend
	work := make(chan *domain.Run)
	var wg sync.WaitGroup
	for w := 0; w < c.pool.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for run := range work {
				c.dispatch(ctx, run)
			}
		}()
	}
	for _, run := range admitted {
		work <- run
	}
	close(work)
	wg.Wait()
}

// dispatch передаёт допущенный run launcher'у.
//
// Вызывается только после успешного Reserve. Ошибка запуска переводит
// run в FAILURE и освобождает ёмкость; координатор не повторяет запуск —
// retry остаётся решением вызывающей стороны.
func (c *Coordinator) dispatch(ctx context.Context, run *domain.Run) {
	// Статус мог измениться, пока run ждал в очереди: отмена через API
	// пишется прямо в БД, минуя очередь координатора
	if fresh, err := c.runs.GetByID(ctx, run.ID); err == nil && fresh.Status != domain.RunStatusQueued {
		c.logger.Debug("skipping dispatch, run no longer queued",
			"run_id", run.ID,
			"status", fresh.Status,
		)
		c.ledger.Release(run.ID)
		return
	}

	run.MarkStarting()
	if err := c.runs.Update(ctx, run); err != nil {
		c.logger.Error("failed to mark run starting", "run_id", run.ID, "error", err)
	}

	if err := c.launch.Launch(ctx, run); err != nil {
		c.logger.Error("launch failed", "run_id", run.ID, "error", err)

		run.MarkFailure(err.Error())
		if updateErr := c.runs.Update(ctx, run); updateErr != nil {
			c.logger.Error("failed to mark run failure", "run_id", run.ID, "error", updateErr)
		}
		c.ledger.Release(run.ID)

		telemetry.LaunchFailures.Inc()
		telemetry.RunsFinished.WithLabelValues(string(domain.RunStatusFailure)).Inc()
		return
	}

	run.MarkStarted()
	if err := c.runs.Update(ctx, run); err != nil {
		c.logger.Error("failed to mark run started", "run_id", run.ID, "error", err)
	}

	telemetry.RunsLaunched.Inc()
	c.logger.Info("run started", "run_id", run.ID, "job", run.JobName)
}

// Finalize фиксирует финальный статус run и освобождает ёмкость.
// Идемпотентна: повтор для уже финального run — no-op.
func (c *Coordinator) Finalize(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errText string) error {
	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		c.ledger.Release(runID)
		return nil
	}

	switch {
	case run.Status == domain.RunStatusCanceling:
		// Завершение после запрошенной отмены — это отмена,
		// даже если процесс вышел с ошибкой
		run.MarkCanceled()
	case status == domain.RunStatusSuccess:
		run.MarkSuccess()
	case status == domain.RunStatusCanceled:
		run.MarkCanceled()
	default:
		run.MarkFailure(errText)
	}

	if err := c.runs.Update(ctx, run); err != nil {
		return err
	}
	c.ledger.Release(runID)

	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	c.logger.Info("run finished",
		"run_id", run.ID,
		"status", run.Status,
		"duration", run.Duration(),
	)
	return nil
}

// Cancel отменяет run.
//
// Run в очереди снимается без обращения к backend. Запущенный run
// переводится в CANCELING, остановку выполняет launcher; CANCELED
// фиксируется через Finalize, когда backend подтвердит завершение.
func (c *Coordinator) Cancel(ctx context.Context, runID uuid.UUID, policy launcher.Policy) error {
	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return launcher.ErrAlreadyTerminal
	}

	if queued := c.queue.Remove(runID); queued != nil {
		queued.MarkCanceled()
		if err := c.runs.Update(ctx, queued); err != nil {
			return err
		}
		telemetry.QueueDepth.Set(float64(c.queue.Len()))
		telemetry.RunsFinished.WithLabelValues(string(domain.RunStatusCanceled)).Inc()
		c.logger.Info("queued run canceled", "run_id", runID)
		return nil
	}

	run.MarkCanceling()
	if err := c.runs.Update(ctx, run); err != nil {
		return err
	}

	return c.launch.Terminate(ctx, run, policy)
}

// pollLoop — polling fallback: подхватывает QUEUED runs, принятые
// мимо MQ, и завершения, потерянные очередью runs.completed.
func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (c *Coordinator) poll(ctx context.Context) {
	// QUEUED runs из БД, которых нет в очереди
	queued, err := c.runs.ListByStatus(ctx, domain.RunStatusQueued, defaultRecoveryBatch)
	if err != nil {
		c.logger.Error("failed to list queued runs", "error", err)
	} else {
		for i := range queued {
			run := queued[i]
			c.queue.Push(&run)
		}
	}

	// Запущенные runs: сверяем статус с backend
	for _, status := range []domain.RunStatus{domain.RunStatusStarted, domain.RunStatusCanceling} {
		runs, err := c.runs.ListByStatus(ctx, status, defaultRecoveryBatch)
		if err != nil {
			c.logger.Error("failed to list running runs", "error", err)
			continue
		}
		for i := range runs {
			run := runs[i]
			observed, err := c.launch.PollStatus(ctx, run.ID)
			if err != nil {
				// CANCELING run, который backend не знает и который так и
				// не стартовал: отмена обогнала запуск, процесса не будет
				if run.Status == domain.RunStatusCanceling && run.StartedAt == nil {
					if err := c.Finalize(ctx, run.ID, domain.RunStatusCanceled, ""); err != nil {
						c.logger.Error("failed to finalize unlaunched canceling run", "run_id", run.ID, "error", err)
					}
					continue
				}
				c.logger.Debug("poll status unavailable", "run_id", run.ID, "error", err)
				continue
			}
			if observed.IsTerminal() {
				if err := c.Finalize(ctx, run.ID, observed, run.Error); err != nil {
					c.logger.Error("failed to finalize polled run", "run_id", run.ID, "error", err)
				}
			}
		}
	}
}
