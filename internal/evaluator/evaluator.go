package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// Default configuration values.
const (
	defaultEvalInterval = 1 * time.Second
	defaultBatchSize    = 100

	// maxBackoffFactor — потолок backoff в базовых интервалах target'а.
	maxBackoffFactor = 5
)

// ErrSensorNotRegistered — для сенсора не зарегистрирована
// evaluation-функция. Такой tick финализируется как SKIPPED.
var ErrSensorNotRegistered = errors.New("no evaluation function registered")

// Provenance-теги: каждый run, созданный evaluation, помечается
// источником, чтобы по run можно было найти породивший его target.
const (
	TagTargetName = "conductor/target"
	TagTargetKind = "conductor/target_kind"
)

// TargetStore — хранилище targets. Реализуется repo.TargetRepo.
type TargetStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Target, error)
	Update(ctx context.Context, target *domain.Target) error
}

// TickStore — хранилище ticks. Реализуется repo.TickRepo.
type TickStore interface {
	Create(ctx context.Context, tick *domain.Tick) error
	Finalize(ctx context.Context, tick *domain.Tick) error
}

// Submitter — приём созданных runs. Реализуется coordinator.Coordinator.
type Submitter interface {
	Submit(ctx context.Context, run *domain.Run) error
}

// RunRequest — запрос сенсора на создание run.
type RunRequest struct {
	Payload  map[string]any
	Tags     []domain.Tag
	Priority int
}

// Decision — решение сенсора по итогам evaluation.
// Пустой Requests означает SKIPPED с указанной причиной.
type Decision struct {
	Requests   []RunRequest
	SkipReason string
}

// EvalFunc — evaluation-функция сенсора. Регистрируется по имени
// target'а; для сенсора без функции evaluation пропускается.
type EvalFunc func(ctx context.Context, target *domain.Target) (*Decision, error)

// Evaluator — цикл evaluation due targets.
type Evaluator struct {
	targets   TargetStore
	ticks     TickStore
	submitter Submitter

	sensorMu    sync.RWMutex
	sensorFuncs map[string]EvalFunc

	// stateMu защищает учёт in-flight targets и последовательных ошибок
	stateMu  sync.Mutex
	inFlight map[uuid.UUID]struct{}
	failures map[uuid.UUID]int

	interval     time.Duration
	batchSize    int
	schedulePool config.Pool
	sensorPool   config.Pool

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Evaluator.
type Config struct {
	Targets   TargetStore
	Ticks     TickStore
	Submitter Submitter

	// Interval — период основного цикла (default: 1s).
	Interval time.Duration

	// BatchSize — максимум due targets за один проход (default: 100).
	BatchSize int

	// SchedulePool, SensorPool — пулы воркеров по виду target.
	SchedulePool config.Pool
	SensorPool   config.Pool

	Logger *slog.Logger
}

// New создаёт новый Evaluator.
func New(cfg Config) *Evaluator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultEvalInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{
		targets:      cfg.Targets,
		ticks:        cfg.Ticks,
		submitter:    cfg.Submitter,
		sensorFuncs:  make(map[string]EvalFunc),
		inFlight:     make(map[uuid.UUID]struct{}),
		failures:     make(map[uuid.UUID]int),
		interval:     interval,
		batchSize:    batchSize,
		schedulePool: cfg.SchedulePool,
		sensorPool:   cfg.SensorPool,
		logger:       logger,
	}
}

// RegisterSensor регистрирует evaluation-функцию сенсора по имени target.
func (e *Evaluator) RegisterSensor(name string, fn EvalFunc) {
	e.sensorMu.Lock()
	defer e.sensorMu.Unlock()
	e.sensorFuncs[name] = fn
}

func (e *Evaluator) sensorFunc(name string) EvalFunc {
	e.sensorMu.RLock()
	defer e.sensorMu.RUnlock()
	return e.sensorFuncs[name]
}

// Start запускает основной цикл evaluation.
func (e *Evaluator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.logger.Info("starting tick evaluator",
		"interval", e.interval,
		"schedule_workers", e.schedulePool.NumWorkers,
		"sensor_workers", e.sensorPool.NumWorkers,
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Tick(ctx); err != nil {
					e.logger.Error("evaluator tick failed", "error", err)
				}
			}
		}
	}()

	e.logger.Info("tick evaluator started")
	return nil
}

// Stop останавливает evaluator и ждёт завершения evaluations.
func (e *Evaluator) Stop() {
	e.logger.Info("stopping tick evaluator...")
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.wg.Wait()
	e.logger.Info("tick evaluator stopped")
}

// Tick выполняет один проход evaluation.
//
// 1. Находит due targets (enabled=true, next_due_at <= now)
// 2. Раскладывает их по видам и прогоняет через пулы воркеров
//
// Ошибка одного target не блокирует обработку остальных: она
// фиксируется FAILURE tick'ом и backoff'ом самого target'а.
func (e *Evaluator) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := e.targets.ListDue(ctx, now, e.batchSize)
	if err != nil {
		return fmt.Errorf("list due targets: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	e.logger.Debug("found due targets", "count", len(due))

	var schedules, sensors []*domain.Target
	for i := range due {
		target := &due[i]
		// Target, evaluation которого ещё идёт, пропускается до
		// следующего прохода
		if !e.claim(target.ID) {
			continue
		}
		switch target.Kind {
		case domain.TargetKindSchedule:
			schedules = append(schedules, target)
		case domain.TargetKindSensor:
			sensors = append(sensors, target)
		default:
			e.release(target.ID)
			e.logger.Warn("unknown target kind", "target_id", target.ID, "kind", target.Kind)
		}
	}

	e.processGroup(ctx, schedules, e.schedulePool)
	e.processGroup(ctx, sensors, e.sensorPool)
	return nil
}

// processGroup прогоняет группу targets одного вида через пул воркеров.
func (e *Evaluator) processGroup(ctx context.Context, group []*domain.Target, pool config.Pool) {
	if len(group) == 0 {
		return
	}

	if !pool.UseThreads || len(group) == 1 {
		for _, target := range group {
			e.evaluateTarget(ctx, target)
		}
		return
	}

	work := make(chan *domain.Target)
	var wg sync.WaitGroup
	for w := 0; w < pool.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range work {
				e.evaluateTarget(ctx, target)
			}
		}()
	}
	for _, target := range group {
		work <- target
	}
	close(work)
	wg.Wait()
}

// claim помечает target как evaluating. false — evaluation уже идёт.
func (e *Evaluator) claim(id uuid.UUID) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

// release снимает пометку evaluating.
func (e *Evaluator) release(id uuid.UUID) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	delete(e.inFlight, id)
}

// recordFailure увеличивает счётчик последовательных ошибок target.
func (e *Evaluator) recordFailure(id uuid.UUID) int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.failures[id]++
	return e.failures[id]
}

// clearFailures сбрасывает счётчик после успешной evaluation.
func (e *Evaluator) clearFailures(id uuid.UUID) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	delete(e.failures, id)
}

// backoffDelay возвращает задержку перед следующей evaluation после
// fails последовательных ошибок: base * 2^(fails-1), но не больше
// пяти базовых интервалов.
func backoffDelay(target *domain.Target, fails int) time.Duration {
	base := target.BaseInterval()
	max := time.Duration(maxBackoffFactor) * base

	delay := base
	for i := 1; i < fails; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

// evaluateTarget выполняет одну evaluation: открывает tick,
// запускает evaluation, финализирует tick и переносит next_due_at.
func (e *Evaluator) evaluateTarget(ctx context.Context, target *domain.Target) {
	defer e.release(target.ID)

	now := time.Now().UTC()
	tick := domain.NewTick(target)
	if err := e.ticks.Create(ctx, tick); err != nil {
		e.logger.Error("failed to open tick",
			"target_id", target.ID,
			"target_name", target.Name,
			"error", err,
		)
		return
	}

	runIDs, skipReason, evalErr := e.evaluate(ctx, target)

	var nextDue time.Time
	switch {
	case evalErr != nil:
		tick.FinalizeFailure(evalErr.Error())
		// Runs, созданные до ошибки, привязываются к tick'у:
		// без этого частичный batch сенсора теряет provenance
		tick.RunIDs = runIDs
		fails := e.recordFailure(target.ID)
		nextDue = now.Add(backoffDelay(target, fails))
		e.logger.Error("evaluation failed",
			"target_id", target.ID,
			"target_name", target.Name,
			"consecutive_failures", fails,
			"next_due_at", nextDue,
			"error", evalErr,
		)
	case len(runIDs) == 0:
		tick.FinalizeSkipped(skipReason)
		e.clearFailures(target.ID)
		nextDue = e.nextDue(target, now)
	default:
		tick.FinalizeSuccess(runIDs)
		e.clearFailures(target.ID)
		nextDue = e.nextDue(target, now)
		e.logger.Info("evaluation created runs",
			"target_id", target.ID,
			"target_name", target.Name,
			"runs", len(runIDs),
		)
	}

	if err := e.ticks.Finalize(ctx, tick); err != nil {
		e.logger.Error("failed to finalize tick",
			"tick_id", tick.ID,
			"target_id", target.ID,
			"error", err,
		)
	}
	telemetry.Ticks.WithLabelValues(string(target.Kind), string(tick.Status)).Inc()

	target.RecordTick(now, nextDue)
	if err := e.targets.Update(ctx, target); err != nil {
		e.logger.Error("failed to update target",
			"target_id", target.ID,
			"error", err,
		)
	}
}

// nextDue вычисляет штатное следующее время evaluation.
func (e *Evaluator) nextDue(target *domain.Target, now time.Time) time.Time {
	nextDue, err := CalculateNextDue(target, now)
	if err != nil {
		// Расписание некорректно — откладываем на базовый интервал,
		// чтобы target не долбился каждый проход
		e.logger.Error("failed to calculate next due",
			"target_id", target.ID,
			"error", err,
		)
		return now.Add(target.BaseInterval())
	}
	return nextDue
}

// evaluate выполняет evaluation в зависимости от вида target.
// Паника evaluation-функции перехватывается и превращается в ошибку.
func (e *Evaluator) evaluate(ctx context.Context, target *domain.Target) (runIDs []uuid.UUID, skipReason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			runIDs, skipReason = nil, ""
			err = fmt.Errorf("evaluation panic: %v", r)
		}
	}()

	switch target.Kind {
	case domain.TargetKindSchedule:
		// Schedule срабатывает безусловно: due → run
		id, err := e.submitRun(ctx, target, RunRequest{})
		if err != nil {
			return nil, "", err
		}
		return []uuid.UUID{id}, "", nil

	case domain.TargetKindSensor:
		fn := e.sensorFunc(target.Name)
		if fn == nil {
			return nil, ErrSensorNotRegistered.Error(), nil
		}

		decision, err := fn(ctx, target)
		if err != nil {
			return nil, "", err
		}
		if decision == nil || len(decision.Requests) == 0 {
			reason := "sensor returned no run requests"
			if decision != nil && decision.SkipReason != "" {
				reason = decision.SkipReason
			}
			return nil, reason, nil
		}

		ids := make([]uuid.UUID, 0, len(decision.Requests))
		for _, request := range decision.Requests {
			id, err := e.submitRun(ctx, target, request)
			if err != nil {
				// Частично созданные runs остаются: они уже в системе,
				// и их ids фиксируются на FAILURE tick'е
				return ids, "", fmt.Errorf("submit run %d of %d: %w", len(ids)+1, len(decision.Requests), err)
			}
			ids = append(ids, id)
		}
		return ids, "", nil

	default:
		return nil, "", fmt.Errorf("unknown target kind %q", target.Kind)
	}
}

// submitRun создаёт run от имени target и передаёт его координатору.
func (e *Evaluator) submitRun(ctx context.Context, target *domain.Target, request RunRequest) (uuid.UUID, error) {
	tags := append([]domain.Tag{
		{Key: TagTargetName, Value: target.Name},
		{Key: TagTargetKind, Value: string(target.Kind)},
	}, request.Tags...)

	run := domain.NewRun(target.JobName, tags, request.Priority, request.Payload)
	if err := e.submitter.Submit(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("submit run for target %s: %w", target.Name, err)
	}
	return run.ID, nil
}
