package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// defaultSweepInterval — период между проходами sweeper'а.
const defaultSweepInterval = 1 * time.Hour

// finalStatuses — статусы ticks, подпадающие под retention.
var finalStatuses = []domain.TickStatus{
	domain.TickStatusSkipped,
	domain.TickStatusFailure,
	domain.TickStatusSuccess,
}

// TickStore — операция удаления ticks. Реализуется repo.TickRepo.
type TickStore interface {
	PurgeOlderThan(ctx context.Context, kind domain.TargetKind, status domain.TickStatus, cutoff time.Time) (int64, error)
}

// Sweeper удаляет ticks, пережившие свой порог retention.
type Sweeper struct {
	ticks TickStore

	schedule config.Retention
	sensor   config.Retention

	interval time.Duration
	now      func() time.Time

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Sweeper.
type Config struct {
	Ticks TickStore

	// ScheduleRetention, SensorRetention — пороги по виду target.
	ScheduleRetention config.Retention
	SensorRetention   config.Retention

	// Interval — период между проходами (default: 1h).
	Interval time.Duration

	Logger *slog.Logger
}

// New создаёт новый Sweeper.
func New(cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		ticks:    cfg.Ticks,
		schedule: cfg.ScheduleRetention,
		sensor:   cfg.SensorRetention,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Start запускает периодические проходы sweeper'а.
func (s *Sweeper) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting retention sweeper", "interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return nil
}

// Stop останавливает sweeper.
func (s *Sweeper) Stop() {
	s.logger.Info("stopping retention sweeper...")
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

// Sweep выполняет один проход: для каждой комбинации вид × статус
// удаляет ticks старше порога. Повторный проход по уже очищенным
// данным — no-op. Возвращает общее число удалённых ticks.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	var total int64
	total += s.sweepKind(ctx, domain.TargetKindSchedule, s.schedule)
	total += s.sweepKind(ctx, domain.TargetKindSensor, s.sensor)

	if total > 0 {
		s.logger.Info("retention sweep completed", "purged", total)
	}
	return total
}

// sweepKind удаляет просроченные ticks одного вида target.
func (s *Sweeper) sweepKind(ctx context.Context, kind domain.TargetKind, retention config.Retention) int64 {
	var total int64
	now := s.now()

	for _, status := range finalStatuses {
		days := retention.Days(status)
		if days < 0 {
			// -1 — хранить вечно
			continue
		}

		cutoff := now.AddDate(0, 0, -days)
		purged, err := s.ticks.PurgeOlderThan(ctx, kind, status, cutoff)
		if err != nil {
			s.logger.Error("failed to purge ticks",
				"kind", kind,
				"status", status,
				"error", err,
			)
			continue
		}

		if purged > 0 {
			telemetry.TicksPurged.WithLabelValues(string(kind)).Add(float64(purged))
			s.logger.Debug("purged ticks",
				"kind", kind,
				"status", status,
				"cutoff", cutoff,
				"count", purged,
			)
		}
		total += purged
	}
	return total
}
