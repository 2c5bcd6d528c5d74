// Conductor Daemon — долгоживущие циклы control plane.
//
// Daemon объединяет:
//   - Run Coordinator: допуск runs через Concurrency Ledger и очередь
//   - Tick Evaluator: evaluation due schedules и sensors
//   - Retention Sweeper: удаление старых ticks
//
// Снимок ledger доступен по HTTP (/api/v1/ledger) вместе с /healthz
// и /metrics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conductor/internal/api"
	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/coordinator"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/evaluator"
	"github.com/shaiso/Conductor/internal/launcher"
	"github.com/shaiso/Conductor/internal/ledger"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/sweeper"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-daemon")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	tickRepo := repo.NewTickRepo(pool)
	targetRepo := repo.NewTargetRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := cfg.RabbitMQURL
	if mqURL == "" {
		mqURL = mq.DefaultURL
	}
	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Concurrency Ledger + экспорт занятости в метрики
	ldg := ledger.New(cfg.MaxConcurrentRuns, cfg.TagLimits)
	ldg.SetOnChange(func(s ledger.Snapshot) {
		telemetry.LedgerGlobal.Set(float64(s.Global))
		telemetry.LedgerOccupancy.Reset()
		for key, n := range s.Counts {
			telemetry.LedgerOccupancy.WithLabelValues(key).Set(float64(n))
		}
	})

	// Launcher backend по имени из конфигурации.
	// coord объявлен заранее: process backend сообщает о завершениях
	// подпроцессов напрямую координатору.
	var coord *coordinator.Coordinator
	deps := launcher.Deps{
		Statuses: runRepo,
		Logger:   logger,
		OnExit: func(runID uuid.UUID, runErr error) {
			if coord == nil {
				return
			}
			status := domain.RunStatusSuccess
			errText := ""
			if runErr != nil {
				status = domain.RunStatusFailure
				errText = runErr.Error()
			}
			if err := coord.Finalize(context.Background(), runID, status, errText); err != nil {
				logger.Error("failed to finalize exited run", "run_id", runID, "error", err)
			}
		},
	}
	if publisher != nil {
		deps.Publisher = publisher
	}

	launch, err := launcher.NewRegistry().Create(cfg.Launcher, deps)
	if err != nil {
		logger.Error("failed to create launcher", "launcher", cfg.Launcher, "error", err)
		os.Exit(1)
	}
	logger.Info("launcher ready", "backend", launch.Name())

	// Run Coordinator
	coord = coordinator.New(coordinator.Config{
		Runs:     runRepo,
		Ledger:   ldg,
		Launcher: launch,
		Conn:     mqConn,
		Interval: cfg.DequeueInterval,
		Pool:     cfg.Dequeue,
		Logger:   logger,
	})

	// Tick Evaluator
	eval := evaluator.New(evaluator.Config{
		Targets:      targetRepo,
		Ticks:        tickRepo,
		Submitter:    coord,
		SchedulePool: cfg.Schedule,
		SensorPool:   cfg.Sensor,
		Logger:       logger,
	})

	// Retention Sweeper
	sweep := sweeper.New(sweeper.Config{
		Ticks:             tickRepo,
		ScheduleRetention: cfg.ScheduleRetention,
		SensorRetention:   cfg.SensorRetention,
		Logger:            logger,
	})

	// Запускаем компоненты
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Start(gctx) })
	g.Go(func() error { return eval.Start(gctx) })
	g.Go(func() error { return sweep.Start(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("failed to start daemon components", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics + снимок ledger
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.RegisterLedgerRoute(mux, ldg, logger)

	addr := ":" + cfg.DaemonPort
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем в обратном порядке: сначала новые evaluations,
	// потом очистка, последним — координатор с его очередью
	eval.Stop()
	sweep.Stop()
	coord.Stop()
	logger.Info("conductor-daemon stopped")
}
