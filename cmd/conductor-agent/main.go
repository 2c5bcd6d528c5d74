// Conductor Agent — исполнитель runs за брокером.
//
// Agent получает команды runs.launch и runs.terminate из RabbitMQ,
// исполняет runs локальными подпроцессами и сообщает финальные
// статусы через runs.completed. Используется с broker backend
// daemon'а; агентов может быть несколько.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/launcher"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-agent")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// RabbitMQ обязателен: агент без брокера бесполезен
	mqURL := cfg.RabbitMQURL
	if mqURL == "" {
		mqURL = mq.DefaultURL
	}
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}

	publisher := mq.NewPublisher(mqConn, logger)

	// Подпроцессы с отчётом о завершении в runs.completed
	proc := launcher.NewProcessLauncher(logger, func(runID uuid.UUID, runErr error) {
		status := domain.RunStatusSuccess
		errText := ""
		if runErr != nil {
			status = domain.RunStatusFailure
			errText = runErr.Error()
		}
		if err := publisher.PublishRunCompleted(context.Background(), runID, status, errText); err != nil {
			logger.Error("failed to publish run.completed", "run_id", runID, "error", err)
		}
	})

	// Команда запуска
	launchConsumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunsLaunch),
		Prefetch: 10,
		Handler: func(ctx context.Context, delivery *mq.Delivery) error {
			payload, err := mq.ParsePayload[mq.RunLaunchPayload](&delivery.Message)
			if err != nil {
				return fmt.Errorf("parse run.launch payload: %w", err)
			}

			run := &domain.Run{
				ID:      payload.RunID,
				JobName: payload.JobName,
				Payload: payload.Payload,
			}
			if err := proc.Launch(ctx, run); err != nil {
				// Окружение не создалось: сообщаем FAILURE, чтобы
				// координатор освободил ёмкость
				logger.Error("launch failed", "run_id", run.ID, "error", err)
				return publisher.PublishRunCompleted(ctx, run.ID, domain.RunStatusFailure, err.Error())
			}
			return nil
		},
	})

	// Команда остановки приходит в персональную очередь: остановить
	// процесс может только агент, который его держит, поэтому каждый
	// агент получает копию команды через fanout
	agentID := agentID()
	logger.Info("agent identity", "agent_id", agentID)

	terminateConsumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    string(mq.AgentTerminateQueue(agentID)),
		Declare:  mq.AgentTerminateDeclare(agentID),
		Prefetch: 10,
		Handler: func(ctx context.Context, delivery *mq.Delivery) error {
			payload, err := mq.ParsePayload[mq.RunTerminatePayload](&delivery.Message)
			if err != nil {
				return fmt.Errorf("parse run.terminate payload: %w", err)
			}

			run := &domain.Run{ID: payload.RunID}
			err = proc.Terminate(ctx, run, launcher.Policy(payload.Policy))
			switch {
			case err == nil:
				return nil
			case errors.Is(err, launcher.ErrAlreadyTerminal):
				// Процесс уже завершился — отчёт уже ушёл
				return nil
			default:
				// Процесс не у этого агента: подтверждаем, остановит
				// тот агент, который его запускал
				logger.Debug("terminate skipped", "run_id", payload.RunID, "error", err)
				return nil
			}
		},
	})

	for _, consumer := range []*mq.Consumer{launchConsumer, terminateConsumer} {
		consumer := consumer
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer error", "error", err)
				cancel()
			}
		}()
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8084"
	if v := os.Getenv("AGENT_PORT"); v != "" {
		addr = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	launchConsumer.Stop()
	terminateConsumer.Stop()
	logger.Info("conductor-agent stopped")
}

// agentID возвращает идентификатор агента для имени персональной
// очереди. Hostname+pid различает и агентов на одной машине.
func agentID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "agent"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
