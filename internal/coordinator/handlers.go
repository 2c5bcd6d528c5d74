package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/repo"
)

// handleRunSubmitted обрабатывает сообщение о новом run из API.
// Run уже сохранён в БД — остаётся попробовать немедленный допуск.
func (c *Coordinator) handleRunSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunSubmittedPayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("parse run.submitted payload: %w", err)
	}

	run, err := c.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Run исчез (например, уже отменён) — подтверждаем и забываем
			c.logger.Warn("submitted run not found", "run_id", payload.RunID)
			return nil
		}
		return err
	}

	if run.Status != domain.RunStatusQueued {
		return nil
	}

	c.admitOrEnqueue(ctx, run)
	return nil
}

// handleRunCompleted обрабатывает отчёт backend о финальном статусе run.
func (c *Coordinator) handleRunCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunCompletedPayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("parse run.completed payload: %w", err)
	}

	if !payload.Status.IsTerminal() {
		return fmt.Errorf("run.completed with non-terminal status %s", payload.Status)
	}

	if err := c.Finalize(ctx, payload.RunID, payload.Status, payload.Error); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.logger.Warn("completed run not found", "run_id", payload.RunID)
			return nil
		}
		return err
	}
	return nil
}
