package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conductor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunSubmitted MessageType = "run.submitted"
	MessageTypeRunLaunch    MessageType = "run.launch"
	MessageTypeRunTerminate MessageType = "run.terminate"
	MessageTypeRunCompleted MessageType = "run.completed"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunSubmittedPayload — payload для сообщения о принятом run.
type RunSubmittedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunLaunchPayload — команда запуска для агента.
type RunLaunchPayload struct {
	RunID   uuid.UUID      `json:"run_id"`
	JobName string         `json:"job_name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RunTerminatePayload — команда остановки для агента.
// Policy: SAFE — кооперативная остановка, IMMEDIATE — принудительная.
type RunTerminatePayload struct {
	RunID  uuid.UUID `json:"run_id"`
	Policy string    `json:"policy"`
}

// RunCompletedPayload — отчёт агента о финальном статусе run.
type RunCompletedPayload struct {
	RunID  uuid.UUID        `json:"run_id"`
	Status domain.RunStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	p.logger.Debug("published message",
		"type", msg.Type,
		"message_id", msg.ID,
		"routing_key", routingKey,
	)
	return nil
}

// PublishRunSubmitted сообщает daemon'у о новом run.
func (p *Publisher) PublishRunSubmitted(ctx context.Context, runID uuid.UUID) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeySubmitted, newMessage(
		MessageTypeRunSubmitted,
		RunSubmittedPayload{RunID: runID},
	))
}

// PublishRunLaunch отправляет команду запуска агенту.
func (p *Publisher) PublishRunLaunch(ctx context.Context, run *domain.Run) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyLaunch, newMessage(
		MessageTypeRunLaunch,
		RunLaunchPayload{RunID: run.ID, JobName: run.JobName, Payload: run.Payload},
	))
}

// PublishRunTerminate рассылает команду остановки всем агентам.
// Fanout: какой агент держит процесс run'а, знает только он сам.
func (p *Publisher) PublishRunTerminate(ctx context.Context, runID uuid.UUID, policy string) error {
	return p.Publish(ctx, ExchangeTerminate, RoutingKey(""), newMessage(
		MessageTypeRunTerminate,
		RunTerminatePayload{RunID: runID, Policy: policy},
	))
}

// PublishRunCompleted сообщает координатору финальный статус run.
func (p *Publisher) PublishRunCompleted(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errText string) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyCompleted, newMessage(
		MessageTypeRunCompleted,
		RunCompletedPayload{RunID: runID, Status: status, Error: errText},
	))
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
