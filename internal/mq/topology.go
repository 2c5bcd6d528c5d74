package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
//
// Команды остановки идут через отдельный fanout: run исполняется
// конкретным агентом, и команда должна дойти до каждого агента,
// а не до одного случайного consumer'а общей очереди.
const (
	ExchangeRuns      Exchange = "conductor.runs"
	ExchangeTerminate Exchange = "conductor.runs.terminate"
	ExchangeDLQ       Exchange = "conductor.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsSubmitted Queue = "runs.submitted"
	QueueRunsLaunch    Queue = "runs.launch"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeySubmitted RoutingKey = "submitted"
	RoutingKeyLaunch    RoutingKey = "launch"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

// AgentTerminateQueue возвращает имя персональной очереди агента
// для команд остановки.
func AgentTerminateQueue(agentID string) Queue {
	return Queue("runs.terminate." + agentID)
}

// AgentTerminateDeclare возвращает функцию объявления персональной
// очереди агента и её привязки к fanout-обменнику остановок.
// Очередь auto-delete: после ухода агента команды некому исполнять.
func AgentTerminateDeclare(agentID string) func(ch *amqp.Channel) error {
	queue := string(AgentTerminateQueue(agentID))
	return func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(
			queue, // name
			false, // durable
			true,  // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, "", string(ExchangeTerminate), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", queue, ExchangeTerminate, err)
		}
		return nil
	}
}

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентна: повторный вызов на существующей топологии безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, "direct"},
		{ExchangeTerminate, "fanout"},
		{ExchangeDLQ, "direct"},
	}

	for _, e := range exchanges {
		err := ch.ExchangeDeclare(
			string(e.name), // name
			e.kind,         // type
			true,           // durable
			false,          // auto-deleted
			false,          // internal
			false,          // no-wait
			nil,            // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", e.name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Команды запуска уходят в DLQ, если агент не смог их обработать
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueRunsSubmitted, nil},
		{QueueRunsLaunch, dlqArgs},
		{QueueRunsCompleted, nil},
		{QueueDLQRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsSubmitted, RoutingKeySubmitted, ExchangeRuns},
		{QueueRunsLaunch, RoutingKeyLaunch, ExchangeRuns},
		{QueueRunsCompleted, RoutingKeyCompleted, ExchangeRuns},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
