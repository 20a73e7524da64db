package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// QueueName — тип для имени очереди.
type QueueName string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeSteps Exchange = "conductor.steps"
	ExchangeDLQ   Exchange = "conductor.dlq"
)

// Очереди.
const (
	QueueStepsReady QueueName = "conductor.steps.ready"
	QueueStepsRetry QueueName = "conductor.steps.retry"
	QueueStepsDLQ   QueueName = "conductor.steps.dlq"
)

// Routing keys.
const (
	RoutingKeyReady RoutingKey = "ready"
	RoutingKeyRetry RoutingKey = "retry"
	RoutingKeyDLQ   RoutingKey = "steps"
)

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
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
	for _, name := range []Exchange{ExchangeSteps, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	return nil
}

// queueArgs возвращает аргументы очередей.
//
// ready отклонённые сообщения уходят в conductor.dlq;
// retry держит сообщение до истечения его expiration и возвращает в ready.
func queueArgs() map[QueueName]amqp.Table {
	return map[QueueName]amqp.Table{
		QueueStepsReady: {
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQ),
		},
		QueueStepsRetry: {
			"x-dead-letter-exchange":    string(ExchangeSteps),
			"x-dead-letter-routing-key": string(RoutingKeyReady),
		},
		QueueStepsDLQ: nil,
	}
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	args := queueArgs()

	for _, name := range []QueueName{QueueStepsReady, QueueStepsRetry, QueueStepsDLQ} {
		_, err := ch.QueueDeclare(
			string(name), // name
			true,         // durable
			false,        // delete when unused
			false,        // exclusive
			false,        // no-wait
			args[name],   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	return nil
}

// binding — привязка очереди к обменнику.
type binding struct {
	queue      QueueName
	routingKey RoutingKey
	exchange   Exchange
}

func bindings() []binding {
	return []binding{
		{QueueStepsReady, RoutingKeyReady, ExchangeSteps},
		{QueueStepsRetry, RoutingKeyRetry, ExchangeSteps},
		{QueueStepsDLQ, RoutingKeyDLQ, ExchangeDLQ},
	}
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	for _, b := range bindings() {
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

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conductor RabbitMQ Topology:

    conductor.steps (direct)
    ├── conductor.steps.ready [routing: ready]
    │       Consumer: Worker
    │       DLX: conductor.dlq
    └── conductor.steps.retry [routing: retry]
            per-message TTL, DLX: conductor.steps/ready

    conductor.dlq (direct)
    └── conductor.steps.dlq [routing: steps]
            Redrive via API
  `
}
