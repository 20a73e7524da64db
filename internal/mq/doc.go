// Package mq — адаптер queue.StepQueue для RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация StepJob и записей DLQ
//   - consumer.go   — потребление сообщений из очередей
//   - queue.go      — Queue: реализация queue.StepQueue
//
// Типы сообщений:
//   - step.ready  — job готов к выполнению
//   - step.retry  — job ждёт повторной попытки (TTL)
//   - step.dead   — job ушёл в DLQ
//
// Exchanges:
//   - conductor.steps — jobs шагов
//   - conductor.dlq   — dead letter queue
package mq
