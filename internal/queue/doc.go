// Package queue описывает очередь шагов и её реализации.
//
// StepQueue — контракт at-least-once доставки StepJob воркерам:
//   - Enqueue    — поставить job в очередь
//   - Requeue    — вернуть job с задержкой (retry с backoff)
//   - Receive    — получить следующую доставку (блокирующий вызов)
//   - DeadLetter — отправить job в отдельную очередь DLQ
//
// Реализации:
//   - MemoryQueue — в памяти процесса (тесты, локальный запуск)
//   - RedisQueue  — списки и sorted set в Redis
//
// RabbitMQ-реализация живёт в пакете mq.
package queue
