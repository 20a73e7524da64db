// Package worker выполняет шаги run.
//
// # Обзор
//
// Worker — stateless компонент системы Conductor, который выполняет
// шаги (RunStep), отправленные оркестратором. Worker отвечает за:
//
//   - Получение jobs из StepQueue (RabbitMQ, Redis или память процесса)
//   - Захват шага через compare-and-set в хранилище
//   - Вызов коннектора (http, delay, transform, noop) с таймаутом
//   - Retry с backoff через отложенную очередь
//   - Отправку исчерпанных и окончательных ошибок в DLQ
//   - Продвижение run после завершения шага
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди conductor.steps.ready.
//
// # Ключевые компоненты
//
// ## Worker
//
// Основная структура, управляющая жизненным циклом.
// Создаётся через New(cfg Config) и запускается методом Start(ctx).
//
//	w := worker.New(worker.Config{
//	    Store:       store,
//	    Queue:       stepQueue,
//	    Advancer:    orch,
//	    Concurrency: 8,
//	    Logger:      logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Sweeper
//
// Досылает шаги, которые слишком долго не меняли статус: сообщение
// потеряно при отправке или воркер упал во время выполнения.
//
// # Обработка job
//
//  1. Run не найден или завершён → ack без выполнения
//  2. Шаг уже succeeded/failed → повторное продвижение run, ack
//  3. Захват: pending/enqueued → running, attempts+1; не удалось → ack
//  4. Вызов коннектора через connector.Invoke
//  5. Run завершился за время выполнения → результат отбрасывается
//  6. Успех → succeeded, Advance
//  7. Retryable ошибка и попытки остались → enqueued, Requeue с backoff
//  8. Retryable ошибка, попыток нет → failed (exhausted), DLQ; можно redrive
//  9. Окончательная ошибка → failed, DLQ, Advance
//
// # Retry
//
// Стратегии backoff (политика версии, config.retry узла поверх неё):
//   - "exponential": delay = initialDelay * 2^(attempt-1), capped at maxDelay
//   - "fixed": delay = initialDelay
//
// К задержке добавляется случайный разброс ±20%.
package worker
