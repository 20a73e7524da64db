// Package scheduler запускает workflow по расписанию.
//
// Scheduler периодически находит schedules с истекшим next_due_at
// и создаёт для них runs через orchestrator (trigger=schedule).
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Run, Tick, processSchedule)
//   - cron.go      — cron-выражения, интервалы и проверка расписаний
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules:    store,
//	    Orchestrator: svc,
//	    Leader:       store.Locker(repo.SchedulerLockKey), // опционально
//	    Logger:       logger,
//	})
//	go sched.Run(ctx)
//
// Ключ идемпотентности run — "{schedule_id}_{next_due_at_unix}",
// поэтому повторный тик после сбоя не создаёт второй run
// для того же времени запуска.
//
// Leader Election:
//
// При нескольких экземплярах тик выполняет только держатель
// pg_try_advisory_lock (repo.AdvisoryLock). Без Leader экземпляр
// считает себя лидером всегда.
package scheduler
