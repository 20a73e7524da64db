// Package orchestrator управляет выполнением runs.
//
// Service отвечает за:
//   - запуск workflow (Orchestrate): валидация DAG, создание run, первая волна шагов
//   - продвижение run (Advance): отправка узлов, ставших готовыми
//   - финализацию run (completed/failed)
//   - отмену run, просмотр run и повторную отправку шагов из DLQ
//   - публикацию workspaces, workflows и их версий
//
// Состояние run каждый раз собирается из repo.Store (RunState), поэтому
// Service можно вызывать одновременно из API, воркеров и scheduler.
package orchestrator
