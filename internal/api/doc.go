// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go            — Handler с DI (orchestrator, schedules, logger)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery, body limit)
//   - response.go           — унифицированные JSON-ответы и HandleError
//   - dto.go                — Data Transfer Objects (request/response)
//   - run_handler.go        — POST /orchestrate и /runs
//   - dead_letter_handler.go — /dead-letters
//   - workflow_handler.go   — /workspaces и публикация версий
//   - schedule_handler.go   — /schedules
//
// Успешные ответы оборачиваются в {"data": ...}, ошибки —
// в {"error": {"code", "message", "fields"}}.
package api
