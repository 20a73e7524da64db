// Package cli реализует инструмент командной строки Conductor.
//
// # Обзор
//
// CLI — клиентская утилита для Conductor API. Работает через HTTP,
// response-типы дублирует у себя. Единственная внутренняя зависимость —
// engine: определение workflow разбирается и проверяется локально
// до публикации.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conductor API. Разбирает обёртки {"data"},
// {"data","total"} и {"error"}; ошибки сервера возвращаются как *APIError
// вместе с ошибками полей.
//
//	client := cli.NewClient("http://localhost:8080")
//	res, err := client.Orchestrate(cli.OrchestrateRequest{...})
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr:
//
//	conductor run show <id> --json | jq .summary
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - workspace: create
//   - workflow: create, publish, enable, disable
//   - run: start, show, cancel
//   - dlq: list, redrive
//   - schedule: list, create, show, delete, enable, disable
//
// Каждая группа создаётся фабричной функцией (NewRunCmd и т.д.),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
