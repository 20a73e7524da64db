// Package engine содержит чистую логику движка: всё, что не трогает
// хранилище и очередь.
//
// Включает:
//   - validate.go    — проверка DAG (уникальность ID, висячие рёбра, циклы)
//   - graph.go       — индекс DAG и вычисление готовых к запуску узлов
//   - condition.go   — вычисление условий на рёбрах
//   - template.go    — рендеринг Go templates ({{ .Input.x }})
//   - idempotency.go — ключи идемпотентности шагов
//   - parser.go      — разбор определений workflow из JSON/YAML
//
// Все функции детерминированы и не имеют побочных эффектов, поэтому
// их безопасно вызывать повторно из разных воркеров.
package engine
