// Package connector описывает контракт коннекторов и стандартные реализации.
//
// Коннектор выполняет action узла workflow. Payload уже отрендерен
// оркестратором через engine.RenderConfig, поэтому коннекторы получают
// готовые значения.
//
// Стандартные коннекторы:
//   - http      — HTTP-запрос (retry на 5xx, 408, 429 и сетевых ошибках)
//   - delay     — ожидание с поддержкой отмены
//   - transform — возвращает payload (или mappings) как output
//   - noop      — возвращает payload; может имитировать ошибку
//
// Ошибки:
//   - логическая неудача возвращается как domain.Failed(msg, retryable)
//   - error из Execute считается retryable, если не обёрнут через Permanent
//   - неизвестный коннектор и паника — permanent failure (см. Invoke)
package connector
