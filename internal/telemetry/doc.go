// Package telemetry — логирование и метрики процессов Conductor.
//
// logging.go настраивает slog по LOG_LEVEL и LOG_FORMAT и добавляет
// к логгеру поля run_id, node_id, attempt. metrics.go объявляет
// Prometheus-счётчики run-ов, шагов и HTTP-запросов; бинарники
// отдают их на /metrics.
package telemetry
