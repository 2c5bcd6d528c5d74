// Package telemetry — структурированное логирование (slog)
// и метрики Prometheus для всех компонентов Conductor.
package telemetry
