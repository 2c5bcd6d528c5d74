// Package api — HTTP API control plane.
//
// REST API на стандартном http.ServeMux (Go 1.22 patterns):
//   - Runs: приём, список, отмена, batch-остановка
//   - Targets: schedules и sensors
//   - Ticks: история evaluations
//   - Ledger: снимок занятости лимитов конкурентности
//
// API не принимает решений о допуске: приём run — это запись в БД
// плюс событие runs.submitted, допуском занимается координатор
// в daemon'е.
package api
