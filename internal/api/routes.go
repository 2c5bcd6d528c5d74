package api

import (
	"log/slog"
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.SubmitRun)))
	mux.Handle("POST /api/v1/runs/terminate", chain(http.HandlerFunc(h.TerminateRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Targets
	mux.Handle("GET /api/v1/targets", chain(http.HandlerFunc(h.ListTargets)))
	mux.Handle("POST /api/v1/targets", chain(http.HandlerFunc(h.CreateTarget)))
	mux.Handle("GET /api/v1/targets/{id}", chain(http.HandlerFunc(h.GetTarget)))
	mux.Handle("PUT /api/v1/targets/{id}/enabled", chain(http.HandlerFunc(h.SetTargetEnabled)))

	// Ticks
	mux.Handle("GET /api/v1/ticks", chain(http.HandlerFunc(h.ListTicks)))

	// Ledger (только там, где он есть — в daemon'е)
	if h.ledger != nil {
		mux.Handle("GET /api/v1/ledger", chain(http.HandlerFunc(h.GetLedger)))
	}
}

// RegisterLedgerRoute регистрирует снимок ledger отдельно от остального
// API — daemon отдаёт только его, полный API живёт в conductor-api.
func RegisterLedgerRoute(mux *http.ServeMux, snapshotter LedgerSnapshotter, logger *slog.Logger) {
	chain := Chain(
		Recovery(logger),
		Logging(logger),
	)
	mux.Handle("GET /api/v1/ledger", chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		Success(w, snapshotter.Snapshot())
	})))
}
