package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
)

// ListTicks возвращает историю ticks с фильтрацией.
// GET /api/v1/ticks?target_id=...&status=...&limit=...&offset=...
func (h *Handler) ListTicks(w http.ResponseWriter, r *http.Request) {
	filter := repo.TickFilter{Limit: 50}

	if targetIDStr := r.URL.Query().Get("target_id"); targetIDStr != "" {
		targetID, err := uuid.Parse(targetIDStr)
		if err != nil {
			BadRequest(w, "invalid target_id")
			return
		}
		filter.TargetID = &targetID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.TickStatus(strings.ToUpper(status))
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = parseIntParam(limitStr, 50)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = parseIntParam(offsetStr, 0)
	}

	ticks, err := h.tickRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TickResponse, len(ticks))
	for i, tick := range ticks {
		result[i] = TickFromDomain(tick)
	}

	List(w, result, len(result))
}

// GetLedger возвращает снимок Concurrency Ledger.
// GET /api/v1/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	Success(w, h.ledger.Snapshot())
}
