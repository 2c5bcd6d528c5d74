package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/evaluator"
)

// ListTargets возвращает список targets, опционально по виду.
// GET /api/v1/targets?kind=SCHEDULE|SENSOR
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	var kind domain.TargetKind
	if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind = domain.TargetKind(strings.ToUpper(kindStr))
		if kind != domain.TargetKindSchedule && kind != domain.TargetKindSensor {
			BadRequest(w, "kind must be SCHEDULE or SENSOR")
			return
		}
	}

	targets, err := h.targetRepo.List(r.Context(), kind)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TargetResponse, len(targets))
	for i, target := range targets {
		result[i] = TargetFromDomain(target)
	}

	List(w, result, len(result))
}

// CreateTarget создаёт новый target.
// POST /api/v1/targets
func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.JobName == "" {
		BadRequest(w, "job_name is required")
		return
	}

	kind := domain.TargetKind(strings.ToUpper(req.Kind))
	switch kind {
	case domain.TargetKindSchedule:
		if req.CronExpr == "" && req.IntervalSec <= 0 {
			BadRequest(w, "schedule requires cron_expr or interval_sec")
			return
		}
		if req.CronExpr != "" {
			if err := evaluator.ValidateCronExpr(req.CronExpr); err != nil {
				BadRequest(w, err.Error())
				return
			}
		}
	case domain.TargetKindSensor:
		// Сенсор всегда опрашивается по интервалу
		if req.CronExpr != "" {
			BadRequest(w, "sensor does not support cron_expr")
			return
		}
		if req.IntervalSec <= 0 {
			BadRequest(w, "sensor requires interval_sec")
			return
		}
	default:
		BadRequest(w, "kind must be SCHEDULE or SENSOR")
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		BadRequest(w, "invalid timezone")
		return
	}

	now := time.Now().UTC()
	target := &domain.Target{
		ID:          uuid.New(),
		Name:        req.Name,
		Kind:        kind,
		JobName:     req.JobName,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    timezone,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	nextDue, err := evaluator.CalculateInitialNextDue(target)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	target.NextDueAt = nextDue

	if err := h.targetRepo.Create(r.Context(), target); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	h.logger.Info("target created",
		"target_id", target.ID,
		"name", target.Name,
		"kind", target.Kind,
	)
	Created(w, TargetFromDomain(*target))
}

// GetTarget возвращает target по ID.
// GET /api/v1/targets/{id}
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid target id")
		return
	}

	target, err := h.targetRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "target not found") {
		return
	}

	Success(w, TargetFromDomain(*target))
}

// SetTargetEnabled включает/выключает target.
// PUT /api/v1/targets/{id}/enabled
func (h *Handler) SetTargetEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid target id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.targetRepo.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		HandleRepoError(w, h.logger, err, "target not found")
		return
	}

	target, err := h.targetRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "target not found") {
		return
	}

	h.logger.Info("target enabled changed", "target_id", id, "enabled", req.Enabled)
	Success(w, TargetFromDomain(*target))
}
