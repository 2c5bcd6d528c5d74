package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/launcher"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/termination"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(strings.ToUpper(status))
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = parseIntParam(limitStr, 50)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = parseIntParam(offsetStr, 0)
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// SubmitRun принимает новый run.
// POST /api/v1/runs
//
// Run сохраняется в QUEUED и объявляется событием runs.submitted;
// допуском и запуском занимается координатор в daemon'е.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.JobName == "" {
		BadRequest(w, "job_name is required")
		return
	}
	for _, tag := range req.Tags {
		if tag.Key == "" {
			BadRequest(w, "tag key must not be empty")
			return
		}
	}

	run := domain.NewRun(req.JobName, req.Tags, req.Priority, req.Payload)
	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunSubmitted(r.Context(), run.ID); err != nil {
			// Не фатальная ошибка — run уже в БД, координатор
			// подхватит его через polling
			h.logger.Warn("failed to publish run.submitted", "run_id", run.ID, "error", err)
		}
	}

	h.logger.Info("run submitted", "run_id", run.ID, "job", run.JobName)
	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if err := h.cancelRun(r.Context(), id, launcher.PolicySafe); err != nil {
		if errors.Is(err, launcher.ErrAlreadyTerminal) {
			InvalidState(w, "run is already finished")
			return
		}
		HandleRepoError(w, h.logger, err, "run not found")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}
	Success(w, RunFromDomain(*run))
}

// TerminateRuns останавливает runs батчем.
// POST /api/v1/runs/terminate
func (h *Handler) TerminateRuns(w http.ResponseWriter, r *http.Request) {
	var req TerminateRunsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	progress, err := h.terminator.Terminate(r.Context(), termination.Request{
		Runs:  req.Runs,
		Force: req.Force,
	})
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	Success(w, TerminateRunsResponse{
		Completed: progress.Completed,
		Total:     progress.Total,
		Errors:    progress.Errors,
	})
}

// cancelRun — общая логика отмены для одиночной и batch-остановки.
//
// Run в очереди (QUEUED) отменяется прямо в БД: координатор перед
// dispatch перечитывает статус и не запустит отменённый run.
// Запущенный run переводится в CANCELING, остановку у backend
// запрашивает событие runs.terminate.
func (h *Handler) cancelRun(ctx context.Context, id uuid.UUID, policy launcher.Policy) error {
	run, err := h.runRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return launcher.ErrAlreadyTerminal
	}

	if run.Status == domain.RunStatusQueued {
		run.MarkCanceled()
		if err := h.runRepo.Update(ctx, run); err != nil {
			return err
		}
		h.logger.Info("queued run canceled", "run_id", id)
		return nil
	}

	run.MarkCanceling()
	if err := h.runRepo.Update(ctx, run); err != nil {
		return err
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunTerminate(ctx, id, string(policy)); err != nil {
			return err
		}
	}

	h.logger.Info("run cancellation requested", "run_id", id, "policy", policy)
	return nil
}

// storeCanceler — RunCanceler для termination.Controller поверх БД и MQ.
type storeCanceler struct {
	h *Handler
}

func (c *storeCanceler) Cancel(ctx context.Context, runID uuid.UUID, policy launcher.Policy) error {
	return c.h.cancelRun(ctx, runID, policy)
}

// parseIntParam парсит числовой query-параметр с дефолтным значением.
func parseIntParam(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
