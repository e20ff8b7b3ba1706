package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/store"
)

const (
	defaultRunLimit    = 50
	maxRunLimit        = 500
	defaultScalarLimit = 1000
	maxScalarLimit     = 10000
	repoTimeout        = 3 * time.Second
)

// RunHandler exposes read-only run and scalar endpoints.
type RunHandler struct {
	repo    store.ScalarRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.ScalarRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: repoTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns
// {"runs": [...]} on success, 400 for invalid filters, 503 when the repo is
// unavailable, or 500 if the repository call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "scalar repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}}, 400 for
// malformed IDs, 404 when the repository reports store.ErrNotFound, or 500.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "scalar repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListScalars handles GET /v1/runs/{run_id}/scalars?name=&limit=&offset=.
func (h *RunHandler) ListScalars(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "scalar repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultScalarLimit, maxScalarLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	points, err := h.repo.ListScalars(ctx, runID, name, limit, offset)
	if err != nil {
		h.logger.Error("list scalars failed", zap.Error(err), zap.String("run_id", runID.String()))
		writeError(w, http.StatusInternalServerError, "failed to list scalars")
		return
	}
	out := make([]pointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, pointDTO{
			Name:     p.Name,
			Value:    p.Value,
			Step:     p.Step,
			WallTime: p.WallTime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scalars": out})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "open", "running":
		return store.RunOpen, nil
	case "closed", "success":
		return store.RunClosed, nil
	case "error", "failed":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		Name:       run.Name,
		LogDir:     run.LogDir,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}

type runDTO struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	LogDir     string     `json:"log_dir,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

type pointDTO struct {
	Name     string    `json:"name"`
	Value    float32   `json:"value"`
	Step     uint64    `json:"step"`
	WallTime time.Time `json:"wall_time"`
}
