package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/conveyr/pipeline-api/internal/registry"
)

// Dispatcher starts a job in the background.
type Dispatcher interface {
	Dispatch(jobID string, params models.JobParams)
}

type PipelineHandler struct {
	store      registry.Store
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewPipelineHandler(store registry.Store, dispatcher Dispatcher, logger zerolog.Logger) *PipelineHandler {
	return &PipelineHandler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// RunPipeline creates a job from the query parameters and dispatches it in
// the background. The response carries the job id for polling.
func (h *PipelineHandler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	params := models.DefaultParams()
	q := r.URL.Query()
	if v := q.Get("output_dir"); v != "" {
		params.OutputDir = v
	}
	if v := q.Get("forecast_type"); v != "" {
		params.ForecastType = v
	}
	if v := q.Get("verbose"); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "verbose must be a boolean")
			return
		}
		params.Verbose = verbose
	}
	params.Database = q.Get("database")

	job, err := h.store.Create(params)
	if err != nil {
		h.logger.Error().Err(err).Msg("Could not create job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.dispatcher.Dispatch(job.ID, params)
	h.logger.Info().Str("job_id", job.ID).Msg("Job dispatched")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"message":    "Pipeline started in background",
		"created_at": job.CreatedAt,
	})
}

// GetJob returns the current record for one job.
func (h *PipelineHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := h.store.Get(jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job "+jobID+" not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Could not load job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs returns every known job in creation order.
func (h *PipelineHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List()
	if err != nil {
		h.logger.Error().Err(err).Msg("Could not list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs": len(jobs),
		"jobs":       jobs,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
