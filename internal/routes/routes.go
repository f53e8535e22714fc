package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/conveyr/pipeline-api/internal/handlers"
)

// NewRouter sets up the API routes.
func NewRouter(pipeline *handlers.PipelineHandler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", handlers.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	router.HandleFunc("/run-pipeline", pipeline.RunPipeline).Methods(http.MethodPost)
	router.HandleFunc("/jobs", pipeline.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{jobID}", pipeline.GetJob).Methods(http.MethodGet)

	return router
}
