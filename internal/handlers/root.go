package handlers

import "net/http"

// Root returns basic service information.
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "ETL Pipeline API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":       "GET /health",
			"run_pipeline": "POST /run-pipeline",
			"job_status":   "GET /jobs/{job_id}",
			"list_jobs":    "GET /jobs",
		},
	})
}
