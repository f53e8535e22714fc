package handlers

import "net/http"

// HealthCheck reports service liveness for container health probes.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "ETL Pipeline API",
	})
}
