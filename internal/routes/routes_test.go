package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/pipeline-api/internal/handlers"
	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/conveyr/pipeline-api/internal/registry"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(string, models.JobParams) {}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := registry.NewMemoryStore()
	handler := handlers.NewPipelineHandler(store, noopDispatcher{}, zerolog.Nop())
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

func TestRouting(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodPost, "/run-pipeline", http.StatusAccepted},
		{http.MethodGet, "/jobs", http.StatusOK},
		{http.MethodGet, "/jobs/unknown", http.StatusNotFound},
		{http.MethodGet, "/run-pipeline", http.StatusMethodNotAllowed},
		{http.MethodPost, "/jobs", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, server.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestRunThenPoll(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/run-pipeline?forecast_type=monthly", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.JobID)

	poll, err := http.Get(server.URL + "/jobs/" + started.JobID)
	require.NoError(t, err)
	defer poll.Body.Close()
	assert.Equal(t, http.StatusOK, poll.StatusCode)

	var job models.Job
	require.NoError(t, json.NewDecoder(poll.Body).Decode(&job))
	assert.Equal(t, started.JobID, job.ID)
	assert.Equal(t, "monthly", job.Params.ForecastType)
}
