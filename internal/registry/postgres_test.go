package registry_test

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/conveyr/pipeline-api/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) (registry.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return registry.NewPostgresStore(db), mock
}

func TestPostgresCreate(t *testing.T) {
	store, mock := newPostgresStore(t)

	created := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), "pending", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	job, err := store.Create(models.DefaultParams())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, created, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectQuery("SELECT id, status, created_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetScansFullRecord(t *testing.T) {
	store, mock := newPostgresStore(t)

	created := time.Now().UTC()
	started := created.Add(time.Second)
	completed := created.Add(time.Minute)
	paramsJSON, _ := json.Marshal(models.DefaultParams())
	result := &models.JobResult{}
	result.AddExtraction(models.ExtractionUnit{Database: "DB1", Query: "clientes", Rows: 10})
	resultJSON, _ := json.Marshal(result)

	rows := sqlmock.NewRows([]string{"id", "status", "created_at", "started_at", "completed_at", "params", "result"}).
		AddRow("abc", "succeeded", created, started, completed, paramsJSON, resultJSON)
	mock.ExpectQuery("SELECT id, status, created_at").WithArgs("abc").WillReturnRows(rows)

	job, err := store.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, "data", job.Params.OutputDir)
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.ExtractionsSucceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPreservesInsertionOrder(t *testing.T) {
	store, mock := newPostgresStore(t)

	paramsJSON, _ := json.Marshal(models.DefaultParams())
	rows := sqlmock.NewRows([]string{"id", "status", "created_at", "started_at", "completed_at", "params", "result"}).
		AddRow("first", "succeeded", time.Now(), nil, nil, paramsJSON, nil).
		AddRow("second", "pending", time.Now(), nil, nil, paramsJSON, nil)
	mock.ExpectQuery("SELECT id, status, created_at").WillReturnRows(rows)

	jobs, err := store.List()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].ID)
	assert.Equal(t, "second", jobs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransition(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("UPDATE jobs").
		WithArgs("abc", "running", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Transition("abc", models.StatusRunning, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionRejectsTerminalMutation(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("succeeded"))
	mock.ExpectRollback()

	err := store.Transition("abc", models.StatusRunning, nil)
	assert.ErrorIs(t, err, registry.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionUnknownJob(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Transition("missing", models.StatusRunning, nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
