package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/google/uuid"
)

// postgresStore persists job records so history survives restarts. It is
// enabled by the database_url config key; the in-memory store remains the
// default. Schema is managed by the embedded migrations.
type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store backed by the given Postgres connection.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Create(params models.JobParams) (models.Job, error) {
	job := models.Job{
		ID:     uuid.NewString(),
		Status: models.StatusPending,
		Params: params,
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal job params: %w", err)
	}

	query := `
		INSERT INTO jobs (id, status, params)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	if err := s.db.QueryRow(query, job.ID, job.Status, string(paramsJSON)).Scan(&job.CreatedAt); err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *postgresStore) Get(id string) (models.Job, error) {
	query := `
		SELECT id, status, created_at, started_at, completed_at, params, result
		FROM jobs
		WHERE id = $1
	`
	job, err := scanJob(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return models.Job{}, ErrNotFound
	}
	return job, err
}

func (s *postgresStore) List() ([]models.Job, error) {
	query := `
		SELECT id, status, created_at, started_at, completed_at, params, result
		FROM jobs
		ORDER BY seq ASC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *postgresStore) Transition(id string, status models.JobStatus, patch *models.JobResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var current models.JobStatus
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	var resultJSON sql.NullString
	if patch != nil {
		buf, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("marshal result patch: %w", err)
		}
		resultJSON = sql.NullString{String: string(buf), Valid: true}
	}

	query := `
		UPDATE jobs
		SET status = $2,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $3 THEN now() ELSE completed_at END,
		    result = COALESCE($4, result)
		WHERE id = $1
	`
	if _, err := tx.Exec(query, id, status, status.Terminal(), resultJSON); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job        models.Job
		started    sql.NullTime
		completed  sql.NullTime
		paramsJSON []byte
		resultJSON []byte
	)
	if err := row.Scan(&job.ID, &job.Status, &job.CreatedAt, &started, &completed, &paramsJSON, &resultJSON); err != nil {
		return models.Job{}, err
	}

	if started.Valid {
		job.StartedAt = &started.Time
	}
	if completed.Valid {
		job.CompletedAt = &completed.Time
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal job params: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result models.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
