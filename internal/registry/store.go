package registry

import (
	"errors"

	"github.com/conveyr/pipeline-api/internal/models"
)

// ErrNotFound is returned when no job exists for the requested identity.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a status change would violate the
// monotonic job lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store holds job records and their lifecycle. It is the single source of
// truth read by pollers while a job's orchestrator mutates the record, so
// implementations must serve consistent snapshots under concurrent access.
type Store interface {
	// Create registers a new pending job and returns it. It fails only on
	// backend resource errors, never on parameter shape.
	Create(params models.JobParams) (models.Job, error)

	// Get returns a snapshot of one job, or ErrNotFound.
	Get(id string) (models.Job, error)

	// List returns snapshots of all known jobs in creation order.
	List() ([]models.Job, error)

	// Transition moves a job to a new status, optionally patching its
	// result summary. Only the orchestrator running the job calls this.
	// Transitions out of a terminal status return ErrInvalidTransition.
	Transition(id string, status models.JobStatus, patch *models.JobResult) error
}
