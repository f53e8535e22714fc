package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/google/uuid"
)

// memoryStore keeps job records in a mutex-guarded map. Reads return deep
// copies, so pollers never observe a record mid-mutation. Records live for
// the process lifetime; there is no eviction.
type memoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*models.Job
	order []string
}

// NewMemoryStore returns the default in-process job store.
func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[string]*models.Job)}
}

func (s *memoryStore) Create(params models.JobParams) (models.Job, error) {
	job := &models.Job{
		ID:        uuid.NewString(),
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
		Params:    params,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.mu.Unlock()

	return job.Clone(), nil
}

func (s *memoryStore) Get(id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *memoryStore) List() ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]models.Job, 0, len(s.order))
	for _, id := range s.order {
		jobs = append(jobs, s.jobs[id].Clone())
	}
	return jobs, nil
}

func (s *memoryStore) Transition(id string, status models.JobStatus, patch *models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}

	now := time.Now().UTC()
	if status == models.StatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.Terminal() {
		job.CompletedAt = &now
	}
	job.Status = status
	if patch != nil {
		job.Result = patch.Clone()
	}
	return nil
}
