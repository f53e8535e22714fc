package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/conveyr/pipeline-api/internal/artifact"
	"github.com/conveyr/pipeline-api/internal/catalog"
	"github.com/conveyr/pipeline-api/internal/delivery"
	"github.com/conveyr/pipeline-api/internal/extract"
	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/conveyr/pipeline-api/internal/registry"
	"github.com/conveyr/pipeline-api/internal/storage"
)

// CatalogLoader re-reads the roster and query set on every call, so edits
// on disk take effect on the next job without a restart.
type CatalogLoader interface {
	Load() (*catalog.Catalog, error)
}

// Executor runs one catalogue query against one roster database.
type Executor interface {
	Execute(ctx context.Context, database, queryName, queryText string) (*extract.TabularResult, error)
}

// Deliverer uploads artifact batches to the remote host.
type Deliverer interface {
	Deliver(ctx context.Context, batches []delivery.Batch, forecastType string) []models.UploadUnit
}

// Notifier posts a delivered artifact to an external receiver.
type Notifier interface {
	Send(ctx context.Context, database, forecastType, localPath string) error
}

// Options wires the orchestrator's collaborators. Mirror and Notifier are
// optional; everything else is required.
type Options struct {
	Store     registry.Store
	Loader    CatalogLoader
	Executor  Executor
	Deliverer Deliverer
	Mirror    storage.ObjectStorage
	Notifier  Notifier
	Workers   int
	Logger    zerolog.Logger
}

// Orchestrator runs extraction jobs end to end: load the catalogue, fan the
// roster x query grid out to a bounded worker pool, write parquet artifacts,
// deliver them per database over a single transfer session, then settle the
// final job status from the per-unit outcomes.
type Orchestrator struct {
	store     registry.Store
	loader    CatalogLoader
	executor  Executor
	deliverer Deliverer
	mirror    storage.ObjectStorage
	notifier  Notifier
	workers   int
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// A job whose artifacts all failed to upload still has them intact on local
// disk, so the run is reported as degraded rather than lost.
const statusWhenAllUploadsFail = models.StatusPartialFailure

func NewOrchestrator(opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		store:     opts.Store,
		loader:    opts.Loader,
		executor:  opts.Executor,
		deliverer: opts.Deliverer,
		mirror:    opts.Mirror,
		notifier:  opts.Notifier,
		workers:   workers,
		logger:    opts.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Dispatch starts the job in the background and returns immediately. The
// job's progress is observable through the registry.
func (o *Orchestrator) Dispatch(jobID string, params models.JobParams) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Run(context.Background(), jobID, params)
	}()
}

// Wait blocks until every dispatched job finishes or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one job to completion. Failures inside a unit are isolated
// to that unit; only catalogue problems abort the whole job.
func (o *Orchestrator) Run(ctx context.Context, jobID string, params models.JobParams) {
	logger := o.logger.With().Str("job_id", jobID).Logger()
	start := time.Now()
	result := &models.JobResult{}

	if err := o.store.Transition(jobID, models.StatusRunning, nil); err != nil {
		logger.Error().Err(err).Msg("Could not mark job running")
		return
	}

	cat, err := o.loader.Load()
	if err != nil {
		o.fail(logger, jobID, result, start, errors.Wrap(err, "load catalogue").Error())
		return
	}
	if params.Database != "" {
		if err := cat.Restrict(params.Database); err != nil {
			o.fail(logger, jobID, result, start, err.Error())
			return
		}
	}

	logger.Info().
		Int("databases", len(cat.Databases)).
		Int("queries", len(cat.Queries)).
		Msg("Starting extraction")

	o.extractAll(ctx, jobID, params, cat, result)

	if result.ExtractionsSucceeded == 0 {
		o.finish(logger, jobID, result, start, models.StatusFailed)
		return
	}

	for _, unit := range o.deliverer.Deliver(ctx, batchesFor(cat, result), params.ForecastType) {
		result.AddUpload(unit)
		if unit.Delivered {
			o.propagate(ctx, params.ForecastType, unit, result, logger)
		}
	}

	o.finish(logger, jobID, result, start, finalStatus(result))
}

type task struct {
	database string
	query    catalog.Query
}

// extractAll runs the full roster x catalogue grid on a bounded worker
// pool. A single collector owns the result, appending units and publishing
// a progress snapshot to the registry as each one lands.
func (o *Orchestrator) extractAll(ctx context.Context, jobID string, params models.JobParams, cat *catalog.Catalog, result *models.JobResult) {
	logger := o.logger.With().Str("job_id", jobID).Logger()
	tasks := make(chan task, o.workers*2)
	units := make(chan models.ExtractionUnit, o.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tk := range tasks {
				units <- o.extractOne(ctx, params, tk, logger)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for unit := range units {
			result.AddExtraction(unit)
			if err := o.store.Transition(jobID, models.StatusRunning, result.Clone()); err != nil {
				logger.Warn().Err(err).Msg("Could not publish progress")
			}
		}
		close(done)
	}()

	for _, database := range cat.Databases {
		for _, query := range cat.Queries {
			tasks <- task{database: database, query: query}
		}
	}
	close(tasks)
	wg.Wait()
	close(units)
	<-done
}

func (o *Orchestrator) extractOne(ctx context.Context, params models.JobParams, tk task, logger zerolog.Logger) models.ExtractionUnit {
	start := time.Now()
	unit := models.ExtractionUnit{Database: tk.database, Query: tk.query.Name}

	res, err := o.executor.Execute(ctx, tk.database, tk.query.Name, tk.query.Text)
	if err != nil {
		unit.DurationSeconds = time.Since(start).Seconds()
		unit.Error = err.Error()
		unit.Kind = extract.KindOf(err)
		logger.Error().Err(err).
			Str("database", tk.database).
			Str("query", tk.query.Name).
			Str("kind", string(unit.Kind)).
			Msg("Extraction failed")
		return unit
	}

	unit.Rows = int64(len(res.Rows))
	unit.Columns = len(res.Columns)
	unit.ArtifactPath = models.ArtifactPath(params.OutputDir, tk.database, tk.query.Name)

	if err := artifact.Write(res, unit.ArtifactPath); err != nil {
		unit.DurationSeconds = time.Since(start).Seconds()
		unit.ArtifactPath = ""
		unit.Error = err.Error()
		unit.Kind = models.ErrKindSerialization
		logger.Error().Err(err).
			Str("database", tk.database).
			Str("query", tk.query.Name).
			Msg("Artifact write failed")
		return unit
	}

	unit.DurationSeconds = time.Since(start).Seconds()
	if params.Verbose {
		logger.Info().
			Str("database", tk.database).
			Str("query", tk.query.Name).
			Int64("rows", unit.Rows).
			Int("columns", unit.Columns).
			Float64("seconds", unit.DurationSeconds).
			Msg("Extraction complete")
	}
	return unit
}

// batchesFor groups the successful artifacts by database, preserving the
// roster order so delivery is deterministic.
func batchesFor(cat *catalog.Catalog, result *models.JobResult) []delivery.Batch {
	byDB := make(map[string][]string, len(cat.Databases))
	for _, unit := range result.Extractions {
		if unit.Succeeded() && unit.ArtifactPath != "" {
			byDB[unit.Database] = append(byDB[unit.Database], unit.ArtifactPath)
		}
	}

	var batches []delivery.Batch
	for _, database := range cat.Databases {
		if files := byDB[database]; len(files) > 0 {
			batches = append(batches, delivery.Batch{Database: database, Files: files})
		}
	}
	return batches
}

// propagate mirrors a delivered artifact to object storage and posts it to
// the webhook. Both are best effort: failures are recorded in the error
// list but never change the job status.
func (o *Orchestrator) propagate(ctx context.Context, forecastType string, unit models.UploadUnit, result *models.JobResult, logger zerolog.Logger) {
	if o.mirror != nil {
		if err := storage.UploadFile(ctx, o.mirror, unit.RemotePath, unit.LocalPath); err != nil {
			logger.Warn().Err(err).Str("key", unit.RemotePath).Msg("Mirror upload failed")
			result.AppendError(fmt.Sprintf("mirror %s: %s", unit.RemotePath, err))
		}
	}
	if o.notifier != nil {
		if err := o.notifier.Send(ctx, unit.Database, forecastType, unit.LocalPath); err != nil {
			logger.Warn().Err(err).Str("file", unit.LocalPath).Msg("Webhook notification failed")
			result.AppendError(fmt.Sprintf("notify %s: %s", unit.LocalPath, err))
		}
	}
}

// finalStatus settles the job outcome from the unit counters.
func finalStatus(result *models.JobResult) models.JobStatus {
	switch {
	case result.ExtractionsSucceeded == 0:
		return models.StatusFailed
	case result.UploadsFailed > 0 && result.UploadsSucceeded == 0:
		return statusWhenAllUploadsFail
	case result.ExtractionsFailed > 0 || result.UploadsFailed > 0:
		return models.StatusPartialFailure
	default:
		return models.StatusSucceeded
	}
}

func (o *Orchestrator) fail(logger zerolog.Logger, jobID string, result *models.JobResult, start time.Time, msg string) {
	result.AppendError(msg)
	logger.Error().Str("error", msg).Msg("Job aborted")
	o.finish(logger, jobID, result, start, models.StatusFailed)
}

func (o *Orchestrator) finish(logger zerolog.Logger, jobID string, result *models.JobResult, start time.Time, status models.JobStatus) {
	result.ElapsedSeconds = time.Since(start).Seconds()
	if err := o.store.Transition(jobID, status, result.Clone()); err != nil {
		logger.Error().Err(err).Msg("Could not record job completion")
		return
	}
	logger.Info().
		Str("status", string(status)).
		Int("extracted", result.ExtractionsSucceeded).
		Int("delivered", result.UploadsSucceeded).
		Float64("seconds", result.ElapsedSeconds).
		Msg("Job finished")
}
