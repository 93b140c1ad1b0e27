// Package pipeline runs uploaded documents through extraction, analysis,
// reference retrieval and citation assignment, persisting progress to the
// job store after every stage so pollers and the staleness monitor see a
// fresh heartbeat.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clincite/clincite/internal/analysis"
	"github.com/clincite/clincite/internal/citations"
	"github.com/clincite/clincite/internal/extract"
	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/jobstore"
	"github.com/clincite/clincite/internal/references"
	"github.com/clincite/clincite/internal/uploads"
)

// DefaultStaleAfter is how old a heartbeat may get before a processing job
// is considered stuck.
const DefaultStaleAfter = 90 * time.Second

// Deps are the stage implementations the pipeline drives.
type Deps struct {
	Store      jobstore.Store
	Uploads    *uploads.Store
	Extractor  *extract.Extractor
	Analyzer   *analysis.Analyzer
	References *references.Service
	Citations  *citations.Assigner
	Logger     *slog.Logger
}

// Pipeline owns the worker pool and the per-job stage loop.
type Pipeline struct {
	deps       Deps
	logger     *slog.Logger
	staleAfter time.Duration

	queue *queue
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queue.workers = n
		}
	}
}

// WithQueueSize sets the job channel capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queue.ch = make(chan string, n)
		}
	}
}

// WithJobTimeout bounds a single job's end-to-end run.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.queue.timeout = d
		}
	}
}

// WithStaleAfter sets the heartbeat age that marks a job stuck.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// New creates the pipeline and starts its workers.
func New(deps Deps, opts ...Option) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := &Pipeline{
		deps:       deps,
		logger:     deps.Logger,
		staleAfter: DefaultStaleAfter,
	}
	p.queue = newQueue(p.runJob, deps.Logger)
	for _, o := range opts {
		o(p)
	}
	p.queue.start()
	return p
}

// Submit persists a waiting record for the upload and enqueues it. The call
// never blocks on processing; callers poll for the outcome.
func (p *Pipeline) Submit(ctx context.Context, rec *job.Record) error {
	if err := p.deps.Store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", rec.ID, err)
	}
	p.queue.enqueue(rec.ID)
	return nil
}

// Shutdown stops accepting work and waits for in-flight jobs up to ctx.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.queue.shutdown(ctx)
}

// runJob executes every stage for one job. Each transition writes status,
// stage, progress and a heartbeat; a stage error ends the job with the error
// recorded verbatim.
func (p *Pipeline) runJob(ctx context.Context, id string) {
	rec, err := p.deps.Store.Get(ctx, id)
	if err != nil {
		p.logger.Error("dequeued unknown job", "job_id", id, "error", err)
		return
	}
	if rec.Status == job.StatusComplete || rec.Status == job.StatusError {
		p.logger.Info("skipping finished job", "job_id", id, "status", rec.Status)
		return
	}

	logger := p.logger.With("job_id", id)
	start := time.Now()

	result, err := p.runStages(ctx, rec, logger)
	if err != nil {
		logger.Error("job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		p.update(ctx, id, job.ErrorUpdate(err))
		return
	}

	p.update(ctx, id, job.CompleteUpdate(result))
	logger.Info("job complete",
		"diagnoses", len(result.Diagnoses),
		"references", len(result.References),
		"duration_ms", time.Since(start).Milliseconds())
}

func (p *Pipeline) runStages(ctx context.Context, rec *job.Record, logger *slog.Logger) (*job.Analysis, error) {
	id := rec.ID

	p.update(ctx, id, job.StageUpdate(job.StageExtracting, "Extracting document text", 10))
	data, err := p.deps.Uploads.Read(rec.UploadKey)
	if err != nil {
		return nil, fmt.Errorf("stored upload unavailable: %w", err)
	}
	text, err := p.extractText(ctx, rec, data)
	if err != nil {
		return nil, err
	}

	p.update(ctx, id, job.StageUpdate(job.StageAnalyzing, "Analyzing clinical content", 40))
	result, err := p.deps.Analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}

	p.update(ctx, id, job.StageUpdate(job.StageReferences, "Retrieving references", 70))
	result.References = p.deps.References.Retrieve(ctx, result.DiagnosisLabels())

	p.update(ctx, id, job.StageUpdate(job.StageCitations, "Assigning citations", 90))
	p.deps.Citations.Assign(ctx, result)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("analysis failed validation: %w", err)
	}
	return result, nil
}

/// extractText applies the OCR gate: a PDF without a meaningful text layer
// falls through to a forced OCR pass instead of failing the job.
func (p *Pipeline) extractText(ctx context.Context, rec *job.Record, data []byte) (string, error) {
	res, err := p.deps.Extractor.Extract(ctx, data, rec.InputFilename, rec.ForceOCR)
	if errors.Is(err, extract.ErrNeedsOCR) {
		p.logger.Info("no meaningful text layer, running OCR", "job_id", rec.ID)
		res, err = p.deps.Extractor.Extract(ctx, data, rec.InputFilename, true)
	}
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// update writes a state change to every tier. Store.Set already swallows
// per-tier failures, so an error here means no tier accepted the write.
func (p *Pipeline) update(ctx context.Context, id string, upd job.Update) {
	if err := p.deps.Store.Set(ctx, id, upd); err != nil {
		p.logger.Error("state update failed on all tiers", "job_id", id, "error", err)
	}
}
