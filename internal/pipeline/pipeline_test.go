package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/clincite/clincite/internal/analysis"
	"github.com/clincite/clincite/internal/citations"
	"github.com/clincite/clincite/internal/extract"
	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/jobstore"
	"github.com/clincite/clincite/internal/llm"
	"github.com/clincite/clincite/internal/references"
	"github.com/clincite/clincite/internal/testutil"
	"github.com/clincite/clincite/internal/uploads"
)

const analysisJSON = `{
  "provider": "Dr. Smith",
  "patient": "J.D.",
  "visit_date": "2026-01-15",
  "summary": "Routine follow-up.",
  "diagnoses": [{"label": "Dry eye syndrome"}],
  "plan": [{"title": "Artificial tears four times daily"}],
  "warnings": []
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPipeline wires a pipeline with in-memory persistence and mocked
// completion clients. PubMed is left unconfigured so reference retrieval
// uses only the curated pool.
func newTestPipeline(t *testing.T, analyzeClient, citeClient llm.Client) (*Pipeline, jobstore.Store, *uploads.Store) {
	t.Helper()
	return newTestPipelineWith(t, extract.New(extract.Config{}, discardLogger()), analyzeClient, citeClient)
}

func newTestPipelineWith(t *testing.T, extractor *extract.Extractor, analyzeClient, citeClient llm.Client) (*Pipeline, jobstore.Store, *uploads.Store) {
	t.Helper()
	logger := discardLogger()

	store := jobstore.New(jobstore.Config{Logger: logger})

	up, err := uploads.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	pool, err := references.LoadPool()
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}

	p := New(Deps{
		Store:      store,
		Uploads:    up,
		Extractor:  extractor,
		Analyzer:   analysis.New(analyzeClient, 0, logger),
		References: references.NewService(nil, pool, nil, 0, logger),
		Citations:  citations.New(citeClient, 0, logger),
		Logger:     logger,
	}, WithWorkers(1))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p, store, up
}

// submitText stores a plain-text upload and submits its job record.
func submitText(t *testing.T, p *Pipeline, up *uploads.Store, text string) *job.Record {
	t.Helper()
	rec := job.NewRecord("note.txt", "", false)
	key, err := up.Save(rec.ID, "note.txt", []byte(text))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.UploadKey = key
	if err := p.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return rec
}

// waitForDone polls the store until the job leaves the processing states.
func waitForDone(t *testing.T, store jobstore.Store, id string) *job.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), id)
		if err == nil && (rec.Status == job.StatusComplete || rec.Status == job.StatusError) {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return nil
}

func TestPipelineCompletesTextUpload(t *testing.T) {
	analyzeClient := &llm.MockClient{Responses: []string{analysisJSON}}
	citeClient := &llm.MockClient{Responses: []string{
		`{"diagnoses": [{"number": 1, "refs": [1]}], "plan": [{"number": 1, "refs": [1]}]}`,
	}}
	p, store, up := newTestPipeline(t, analyzeClient, citeClient)

	rec := submitText(t, p, up, "Patient presents with dry eye symptoms in both eyes.")
	final := waitForDone(t, store, rec.ID)

	if final.Status != job.StatusComplete {
		t.Fatalf("status = %q (error %q), want complete", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
	if final.Result == nil {
		t.Fatal("completed job has no result")
	}
	if got := final.Result.Diagnoses[0].Label; got != "Dry eye syndrome" {
		t.Errorf("diagnosis label = %q", got)
	}
	// Dry eye matches the curated pool, so references must be present and
	// the citation pass must have attached them.
	if len(final.Result.References) == 0 {
		t.Fatal("expected curated references for dry eye")
	}
	if len(final.Result.Diagnoses[0].Refs) == 0 {
		t.Error("diagnosis left uncited")
	}
	if err := final.Result.Validate(); err != nil {
		t.Errorf("result failed validation: %v", err)
	}
	if final.HeartbeatAt.Before(final.CreatedAt) {
		t.Error("heartbeat never refreshed")
	}
}

func TestPipelineRecordsAnalysisFailure(t *testing.T) {
	analyzeClient := &llm.MockClient{Err: errors.New("completion service unreachable")}
	p, store, up := newTestPipeline(t, analyzeClient, &llm.MockClient{})

	rec := submitText(t, p, up, "Some clinical text long enough to analyze.")
	final := waitForDone(t, store, rec.ID)

	if final.Status != job.StatusError {
		t.Fatalf("status = %q, want error", final.Status)
	}
	if !strings.Contains(final.Error, "unreachable") {
		t.Errorf("error = %q, want the cause preserved", final.Error)
	}
	if final.Result != nil {
		t.Error("failed job must not carry a result")
	}
}

func TestPipelineFailsOnMissingUpload(t *testing.T) {
	p, store, _ := newTestPipeline(t, &llm.MockClient{}, &llm.MockClient{})

	rec := job.NewRecord("note.txt", "missing.txt", false)
	if err := p.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitForDone(t, store, rec.ID)

	if final.Status != job.StatusError {
		t.Fatalf("status = %q, want error", final.Status)
	}
	if !strings.Contains(final.Error, "upload") {
		t.Errorf("error = %q, want upload mentioned", final.Error)
	}
}

// scanRunner fakes pdftoppm and tesseract: rasterizing materializes one
// page image, recognizing it yields the configured text.
type scanRunner struct {
	text       string
	rasterized bool
	byPath     map[string]string
}

func (r *scanRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	if name == "pdftoppm" {
		r.rasterized = true
		if r.byPath == nil {
			r.byPath = make(map[string]string)
		}
		path := args[len(args)-1] + "-1.png"
		if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
			return nil, nil, err
		}
		r.byPath[path] = r.text
		return nil, nil, nil
	}
	return []byte(r.byPath[args[0]]), nil, nil
}

func (r *scanRunner) LookPath(name string) (string, error) { return "/usr/bin/" + name, nil }

func TestPipelineEscalatesScannedPDFToOCR(t *testing.T) {
	ocrText := strings.Repeat("Fundus exam unremarkable, optic discs pink and sharp. ", 5)
	runner := &scanRunner{text: ocrText}
	extractor := extract.New(extract.Config{}, discardLogger()).WithRunner(runner)

	analyzeClient := &llm.MockClient{Responses: []string{analysisJSON}}
	citeClient := &llm.MockClient{Responses: []string{
		`{"diagnoses": [{"number": 1, "refs": [1]}], "plan": [{"number": 1, "refs": [1]}]}`,
	}}
	p, store, up := newTestPipelineWith(t, extractor, analyzeClient, citeClient)

	// The upload is a real PDF with a junk text layer and no force flag, so
	// the first extraction pass must come back empty-handed and the worker
	// must rerun it with OCR forced.
	rec := job.NewRecord("scan.pdf", "", false)
	key, err := up.Save(rec.ID, "scan.pdf", testutil.ScannedPDF(1))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.UploadKey = key
	if err := p.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitForDone(t, store, rec.ID)
	if final.Status != job.StatusComplete {
		t.Fatalf("status = %q (error %q), want complete", final.Status, final.Error)
	}
	if !runner.rasterized {
		t.Fatal("scanned PDF never reached the OCR toolchain")
	}
	if len(analyzeClient.Requests) == 0 || !strings.Contains(analyzeClient.Requests[0].Prompt, "Fundus exam") {
		t.Error("analysis did not receive the recognized text")
	}
}

func TestCheckResumeSingleShot(t *testing.T) {
	analyzeClient := &llm.MockClient{Responses: []string{analysisJSON}}
	p, store, up := newTestPipeline(t, analyzeClient, &llm.MockClient{})
	ctx := context.Background()

	// A job that went quiet mid-flight: processing, stale heartbeat,
	// upload still on disk.
	rec := job.NewRecord("note.txt", "", false)
	key, err := up.Save(rec.ID, "note.txt", []byte("Follow-up for dry eye."))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.UploadKey = key
	rec.Status = job.StatusProcessing
	rec.Stage = job.StageAnalyzing
	rec.HeartbeatAt = time.Now().UTC().Add(-5 * time.Minute)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !p.CheckResume(ctx, rec) {
		t.Fatal("expected stale job to be resumed")
	}

	flagged, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !flagged.ResumeStarted {
		t.Error("resume_started not set")
	}

	// The guard is single-shot even if the heartbeat looks stale again.
	stale := *flagged
	stale.HeartbeatAt = time.Now().UTC().Add(-5 * time.Minute)
	if p.CheckResume(ctx, &stale) {
		t.Error("resumed the same job twice")
	}

	final := waitForDone(t, store, rec.ID)
	if final.Status != job.StatusComplete {
		t.Fatalf("resumed job status = %q (error %q), want complete", final.Status, final.Error)
	}
}

func TestCheckResumeIgnoresHealthyJobs(t *testing.T) {
	p, store, _ := newTestPipeline(t, &llm.MockClient{}, &llm.MockClient{})
	ctx := context.Background()

	rec := job.NewRecord("note.txt", "note.txt", false)
	rec.Status = job.StatusProcessing
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if p.CheckResume(ctx, rec) {
		t.Error("resumed a job with a fresh heartbeat")
	}

	waiting := job.NewRecord("note.txt", "note.txt", false)
	waiting.HeartbeatAt = time.Now().UTC().Add(-5 * time.Minute)
	if p.CheckResume(ctx, waiting) {
		t.Error("resumed a job that is not processing")
	}
}
