package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clincite/clincite/internal/analysis"
	"github.com/clincite/clincite/internal/api"
	"github.com/clincite/clincite/internal/citations"
	"github.com/clincite/clincite/internal/extract"
	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/jobstore"
	"github.com/clincite/clincite/internal/llm"
	"github.com/clincite/clincite/internal/pipeline"
	"github.com/clincite/clincite/internal/references"
	"github.com/clincite/clincite/internal/svcctx"
	"github.com/clincite/clincite/internal/uploads"
)

const analysisJSON = `{
  "provider": "Dr. Smith",
  "patient": "J.D.",
  "summary": "Follow-up visit.",
  "diagnoses": [{"label": "Primary open-angle glaucoma"}],
  "plan": [{"title": "Continue latanoprost nightly"}],
  "warnings": []
}`

type testEnv struct {
	handler  http.Handler
	store    jobstore.Store
	pipeline *pipeline.Pipeline
}

// newTestEnv wires the endpoint mux against an in-memory store and a
// pipeline with mocked completion clients.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := jobstore.New(jobstore.Config{Logger: logger})
	up, err := uploads.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pool, err := references.LoadPool()
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}

	pl := pipeline.New(pipeline.Deps{
		Store:      store,
		Uploads:    up,
		Extractor:  extract.New(extract.Config{}, logger),
		Analyzer:   analysis.New(&llm.MockClient{Responses: []string{analysisJSON}}, 0, logger),
		References: references.NewService(nil, pool, nil, 0, logger),
		Citations:  citations.New(&llm.MockClient{}, 0, logger),
		Logger:     logger,
	}, pipeline.WithWorkers(1))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pl.Shutdown(ctx)
	})

	services := &svcctx.Services{
		Store:    store,
		Uploads:  up,
		Pipeline: pl,
		Logger:   logger,
	}

	registry := api.NewRegistry()
	for _, ep := range All(Config{}) {
		registry.Register(ep)
	}
	mux := http.NewServeMux()
	registry.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})

	return &testEnv{handler: handler, store: store, pipeline: pl}
}

func (env *testEnv) do(t *testing.T, req *http.Request, out any) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response: %v (body %s)", err, rr.Body.String())
		}
	}
	return rr
}

func uploadRequest(t *testing.T, filename, content string, forceOCR bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if forceOCR {
		writer.WriteField("force_ocr", "true")
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var resp HealthResponse
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), &resp)
	if rr.Code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("health = %d %q", rr.Code, resp.Status)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil), &resp)
	if rr.Code != http.StatusOK {
		t.Errorf("ready = %d", rr.Code)
	}
}

func TestCreateAndPollJob(t *testing.T) {
	env := newTestEnv(t)

	var created CreateJobResponse
	rr := env.do(t, uploadRequest(t, "visit.txt", "Glaucoma follow-up, pressures stable.", false), &created)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create = %d, body %s", rr.Code, rr.Body.String())
	}
	if created.JobID == "" || created.Status != string(job.StatusWaiting) {
		t.Fatalf("create response = %+v", created)
	}

	// Poll until the pipeline finishes.
	var status JobStatusResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status = JobStatusResponse{}
		rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.JobID+"/status", nil), &status)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		if status.Status == string(job.StatusComplete) || status.Status == string(job.StatusError) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if status.Status != string(job.StatusComplete) {
		t.Fatalf("final status = %q (error %q)", status.Status, status.Error)
	}
	if status.Progress != 100 {
		t.Errorf("progress = %d", status.Progress)
	}
	if status.Data == nil || len(status.Data.Diagnoses) == 0 {
		t.Fatal("complete status carries no analysis data")
	}
	if status.Error != "" {
		t.Errorf("complete status should not carry an error, got %q", status.Error)
	}

	// Full record fetch returns persisted fields the status payload omits.
	var rec job.Record
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.JobID, nil), &rec)
	if rr.Code != http.StatusOK {
		t.Fatalf("get = %d", rr.Code)
	}
	if rec.InputFilename != "visit.txt" || rec.UploadKey == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestCreateJobRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("force_ocr", "true")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := env.do(t, req, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("create without file = %d", rr.Code)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing/status", nil), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status of unknown job = %d", rr.Code)
	}
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get of unknown job = %d", rr.Code)
	}
}

func TestStatusPollTriggersResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A stuck job: processing with a stale heartbeat but no upload on disk,
	// so the resume flag flips without relaunching real work.
	rec := job.NewRecord("visit.txt", "", false)
	rec.Status = job.StatusProcessing
	rec.Stage = job.StageAnalyzing
	rec.HeartbeatAt = time.Now().UTC().Add(-5 * time.Minute)
	rec.UploadKey = "visit.txt"
	if err := env.store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+rec.ID+"/status", nil), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := env.store.Get(ctx, rec.ID)
		if err == nil && got.ResumeStarted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("status poll did not flag the stale job for resume")
}
