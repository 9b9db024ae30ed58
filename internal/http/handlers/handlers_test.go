package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"videobatch/internal/batch"
	"videobatch/internal/domain"
	"videobatch/internal/service"
	"videobatch/internal/storage"
)

type stubRunner struct {
	result *batch.Result
	err    error

	mu  sync.Mutex
	got service.Request
}

func (s *stubRunner) request() service.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func (s *stubRunner) Providers() []string { return []string{"flow", "qwen"} }

func (s *stubRunner) Run(ctx context.Context, req service.Request) (*batch.Result, error) {
	s.mu.Lock()
	s.got = req
	s.mu.Unlock()
	if req.Observer != nil {
		req.Observer.StateChanged(0, batch.StateStart, batch.StateEnsureSession)
		req.Observer.AccountRotated(0, 0, 1)
		for _, job := range s.result.Jobs {
			req.Observer.JobRecorded(job)
		}
	}
	return s.result, s.err
}

type stubBatches struct {
	mu      sync.Mutex
	created *domain.BatchRequest
	batch   *domain.BatchRequest
	jobs    []domain.Job
}

func (s *stubBatches) Create(_ context.Context, req *domain.BatchRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = req
	return "b-1", nil
}

func (s *stubBatches) ClaimNext(context.Context) (*domain.BatchRequest, error) { return nil, nil }

func (s *stubBatches) GetByID(_ context.Context, id string) (*domain.BatchRequest, error) {
	if s.batch == nil || s.batch.ID != id {
		return nil, domain.ErrNotFound
	}
	return s.batch, nil
}

func (s *stubBatches) SaveResult(context.Context, string, domain.Job) error { return nil }

func (s *stubBatches) ListResults(context.Context, string) ([]domain.Job, error) { return s.jobs, nil }

func (s *stubBatches) Finish(context.Context, string, domain.BatchStatus, int, string) error {
	return nil
}

func newTestRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/providers", app.Providers)
	r.Post("/v1/providers/{provider}/batches", app.RunBatch)
	r.Get("/v1/providers/{provider}/stream", app.StreamBatch)
	r.Post("/v1/batches", app.EnqueueBatch)
	r.Get("/v1/batches/{id}", app.GetBatch)
	r.Get("/v1/batches/{id}/archive", app.ArchiveBatch)
	return r
}

func completedJobs() []domain.Job {
	return []domain.Job{
		{Index: 0, Prompt: "a cat", Status: domain.JobStatusCompleted, ArtifactRef: "0000-a-cat.mp4"},
		{Index: 1, Prompt: "a dog", Status: domain.JobStatusFailed, Error: "job 1: artifact capture failed"},
	}
}

func TestRunBatchReturnsResults(t *testing.T) {
	runner := &stubRunner{result: &batch.Result{Jobs: completedJobs(), AccountCursor: 1, Rotations: 1}}
	app := NewApp(runner, nil, nil, zerolog.Nop(), nil)

	body := `{"prompts":["a cat","a dog"],"category":" pets "}`
	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/providers/QWEN/batches", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if runner.request().Provider != "qwen" || runner.request().Category != "pets" {
		t.Fatalf("request = %+v", runner.request())
	}
	var out batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || out.Rotations != 1 || out.Results[1].Status != domain.JobStatusFailed {
		t.Fatalf("response = %+v", out)
	}
}

func TestRunBatchExhaustedKeepsPartialResults(t *testing.T) {
	jobs := completedJobs()[:1]
	runner := &stubRunner{
		result: &batch.Result{Jobs: jobs},
		err:    &domain.ExhaustedError{Index: 1, Accounts: 2, Results: jobs},
	}
	app := NewApp(runner, nil, nil, zerolog.Nop(), nil)

	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/providers/qwen/batches", strings.NewReader(`{"prompts":["a","b"]}`)))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	var out batchResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Error != "accounts_exhausted" || out.Count != 1 {
		t.Fatalf("response = %+v", out)
	}
}

func TestRunBatchErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "prompts", Reason: "must not be empty"}, http.StatusBadRequest},
		{domain.ErrUnknownProvider, http.StatusNotFound},
		{domain.ErrProviderBusy, http.StatusConflict},
		{context.Canceled, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		runner := runnerFunc(func(context.Context, service.Request) (*batch.Result, error) { return nil, tc.err })
		app := NewApp(runner, nil, nil, zerolog.Nop(), nil)
		rec := httptest.NewRecorder()
		newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/providers/qwen/batches", strings.NewReader(`{"prompts":["a"]}`)))
		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

type runnerFunc func(context.Context, service.Request) (*batch.Result, error)

func (f runnerFunc) Run(ctx context.Context, req service.Request) (*batch.Result, error) {
	return f(ctx, req)
}

func (f runnerFunc) Providers() []string { return nil }

func TestRunBatchRejectsBadJSON(t *testing.T) {
	app := NewApp(&stubRunner{}, nil, nil, zerolog.Nop(), nil)
	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/providers/qwen/batches", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStreamBatchSendsEvents(t *testing.T) {
	runner := &stubRunner{result: &batch.Result{Jobs: completedJobs()}}
	app := NewApp(runner, nil, nil, zerolog.Nop(), nil)
	srv := httptest.NewServer(newTestRouter(app))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/providers/flow/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(batchRequest{Prompts: []string{"a cat", "a dog"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	for {
		var ev streamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		types = append(types, ev.Type)
		if ev.Type == "result" {
			if ev.Result == nil || ev.Result.Count != 2 {
				t.Fatalf("result = %+v", ev.Result)
			}
			break
		}
	}
	want := []string{"state", "rotation", "job", "job", "result"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}
	if runner.request().Provider != "flow" {
		t.Fatalf("provider = %q", runner.request().Provider)
	}
}

func TestStreamBatchRejectsForeignOrigin(t *testing.T) {
	app := NewApp(&stubRunner{}, nil, nil, zerolog.Nop(), []string{"http://localhost:5173"})
	srv := httptest.NewServer(newTestRouter(app))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/providers/flow/stream"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestEnqueueBatch(t *testing.T) {
	repo := &stubBatches{}
	app := NewApp(&stubRunner{}, repo, nil, zerolog.Nop(), nil)

	body := `{"provider":"Flow","prompts":["a cat"],"category":"pets"}`
	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if repo.created == nil || repo.created.Provider != "flow" || repo.created.Category != "pets" {
		t.Fatalf("created = %+v", repo.created)
	}
	if !strings.Contains(rec.Body.String(), `"batch_id":"b-1"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestEnqueueBatchValidation(t *testing.T) {
	app := NewApp(&stubRunner{}, &stubBatches{}, nil, zerolog.Nop(), nil)
	tests := []struct {
		body string
		want int
	}{
		{`{"provider":"grok","prompts":["a"]}`, http.StatusNotFound},
		{`{"provider":"qwen","prompts":[]}`, http.StatusBadRequest},
		{`{"provider":"qwen","prompts":["  "]}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.body, rec.Code, tc.want)
		}
	}
}

func TestQueueWithoutDatabase(t *testing.T) {
	app := NewApp(&stubRunner{}, nil, nil, zerolog.Nop(), nil)
	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/b-1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetBatch(t *testing.T) {
	repo := &stubBatches{
		batch: &domain.BatchRequest{ID: "b-1", Provider: "qwen", Prompts: []string{"a", "b"}, Status: domain.BatchStatusRunning},
		jobs:  completedJobs()[:1],
	}
	app := NewApp(&stubRunner{}, repo, nil, zerolog.Nop(), nil)

	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/b-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out queuedBatch
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != domain.BatchStatusRunning || out.Prompts != 2 || len(out.Results) != 1 {
		t.Fatalf("out = %+v", out)
	}

	rec = httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestArchiveBatch(t *testing.T) {
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := files.Write(t.Context(), "0000-a-cat.mp4", []byte("video-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	repo := &stubBatches{
		batch: &domain.BatchRequest{ID: "b-1", Provider: "qwen"},
		jobs:  completedJobs(),
	}
	app := NewApp(&stubRunner{}, repo, files, zerolog.Nop(), nil)

	rec := httptest.NewRecorder()
	newTestRouter(app).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/b-1/archive", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "results.json,0000-a-cat.mp4" {
		t.Fatalf("entries = %v", names)
	}
}

func TestArtifactPathPrefersLocalFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	app := NewApp(&stubRunner{}, nil, nil, zerolog.Nop(), nil)
	if got := app.artifactPath(domain.Job{ArtifactPath: local, ArtifactRef: "s3://bucket/clip.mp4"}); got != local {
		t.Fatalf("artifactPath = %q", got)
	}
	if got := app.artifactPath(domain.Job{ArtifactRef: "s3://bucket/clip.mp4"}); got != "" {
		t.Fatalf("artifactPath for remote ref = %q", got)
	}
}
