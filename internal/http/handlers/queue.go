package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"videobatch/internal/batch"
	"videobatch/internal/domain"
	"videobatch/internal/middleware"
	"videobatch/pkg/zip"
)

type queuedBatch struct {
	ID            string             `json:"batch_id"`
	Provider      string             `json:"provider"`
	Category      string             `json:"category,omitempty"`
	Status        domain.BatchStatus `json:"status"`
	Prompts       int                `json:"prompts"`
	AccountCursor int                `json:"account_cursor"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Results       []domain.Job       `json:"results"`
}

func (a *App) queueAvailable(w http.ResponseWriter) bool {
	if a.Batches == nil {
		a.error(w, http.StatusServiceUnavailable, "queue_unavailable", "batch queue requires a database")
		return false
	}
	return true
}

// EnqueueBatch stores a batch for the worker and answers 202 with its id.
func (a *App) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if !a.queueAvailable(w) {
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !slices.Contains(a.Runner.Providers(), provider) {
		a.error(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown provider %q", req.Provider))
		return
	}
	if err := batch.ValidatePrompts(req.Prompts); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	id, err := a.Batches.Create(r.Context(), &domain.BatchRequest{
		Provider:      provider,
		Category:      strings.TrimSpace(req.Category),
		Prompts:       req.Prompts,
		Accounts:      req.Accounts,
		OriginCountry: middleware.CountryFromContext(r.Context()),
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("provider", provider).Msg("http: enqueue batch")
		a.error(w, http.StatusInternalServerError, "internal", "could not queue batch")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"batch_id": id, "status": domain.BatchStatusQueued})
}

func (a *App) loadBatch(w http.ResponseWriter, r *http.Request) (*domain.BatchRequest, []domain.Job, bool) {
	if !a.queueAvailable(w) {
		return nil, nil, false
	}
	id := chi.URLParam(r, "id")
	req, err := a.Batches.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
			return nil, nil, false
		}
		a.Logger.Error().Err(err).Str("batch_id", id).Msg("http: load batch")
		a.error(w, http.StatusInternalServerError, "internal", "could not load batch")
		return nil, nil, false
	}
	jobs, err := a.Batches.ListResults(r.Context(), id)
	if err != nil {
		a.Logger.Error().Err(err).Str("batch_id", id).Msg("http: load batch results")
		a.error(w, http.StatusInternalServerError, "internal", "could not load results")
		return nil, nil, false
	}
	return req, jobs, true
}

// GetBatch reports the status of a queued batch and the jobs recorded so far.
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	req, jobs, ok := a.loadBatch(w, r)
	if !ok {
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	a.json(w, http.StatusOK, queuedBatch{
		ID:            req.ID,
		Provider:      req.Provider,
		Category:      req.Category,
		Status:        req.Status,
		Prompts:       len(req.Prompts),
		AccountCursor: req.AccountCursor,
		Error:         req.ErrorMessage,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
		Results:       jobs,
	})
}

// ArchiveBatch streams the completed artifacts of a batch as a zip, with a
// results.json manifest.
func (a *App) ArchiveBatch(w http.ResponseWriter, r *http.Request) {
	req, jobs, ok := a.loadBatch(w, r)
	if !ok {
		return
	}
	manifest, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "could not encode results")
		return
	}
	entries := []zip.Entry{{Name: "results.json", Data: manifest}}
	for _, job := range jobs {
		if job.Status != domain.JobStatusCompleted {
			continue
		}
		path := a.artifactPath(job)
		if path == "" {
			a.Logger.Warn().Str("batch_id", req.ID).Int("job_index", job.Index).Msg("http: artifact missing from archive")
			continue
		}
		entries = append(entries, zip.Entry{Name: filepath.Base(path), Path: path})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.zip"`, req.ID))
	if err := zip.Write(w, entries); err != nil {
		a.Logger.Error().Err(err).Str("batch_id", req.ID).Msg("http: write archive")
	}
}

// artifactPath returns the local file of a completed job, or "" when it is
// gone.
func (a *App) artifactPath(job domain.Job) string {
	candidates := []string{job.ArtifactPath}
	if a.Files != nil && job.ArtifactRef != "" && !strings.Contains(job.ArtifactRef, "://") {
		if p, err := a.Files.Path(job.ArtifactRef); err == nil {
			candidates = append(candidates, p)
		}
	}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
