package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"videobatch/internal/batch"
	"videobatch/internal/domain"
	"videobatch/internal/service"
)

type batchRequest struct {
	Provider string           `json:"provider,omitempty"`
	Prompts  []string         `json:"prompts"`
	Accounts []domain.Account `json:"accounts"`
	Category string           `json:"category"`
}

type batchResponse struct {
	Provider      string       `json:"provider"`
	Count         int          `json:"count"`
	AccountCursor int          `json:"account_cursor"`
	Rotations     int          `json:"rotations"`
	Results       []domain.Job `json:"results"`
	Error         string       `json:"error,omitempty"`
	Message       string       `json:"message,omitempty"`
}

func newBatchResponse(provider string, res *batch.Result) batchResponse {
	out := batchResponse{Provider: provider, Results: []domain.Job{}}
	if res != nil {
		out.AccountCursor = res.AccountCursor
		out.Rotations = res.Rotations
		if res.Jobs != nil {
			out.Results = res.Jobs
		}
	}
	out.Count = len(out.Results)
	return out
}

func (r batchRequest) serviceRequest(provider string) service.Request {
	return service.Request{
		Provider: provider,
		Category: strings.TrimSpace(r.Category),
		Prompts:  r.Prompts,
		Accounts: r.Accounts,
	}
}

// RunBatch runs a batch and answers once it is finished. Exhaustion answers
// 429 with the results recorded before the stop.
func (a *App) RunBatch(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	res, err := a.Runner.Run(r.Context(), req.serviceRequest(provider))
	out := newBatchResponse(provider, res)
	if err != nil {
		code, kind := statusFor(err)
		a.Logger.Warn().Err(err).Str("provider", provider).Int("status", code).Msg("http: batch run failed")
		if res == nil {
			a.error(w, code, kind, err.Error())
			return
		}
		out.Error, out.Message = kind, err.Error()
		a.json(w, code, out)
		return
	}
	a.json(w, http.StatusOK, out)
}
