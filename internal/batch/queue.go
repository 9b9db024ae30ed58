package batch

import (
	"fmt"
	"strings"

	"videobatch/internal/domain"
)

// Queue holds the jobs of one batch in prompt order.
type Queue struct {
	jobs   []domain.Job
	cursor int
}

func NewQueue(prompts []string) *Queue {
	jobs := make([]domain.Job, len(prompts))
	for i, p := range prompts {
		jobs[i] = domain.Job{Index: i, Prompt: p, Status: domain.JobStatusPending}
	}
	return &Queue{jobs: jobs}
}

// Current returns the job under the cursor, or false when the queue is done.
func (q *Queue) Current() (*domain.Job, bool) {
	if q.cursor >= len(q.jobs) {
		return nil, false
	}
	return &q.jobs[q.cursor], true
}

// Advance moves the cursor forward by exactly one.
func (q *Queue) Advance() {
	if q.cursor < len(q.jobs) {
		q.cursor++
	}
}

func (q *Queue) Cursor() int { return q.cursor }

func (q *Queue) Len() int { return len(q.jobs) }

// ValidatePrompts rejects an empty batch or a blank prompt.
func ValidatePrompts(prompts []string) error {
	if len(prompts) == 0 {
		return &domain.ValidationError{Field: "prompts", Reason: "must not be empty"}
	}
	for i, p := range prompts {
		if strings.TrimSpace(p) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("prompts[%d]", i), Reason: "must not be blank"}
		}
	}
	return nil
}

// ValidateAccounts requires at least one identified account when the
// provider needs authentication.
func ValidateAccounts(accounts []domain.Account, requiresAuth bool) error {
	if !requiresAuth {
		return nil
	}
	if len(accounts) == 0 {
		return &domain.ValidationError{Field: "accounts", Reason: "must not be empty"}
	}
	for i, a := range accounts {
		if strings.TrimSpace(a.Identity) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("accounts[%d].email", i), Reason: "is required"}
		}
	}
	return nil
}
