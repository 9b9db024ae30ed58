package domain

import "time"

// JobStatus enumerates the lifecycle of one prompt inside a batch.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one (prompt, outcome) unit of work. Index is its only identity.
type Job struct {
	Index        int       `json:"index"`
	Prompt       string    `json:"prompt"`
	Status       JobStatus `json:"status"`
	ArtifactRef  string    `json:"artifact_ref,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Terminal reports whether the job reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Account is a provider credential. Exhausted accounts are skipped, never
// removed.
type Account struct {
	Identity  string `json:"email"`
	Secret    string `json:"password"`
	Exhausted bool   `json:"-"`
}

// Anonymous reports whether the account carries no identity, which is the
// single-slot pool used by drivers that run without authentication.
func (a Account) Anonymous() bool {
	return a.Identity == ""
}

// BatchStatus enumerates the lifecycle of a queued batch request.
type BatchStatus string

const (
	BatchStatusQueued    BatchStatus = "QUEUED"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusSucceeded BatchStatus = "SUCCEEDED"
	BatchStatusExhausted BatchStatus = "EXHAUSTED"
	BatchStatusFailed    BatchStatus = "FAILED"
)

// BatchRequest is a persisted batch awaiting or undergoing processing.
type BatchRequest struct {
	ID            string
	Provider      string
	Category      string
	Prompts       []string
	Accounts      []Account
	Status        BatchStatus
	OriginCountry string
	AccountCursor int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
