package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"videobatch/internal/domain"
	"videobatch/internal/infra"
	"videobatch/internal/sqlinline"
)

// ErrNoBatchQueued is returned by ClaimNext when the queue is empty.
var ErrNoBatchQueued = errors.New("no batch queued")

// BatchRepositoryPG implements domain.BatchRepository.
type BatchRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewBatchRepository creates a batch repository backed by PostgreSQL.
func NewBatchRepository(sql infra.SQLExecutor) *BatchRepositoryPG {
	return &BatchRepositoryPG{sql: sql}
}

var _ domain.BatchRepository = (*BatchRepositoryPG)(nil)

// Create queues a batch request and returns its id.
func (r *BatchRepositoryPG) Create(ctx context.Context, req *domain.BatchRequest) (string, error) {
	if req == nil {
		return "", errors.New("batch request is required")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	prompts, err := json.Marshal(req.Prompts)
	if err != nil {
		return "", fmt.Errorf("encode prompts: %w", err)
	}
	accounts := req.Accounts
	if accounts == nil {
		accounts = []domain.Account{}
	}
	accountsJSON, err := json.Marshal(accounts)
	if err != nil {
		return "", fmt.Errorf("encode accounts: %w", err)
	}

	var created string
	row := r.sql.QueryRow(ctx, sqlinline.QInsertBatchRequest,
		id,
		strings.ToLower(strings.TrimSpace(req.Provider)),
		req.Category,
		prompts,
		accountsJSON,
		req.OriginCountry,
	)
	if err := row.Scan(&created); err != nil {
		return "", err
	}
	req.ID = created
	req.Status = domain.BatchStatusQueued
	return created, nil
}

// ClaimNext moves the oldest queued request to RUNNING and returns it.
func (r *BatchRepositoryPG) ClaimNext(ctx context.Context) (*domain.BatchRequest, error) {
	req, err := scanBatch(r.sql.QueryRow(ctx, sqlinline.QClaimBatchRequest))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNoBatchQueued
		}
		return nil, err
	}
	return req, nil
}

// GetByID fetches a batch request by its identifier.
func (r *BatchRepositoryPG) GetByID(ctx context.Context, id string) (*domain.BatchRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	req, err := scanBatch(r.sql.QueryRow(ctx, sqlinline.QSelectBatchRequest, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// SaveResult stores one job record; saving the same index again overwrites it.
func (r *BatchRepositoryPG) SaveResult(ctx context.Context, batchID string, job domain.Job) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertBatchResult,
		batchID,
		job.Index,
		job.Prompt,
		string(job.Status),
		job.ArtifactRef,
		job.ArtifactPath,
		job.Error,
	)
	return err
}

// ListResults returns the job records of a batch in index order.
func (r *BatchRepositoryPG) ListResults(ctx context.Context, batchID string) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectBatchResults, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		var (
			job    domain.Job
			status string
		)
		if err := rows.Scan(&job.Index, &job.Prompt, &status, &job.ArtifactRef, &job.ArtifactPath, &job.Error); err != nil {
			return nil, err
		}
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Finish records the terminal status of a batch.
func (r *BatchRepositoryPG) Finish(ctx context.Context, batchID string, status domain.BatchStatus, accountCursor int, errMsg string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QFinishBatchRequest, batchID, string(status), accountCursor, errMsg)
	return err
}

func scanBatch(row pgx.Row) (*domain.BatchRequest, error) {
	var (
		req      domain.BatchRequest
		prompts  []byte
		accounts []byte
		status   string
	)
	if err := row.Scan(
		&req.ID,
		&req.Provider,
		&req.Category,
		&prompts,
		&accounts,
		&status,
		&req.OriginCountry,
		&req.AccountCursor,
		&req.ErrorMessage,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.Status = domain.BatchStatus(status)
	if err := json.Unmarshal(prompts, &req.Prompts); err != nil {
		return nil, fmt.Errorf("decode prompts of batch %s: %w", req.ID, err)
	}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &req.Accounts); err != nil {
			return nil, fmt.Errorf("decode accounts of batch %s: %w", req.ID, err)
		}
	}
	return &req, nil
}
