package domain

import "context"

// BatchRepository persists queued batch requests and their job records.
type BatchRepository interface {
	Create(ctx context.Context, req *BatchRequest) (string, error)
	ClaimNext(ctx context.Context) (*BatchRequest, error)
	GetByID(ctx context.Context, id string) (*BatchRequest, error)
	SaveResult(ctx context.Context, batchID string, job Job) error
	ListResults(ctx context.Context, batchID string) ([]Job, error)
	Finish(ctx context.Context, batchID string, status BatchStatus, accountCursor int, errMsg string) error
}

// AccountRepository supplies stored provider accounts.
type AccountRepository interface {
	Accounts(ctx context.Context, provider string) ([]Account, error)
	UpsertAccount(ctx context.Context, provider string, account Account) error
}
