package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"videobatch/internal/domain"
)

type stubExecutor struct {
	accounts [][2]string
	err      error
	tag      pgconn.CommandTag
	exec     struct {
		query string
		args  []any
	}
	queryArgs []any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queryArgs = args
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{data: s.accounts, idx: -1}, nil
}

type stubRows struct {
	pgx.Rows
	data [][2]string
	idx  int
}

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *stubRows) Scan(dest ...any) error {
	if len(dest) != 2 {
		return errors.New("expected two destinations")
	}
	*dest[0].(*string) = r.data[r.idx][0]
	*dest[1].(*string) = r.data[r.idx][1]
	return nil
}

func (r *stubRows) Err() error { return nil }

func (r *stubRows) Close() {}

func TestAccountsKeepsOrder(t *testing.T) {
	exec := &stubExecutor{accounts: [][2]string{{" a@x.test ", "pa"}, {"b@x.test", "pb"}}}
	store := NewStore(exec)
	accounts, err := store.Accounts(context.Background(), " Qwen ")
	if err != nil {
		t.Fatalf("Accounts error: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Identity != "a@x.test" || accounts[1].Secret != "pb" {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}
	if v, _ := exec.queryArgs[0].(string); v != "qwen" {
		t.Fatalf("provider argument = %v, want qwen", exec.queryArgs[0])
	}
}

func TestAccountsWrapsQueryError(t *testing.T) {
	boom := errors.New("boom")
	store := NewStore(&stubExecutor{err: boom})
	if _, err := store.Accounts(context.Background(), "qwen"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestUpsertAccount(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.UpsertAccount(context.Background(), "flow", domain.Account{Identity: " me@x.test ", Secret: "secret"}); err != nil {
		t.Fatalf("UpsertAccount error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "me@x.test" {
		t.Fatalf("expected trimmed identity, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestUpsertAccountRequiresFields(t *testing.T) {
	store := NewStore(&stubExecutor{})
	cases := []struct {
		provider string
		account  domain.Account
	}{
		{"", domain.Account{Identity: "a", Secret: "b"}},
		{"qwen", domain.Account{Identity: " ", Secret: "b"}},
		{"qwen", domain.Account{Identity: "a"}},
	}
	for _, tc := range cases {
		if err := store.UpsertAccount(context.Background(), tc.provider, tc.account); err == nil {
			t.Fatalf("expected error for %q %+v", tc.provider, tc.account)
		}
	}
}

func TestDisableAccountNotFound(t *testing.T) {
	store := NewStore(&stubExecutor{tag: pgconn.NewCommandTag("UPDATE 0")})
	if err := store.DisableAccount(context.Background(), "qwen", "ghost@x.test"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	store = NewStore(&stubExecutor{tag: pgconn.NewCommandTag("UPDATE 1")})
	if err := store.DisableAccount(context.Background(), "qwen", "a@x.test"); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}
}
