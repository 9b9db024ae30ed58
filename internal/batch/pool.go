package batch

import "videobatch/internal/domain"

// Pool is the ordered account list of one batch with a forward-only cursor.
type Pool struct {
	accounts []domain.Account
	cursor   int
}

// NewPool copies accounts so the caller's slice is never mutated.
func NewPool(accounts []domain.Account) *Pool {
	cp := make([]domain.Account, len(accounts))
	copy(cp, accounts)
	return &Pool{accounts: cp}
}

// Current returns the active account, or false once the pool is exhausted.
func (p *Pool) Current() (domain.Account, bool) {
	if p.cursor >= len(p.accounts) {
		return domain.Account{}, false
	}
	return p.accounts[p.cursor], true
}

// Rotate marks the active account exhausted and moves to the next one. It
// returns false when no account is left; the cursor then equals Len and
// stays there.
func (p *Pool) Rotate() (domain.Account, bool) {
	if p.cursor >= len(p.accounts) {
		return domain.Account{}, false
	}
	p.accounts[p.cursor].Exhausted = true
	p.cursor++
	return p.Current()
}

func (p *Pool) Cursor() int { return p.cursor }

func (p *Pool) Len() int { return len(p.accounts) }

// Exhausted reports whether rotation has run past the last account.
func (p *Pool) Exhausted() bool { return p.cursor >= len(p.accounts) }

// Accounts returns a copy of the pool including exhaustion flags.
func (p *Pool) Accounts() []domain.Account {
	cp := make([]domain.Account, len(p.accounts))
	copy(cp, p.accounts)
	return cp
}
