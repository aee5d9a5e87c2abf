package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/domain"
)

// AccountStore maps account IDs to their records. It holds data only; every
// rule about who may move what lives in Ledger.
type AccountStore struct {
	accounts map[string]domain.Account
}

// NewAccountStore creates an empty store.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]domain.Account)}
}

// Get returns the account, or a zero-balance record if it does not exist.
func (s *AccountStore) Get(id string) domain.Account {
	if acc, ok := s.accounts[id]; ok {
		return acc
	}
	return domain.Account{ID: id, Balance: decimal.Zero}
}

// Exists reports whether a record has been created for id.
func (s *AccountStore) Exists(id string) bool {
	_, ok := s.accounts[id]
	return ok
}

// Credit adds amount to the account, creating it on first use.
func (s *AccountStore) Credit(id string, amount decimal.Decimal) {
	acc := s.Get(id)
	acc.Balance = acc.ApplyCredit(amount)
	s.accounts[id] = acc
}

// Debit removes amount from the account. It fails with ErrInsufficientFunds,
// leaving the record untouched, when amount exceeds the recorded balance.
func (s *AccountStore) Debit(id string, amount decimal.Decimal) error {
	acc := s.Get(id)
	if err := acc.ValidateDebit(amount); err != nil {
		return err
	}
	acc.Balance = acc.ApplyDebit(amount)
	s.accounts[id] = acc
	return nil
}

// Touch records at as the account's last withdrawal time.
func (s *AccountStore) Touch(id string, at time.Time) {
	acc := s.Get(id)
	acc.LastWithdrawAt = at
	s.accounts[id] = acc
}

// Set overwrites the record wholesale.
func (s *AccountStore) Set(acc domain.Account) {
	s.accounts[acc.ID] = acc
}

// Sum returns the total of all recorded balances.
func (s *AccountStore) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, acc := range s.accounts {
		total = total.Add(acc.Balance)
	}
	return total
}

// IDs returns every known account ID in sorted order.
func (s *AccountStore) IDs() []string {
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Savepoint captures the store so it can be restored exactly.
func (s *AccountStore) Savepoint() *Savepoint {
	cp := make(map[string]domain.Account, len(s.accounts))
	for id, acc := range s.accounts {
		cp[id] = acc
	}
	return &Savepoint{store: s, accounts: cp}
}

// Savepoint is a restorable copy of an AccountStore. Savepoints nest: rolling
// back an outer one also discards everything done under inner ones.
type Savepoint struct {
	store    *AccountStore
	accounts map[string]domain.Account
	done     bool
}

// Rollback restores the store. It is a no-op after Release or a previous
// Rollback, so it can be deferred unconditionally.
func (sp *Savepoint) Rollback() {
	if sp.done {
		return
	}
	sp.store.accounts = sp.accounts
	sp.done = true
}

// Release keeps every change made since the savepoint was taken.
func (sp *Savepoint) Release() {
	sp.done = true
}
