package ledger

import "github.com/iho/guardledger/internal/domain"

// ReentrancyGuard rejects any mutating call that arrives while another one on
// the same ledger is still in progress. It is a plain flag, not a mutex: the
// re-entrant call runs on the caller's own stack, so blocking would deadlock.
type ReentrancyGuard struct {
	locked bool
}

// Enter takes the guard or fails with ErrReentrantCall. The returned func
// releases it and must run on every exit path.
func (g *ReentrancyGuard) Enter() (release func(), err error) {
	if g.locked {
		return nil, domain.ErrReentrantCall
	}
	g.locked = true
	return func() { g.locked = false }, nil
}

// Locked reports whether a guarded operation is in progress.
func (g *ReentrancyGuard) Locked() bool {
	return g.locked
}
