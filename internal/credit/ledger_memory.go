package credit

import (
	"sync"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

// MemoryLedger is the always-available in-memory ledger backend (spec §6:
// "the engine exposes the same operational surface when running in-memory").
type MemoryLedger struct {
	mu        sync.Mutex
	byAccount map[string][]domain.CreditTransaction
	reports   map[string]bool
	locks     map[string]*sync.Mutex
}

// NewMemoryLedger constructs an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byAccount: make(map[string][]domain.CreditTransaction),
		reports:   make(map[string]bool),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (l *MemoryLedger) accountLock(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// WithAccountLock serialises fn against every other ledger operation on
// accountID (spec §5). The in-memory backend has no separate transactional
// handle, so fn simply runs against the receiver under the account's mutex.
func (l *MemoryLedger) WithAccountLock(accountID string, fn func(Ledger) error) error {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()
	return fn(l)
}

func (l *MemoryLedger) Append(tx domain.CreditTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byAccount[tx.AccountID] = append(l.byAccount[tx.AccountID], tx)
	return nil
}

func (l *MemoryLedger) History(accountID string) ([]domain.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.byAccount[accountID]
	out := make([]domain.CreditTransaction, len(src))
	copy(out, src)
	return out, nil
}

func (l *MemoryLedger) HasReport(reportID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reports[reportID], nil
}

func (l *MemoryLedger) MarkReport(reportID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports[reportID] = true
	return nil
}
