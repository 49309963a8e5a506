package credit

import "github.com/edgecoder-mesh/edgecoder/internal/domain"

// Ledger is the append-only storage contract the Engine drives. Two
// implementations exist: an in-memory ledger (always available, the default
// per spec §6) and a gorm-backed relational ledger used when a DSN is
// configured, for real cross-row transactional balance checks.
type Ledger interface {
	// Append adds tx to the log. Implementations must make this atomic
	// with any balance check the caller performs under WithAccountLock.
	Append(tx domain.CreditTransaction) error

	// History returns every transaction recorded for accountID, oldest first.
	History(accountID string) ([]domain.CreditTransaction, error)

	// HasReport reports whether reportID has already been accrued, for the
	// duplicate-reportId idempotency check (spec §4.6/§8).
	HasReport(reportID string) (bool, error)
	// MarkReport records reportID as consumed.
	MarkReport(reportID string) error

	// WithAccountLock serialises balance-check-then-append for one account
	// (spec §5 "credit transactions for a single account are serialised").
	// fn receives a Ledger scoped to whatever transaction WithAccountLock
	// opened (the receiver itself for MemoryLedger, a tx-bound handle for
	// GormLedger); callers must perform every read/write through it rather
	// than the outer ledger, or the lock buys them nothing.
	WithAccountLock(accountID string, fn func(Ledger) error) error
}

// Balance replays History and returns sum(earn) - sum(spend); held
// transactions are excluded from both sums (spec §3 invariant).
func Balance(l Ledger, accountID string) (float64, error) {
	txs, err := l.History(accountID)
	if err != nil {
		return 0, err
	}
	var bal float64
	for _, tx := range txs {
		switch tx.Type {
		case domain.TxEarn:
			bal += tx.Credits
		case domain.TxSpend:
			bal -= tx.Credits
		}
	}
	return round3(bal), nil
}

// ActiveHoldsTotal sums held transactions that have not yet been released
// (no later earn+spend pair referencing the same txId), used to compute the
// spendable amount at spend time.
func ActiveHoldsTotal(l Ledger, accountID string) (float64, error) {
	txs, err := l.History(accountID)
	if err != nil {
		return 0, err
	}
	released := map[string]bool{}
	for _, tx := range txs {
		if tx.RelatedTxID != "" && isReleaseReason(tx.Reason) {
			released[tx.RelatedTxID] = true
		}
	}
	var total float64
	for _, tx := range txs {
		if tx.Type == domain.TxHeld && !released[tx.TxID] {
			total += tx.Credits
		}
	}
	return round3(total), nil
}

func isReleaseReason(reason string) bool { return reason == reasonRelease }

const reasonRelease = "hold_release"
