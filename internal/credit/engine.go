package credit

import (
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

var logger = elog.New("credit")

// Engine is the primary credit operations surface of spec §4.6: accrue,
// spend, hold/release, adjust, balance, history.
type Engine struct {
	ledger Ledger
}

// NewEngine constructs an Engine over the given ledger backend (memory or
// gorm-backed, selected at boot by config).
func NewEngine(ledger Ledger) *Engine {
	return &Engine{ledger: ledger}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func newTxID() string { return uuid.NewV4().String() }

// Accrue credits an account for a worker's reported contribution, applying
// the pricing model. Duplicate reportId is rejected (spec §4.6/§8).
func (e *Engine) Accrue(report ContributionReport, load LoadSnapshot) (domain.CreditTransaction, error) {
	var result domain.CreditTransaction
	err := e.ledger.WithAccountLock(report.AccountID, func(ledger Ledger) error {
		seen, err := ledger.HasReport(report.ReportID)
		if err != nil {
			return err
		}
		if seen {
			return meshrr.New(meshrr.KindDuplicateContribution, "reportId already accrued: "+report.ReportID)
		}
		credits := AccruedCredits(report, load)
		tx := domain.CreditTransaction{
			TxID:          newTxID(),
			AccountID:     report.AccountID,
			Type:          domain.TxEarn,
			Credits:       credits,
			Reason:        "accrual:" + report.ReportID,
			RelatedTaskID: report.RelatedTaskID,
			TimestampMs:   nowMs(),
		}
		if err := ledger.Append(tx); err != nil {
			return err
		}
		if err := ledger.MarkReport(report.ReportID); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	logger.Infow("accrued credits", "account", report.AccountID, "credits", result.Credits, "reportId", report.ReportID)
	return result, nil
}

// Spend debits credits from accountID, transactionally against the current
// spendable balance (balance minus any active holds). Fails with
// insufficient_credits when the balance can't cover it (spec §4.6).
func (e *Engine) Spend(accountID string, credits float64, reason string, relatedTaskID string) (domain.CreditTransaction, error) {
	var result domain.CreditTransaction
	err := e.ledger.WithAccountLock(accountID, func(ledger Ledger) error {
		bal, err := Balance(ledger, accountID)
		if err != nil {
			return err
		}
		held, err := ActiveHoldsTotal(ledger, accountID)
		if err != nil {
			return err
		}
		spendable := round3(bal - held)
		if spendable < credits {
			return meshrr.New(meshrr.KindInsufficientCredits, "insufficient_credits")
		}
		tx := domain.CreditTransaction{
			TxID:          newTxID(),
			AccountID:     accountID,
			Type:          domain.TxSpend,
			Credits:       credits,
			Reason:        reason,
			RelatedTaskID: relatedTaskID,
			TimestampMs:   nowMs(),
		}
		if err := ledger.Append(tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	return result, nil
}

// Hold reserves credits against accountID's spendable balance without
// touching the raw earn/spend sum (spec §3: "held does not count toward
// spendable balance" -- i.e. it is excluded from the balance() formula and
// tracked separately as an active hold that Spend checks against).
func (e *Engine) Hold(accountID string, credits float64, reason, relatedTaskID string) (domain.CreditTransaction, error) {
	var result domain.CreditTransaction
	err := e.ledger.WithAccountLock(accountID, func(ledger Ledger) error {
		bal, err := Balance(ledger, accountID)
		if err != nil {
			return err
		}
		held, err := ActiveHoldsTotal(ledger, accountID)
		if err != nil {
			return err
		}
		if round3(bal-held) < credits {
			return meshrr.New(meshrr.KindInsufficientCredits, "insufficient_credits")
		}
		tx := domain.CreditTransaction{
			TxID:          newTxID(),
			AccountID:     accountID,
			Type:          domain.TxHeld,
			Credits:       credits,
			Reason:        reason,
			RelatedTaskID: relatedTaskID,
			TimestampMs:   nowMs(),
		}
		if err := ledger.Append(tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	return result, err
}

// Release finalises a prior Hold identified by its txId: it emits an earn
// and a matching spend, both referencing the original hold's txId, so the
// raw balance is unaffected but the hold is no longer counted as active
// (spec §3). Idempotent: releasing the same txId twice is a no-op the
// second time.
func (e *Engine) Release(accountID, holdTxID string) error {
	return e.ledger.WithAccountLock(accountID, func(ledger Ledger) error {
		history, err := ledger.History(accountID)
		if err != nil {
			return err
		}
		var hold *domain.CreditTransaction
		for i := range history {
			if history[i].TxID == holdTxID && history[i].Type == domain.TxHeld {
				hold = &history[i]
			}
			if history[i].RelatedTxID == holdTxID && isReleaseReason(history[i].Reason) {
				// already released.
				return nil
			}
		}
		if hold == nil {
			return meshrr.New(meshrr.KindNotFound, "hold not found: "+holdTxID)
		}
		now := nowMs()
		earn := domain.CreditTransaction{
			TxID: newTxID(), AccountID: accountID, Type: domain.TxEarn,
			Credits: hold.Credits, Reason: reasonRelease, RelatedTxID: holdTxID,
			RelatedTaskID: hold.RelatedTaskID, TimestampMs: now,
		}
		spend := domain.CreditTransaction{
			TxID: newTxID(), AccountID: accountID, Type: domain.TxSpend,
			Credits: hold.Credits, Reason: reasonRelease, RelatedTxID: holdTxID,
			RelatedTaskID: hold.RelatedTaskID, TimestampMs: now,
		}
		if err := ledger.Append(earn); err != nil {
			return err
		}
		return ledger.Append(spend)
	})
}

// Adjust records a manual correction (positive = earn, negative = spend),
// used by operators to reconcile disputes. Not subject to the spendable
// balance check Spend applies.
func (e *Engine) Adjust(accountID string, delta float64, reason string) (domain.CreditTransaction, error) {
	var result domain.CreditTransaction
	err := e.ledger.WithAccountLock(accountID, func(ledger Ledger) error {
		txType := domain.TxEarn
		amount := delta
		if delta < 0 {
			txType = domain.TxSpend
			amount = -delta
		}
		tx := domain.CreditTransaction{
			TxID: newTxID(), AccountID: accountID, Type: txType,
			Credits: round3(amount), Reason: "adjust:" + reason, TimestampMs: nowMs(),
		}
		if err := ledger.Append(tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	return result, err
}

// Balance returns sum(earn) - sum(spend) for accountID (spec §4.6).
func (e *Engine) Balance(accountID string) (float64, error) {
	return Balance(e.ledger, accountID)
}

// History returns every ledger entry for accountID, oldest first (spec §4.6).
func (e *Engine) History(accountID string) ([]domain.CreditTransaction, error) {
	return e.ledger.History(accountID)
}

// Verify replays the full ledger for accountID and confirms the computed
// balance is non-negative and held credits are excluded, surfaced by the
// coordinator's /credits/ledger/verify endpoint (spec §4.1/§8).
func (e *Engine) Verify(accountID string) (balance float64, ok bool, err error) {
	balance, err = Balance(e.ledger, accountID)
	if err != nil {
		return 0, false, err
	}
	return balance, balance >= 0, nil
}
