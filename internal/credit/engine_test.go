package credit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

func newTestEngine() *Engine {
	return NewEngine(NewMemoryLedger())
}

func TestAccrueDuplicateReportRejected(t *testing.T) {
	e := newTestEngine()
	report := ContributionReport{ReportID: "dup-1", AccountID: "acct-1", ComputeSeconds: 5, QualityScore: 1, ResourceClass: domain.ResourceCPU}
	load := LoadSnapshot{QueuedTasks: 1, ActiveAgents: 2}

	_, err := e.Accrue(report, load)
	require.NoError(t, err)

	_, err = e.Accrue(report, load)
	require.Error(t, err)
	require.Equal(t, meshrr.KindDuplicateContribution, meshrr.KindOf(err))
}

func TestSpendRequiresSufficientBalance(t *testing.T) {
	e := newTestEngine()
	_, err := e.Accrue(ContributionReport{ReportID: "r1", AccountID: "acct-2", ComputeSeconds: 1, QualityScore: 1, ResourceClass: domain.ResourceCPU}, LoadSnapshot{QueuedTasks: 0, ActiveAgents: 1})
	require.NoError(t, err)

	bal, err := e.Balance("acct-2")
	require.NoError(t, err)
	require.Greater(t, bal, 0.0)

	_, err = e.Spend("acct-2", bal+1000, "overspend", "")
	require.Error(t, err)
	require.Equal(t, meshrr.KindInsufficientCredits, meshrr.KindOf(err))

	_, err = e.Spend("acct-2", bal, "spend all", "")
	require.NoError(t, err)

	newBal, err := e.Balance("acct-2")
	require.NoError(t, err)
	require.Equal(t, 0.0, newBal)
}

func TestHoldExcludedFromBalanceButBlocksSpend(t *testing.T) {
	e := newTestEngine()
	_, err := e.Accrue(ContributionReport{ReportID: "r1", AccountID: "acct-3", ComputeSeconds: 10, QualityScore: 1, ResourceClass: domain.ResourceCPU}, LoadSnapshot{QueuedTasks: 0, ActiveAgents: 1})
	require.NoError(t, err)
	bal, _ := e.Balance("acct-3")
	require.Equal(t, 8.0, bal) // 10 * 1.0 * 1.0 * 0.8 (p=0)

	hold, err := e.Hold("acct-3", 5, "reserve for task", "task-1")
	require.NoError(t, err)

	// balance() itself stays unaffected by the hold (spec invariant).
	balAfterHold, _ := e.Balance("acct-3")
	require.Equal(t, bal, balAfterHold)

	// but spend can't exceed the spendable (balance - active holds).
	_, err = e.Spend("acct-3", 4, "try spend more than spendable", "")
	require.Error(t, err)

	require.NoError(t, e.Release("acct-3", hold.TxID))

	// after release, the full balance is spendable again.
	_, err = e.Spend("acct-3", 8, "spend after release", "")
	require.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	e := newTestEngine()
	_, err := e.Accrue(ContributionReport{ReportID: "r1", AccountID: "acct-4", ComputeSeconds: 10, QualityScore: 1, ResourceClass: domain.ResourceCPU}, LoadSnapshot{QueuedTasks: 0, ActiveAgents: 1})
	require.NoError(t, err)

	hold, err := e.Hold("acct-4", 2, "reserve", "task-2")
	require.NoError(t, err)

	require.NoError(t, e.Release("acct-4", hold.TxID))
	historyLenAfterFirst, _ := e.History("acct-4")

	require.NoError(t, e.Release("acct-4", hold.TxID))
	historyLenAfterSecond, _ := e.History("acct-4")

	require.Equal(t, len(historyLenAfterFirst), len(historyLenAfterSecond))
}

func TestVerifyNeverNegative(t *testing.T) {
	e := newTestEngine()
	_, err := e.Accrue(ContributionReport{ReportID: "r1", AccountID: "acct-5", ComputeSeconds: 1, QualityScore: 1, ResourceClass: domain.ResourceCPU}, LoadSnapshot{QueuedTasks: 0, ActiveAgents: 1})
	require.NoError(t, err)

	bal, ok, err := e.Verify("acct-5")
	require.NoError(t, err)
	require.True(t, ok)
	require.GreaterOrEqual(t, bal, 0.0)
}
