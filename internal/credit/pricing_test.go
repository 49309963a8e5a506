package credit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

func TestModelCostCreditsTable(t *testing.T) {
	cases := []struct {
		paramB float64
		want   float64
	}{
		{0, 0.5}, {0.1, 0.5}, {0.5, 0.5}, {1.5, 1.5}, {7, 7}, {70, 70},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ModelCostCredits(c.paramB))
	}
}

func TestLoadMultiplier(t *testing.T) {
	require.Equal(t, 2.0, LoadMultiplier(5, 0))
	require.Equal(t, 1.6, LoadMultiplier(5, 2)) // p = 2.5
	require.Equal(t, 0.8, LoadMultiplier(1, 4))  // p = 0.25
}

func TestLoadMultiplierBoundaries(t *testing.T) {
	require.Equal(t, 1.0, LoadMultiplier(2, 2))  // p = 1.0 exactly -> 1.0 bucket
	require.Equal(t, 1.25, LoadMultiplier(3, 2)) // p = 1.5 -> 1.25 bucket
}

func TestAccrualScenario(t *testing.T) {
	// spec §8 scenario 3: cpuSeconds=10, quality=1.0, queued=5, active=2 ->
	// pressure 2.5 -> multiplier 1.6 -> credits = 10*1*1*1.6 = 16.000
	report := ContributionReport{
		ReportID: "r1", AccountID: "acct-1", ComputeSeconds: 10,
		QualityScore: 1.0, ResourceClass: domain.ResourceCPU,
	}
	load := LoadSnapshot{QueuedTasks: 5, ActiveAgents: 2}
	require.Equal(t, 16.0, AccruedCredits(report, load))
}

func TestModelSeedCredits(t *testing.T) {
	// 1 GB, 1 seeder: 1*0.5*(1+1/1) = 1.000
	require.Equal(t, 1.0, ModelSeedCredits(1_000_000_000, 1))
	// 2 GB, 3 seeders: 2*0.5*(1+1/3) = 1.333
	require.Equal(t, 1.333, ModelSeedCredits(2_000_000_000, 3))
}
