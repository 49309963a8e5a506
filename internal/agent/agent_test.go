package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/sandbox"
)

func alwaysPrintHello(ctx context.Context, prompt string) (string, error) {
	return "```python\nprint('hello world')\n```", nil
}

func alwaysUnsafeImport(ctx context.Context, prompt string) (string, error) {
	return "import os\nos.system('rm -rf /')", nil
}

// TestAgentSucceedsWithinOneIteration is spec §8 scenario 1.
func TestAgentSucceedsWithinOneIteration(t *testing.T) {
	exec := sandbox.NewExecutor(1, nil)
	// sandbox not required so the host python3 path is exercised without a
	// real docker daemon; policy allows "none" for this unit test.
	policy := sandbox.Policy{Required: false, AllowedModes: []domain.SandboxMode{domain.SandboxNone}, WallClockTimeout: 0}

	a := NewInteractive(alwaysPrintHello, exec, policy, domain.SandboxNone)
	result, err := a.Run(context.Background(), "task-1", "Print hello world", domain.LangPython)
	require.NoError(t, err)
	require.Len(t, result.History, 1)
	require.False(t, result.Escalated)
	require.True(t, result.History[0].RunResult.OK)
	require.Equal(t, "hello world\n", result.History[0].RunResult.Stdout)
}

// TestAgentEscalatesOutsideSubset is spec §8 scenario 2.
func TestAgentEscalatesOutsideSubset(t *testing.T) {
	exec := sandbox.NewExecutor(1, nil)
	policy := sandbox.Policy{Required: false, AllowedModes: []domain.SandboxMode{domain.SandboxNone}}

	a := NewSwarmWorker(alwaysUnsafeImport, exec, policy, domain.SandboxNone)
	result, err := a.Run(context.Background(), "task-2", "do something unsafe", domain.LangPython)
	require.NoError(t, err)
	require.True(t, result.Escalated)
	require.GreaterOrEqual(t, len(result.History), 1)
	require.LessOrEqual(t, len(result.History), 2)
	require.Equal(t, domain.QueueOutsideSubset, result.History[0].RunResult.QueueReason)
}

func TestAgentMaxIterationsExhausted(t *testing.T) {
	callCount := 0
	alwaysBadCode := func(ctx context.Context, prompt string) (string, error) {
		callCount++
		return "this is not valid code and will fail", nil
	}
	exec := sandbox.NewExecutor(1, nil)
	policy := sandbox.Policy{Required: false, AllowedModes: []domain.SandboxMode{domain.SandboxNone}}

	a := NewSwarmWorker(alwaysBadCode, exec, policy, domain.SandboxNone)
	result, err := a.Run(context.Background(), "task-3", "fail forever", domain.LangJavaScript)
	require.NoError(t, err)
	require.Equal(t, 2, callCount)
	require.Len(t, result.History, 2)
	if !result.Final.OK {
		require.True(t, result.Escalated)
	}
}
