package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

func TestRunRejectsWhenSandboxRequiredButAgentHasNone(t *testing.T) {
	exec := NewExecutor(1, nil)
	policy := DefaultPolicy()

	result, err := exec.Run(context.Background(), domain.LangPython, "print(1)", policy, domain.SandboxNone)
	require.Error(t, err)
	require.Equal(t, meshrr.KindSandboxRequired, meshrr.KindOf(err))
	require.False(t, result.OK)
}

func TestRunRejectsPythonOutsideSubsetWithoutExecuting(t *testing.T) {
	exec := NewExecutor(1, nil)
	policy := DefaultPolicy()

	result, err := exec.Run(context.Background(), domain.LangPython, "import os\nos.system('rm -rf /')", policy, domain.SandboxDocker)
	require.NoError(t, err)
	require.False(t, result.OK)
	require.True(t, result.QueueForCloud)
	require.Equal(t, domain.QueueOutsideSubset, result.QueueReason)
}

func TestPolicyBestAvailableMode(t *testing.T) {
	policy := Policy{AllowedModes: []domain.SandboxMode{domain.SandboxVM, domain.SandboxDocker}}

	mode, ok := policy.BestAvailableMode(domain.SandboxDocker)
	require.True(t, ok)
	require.Equal(t, domain.SandboxDocker, mode)

	mode, ok = policy.BestAvailableMode(domain.SandboxVM)
	require.True(t, ok)
	require.Equal(t, domain.SandboxVM, mode)

	_, ok = policy.BestAvailableMode(domain.SandboxNone)
	require.False(t, ok)
}
