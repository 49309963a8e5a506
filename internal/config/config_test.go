package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvOverridesDefaults(t *testing.T) {
	os.Setenv("EDGE_RUNTIME_MODE", "coordinator")
	os.Setenv("MAX_CONCURRENT_TASKS", "4")
	os.Setenv("INFERENCE_REQUIRE_SIGNED_COORDINATOR_REQUESTS", "false")
	defer func() {
		os.Unsetenv("EDGE_RUNTIME_MODE")
		os.Unsetenv("MAX_CONCURRENT_TASKS")
		os.Unsetenv("INFERENCE_REQUIRE_SIGNED_COORDINATOR_REQUESTS")
	}()

	cfg := FromEnv()
	require.Equal(t, ModeCoordinator, cfg.RuntimeMode)
	require.Equal(t, 4, cfg.MaxConcurrentTasks)
	require.False(t, cfg.InferenceRequireSignedCoordinator)
}

func TestDefaultHasSaneValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, ModeAllInOne, cfg.RuntimeMode)
	require.Equal(t, 1, cfg.MaxConcurrentTasks)
	require.Equal(t, ":4301", cfg.CoordinatorListenAddr)
}
