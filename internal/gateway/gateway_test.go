package gateway

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/coordinator"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/signing"
)

func TestDecomposeParsesModelJSON(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return `{"subtasks":[{"input":"write fn a","timeoutMs":1000},{"input":"write fn b","timeoutMs":120000}]}`, nil
	}
	gw := New(gen, NewMetrics())
	subtasks, err := gw.Decompose(context.Background(), "task-1", "build a thing", domain.LangPython, 0)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	require.Equal(t, int64(5_000), subtasks[0].TimeoutMs, "clamped up to the 5s floor")
	require.Equal(t, int64(60_000), subtasks[1].TimeoutMs, "clamped down to the 60s ceiling")
}

func TestDecomposeFallsBackOnUnparsableResponse(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return "I cannot help with that.", nil
	}
	gw := New(gen, NewMetrics())
	subtasks, err := gw.Decompose(context.Background(), "task-1", "build a thing", domain.LangPython, 0)
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	require.Equal(t, domain.SubtaskSingleStep, subtasks[0].Kind)
	require.Equal(t, "build a thing", subtasks[0].Input)
}

func TestEscalateExtractsCodeFromResponse(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return "Here is the fix:\n```python\nprint('fixed')\n```", nil
	}
	gw := New(gen, NewMetrics())
	result, err := gw.Escalate(context.Background(), domain.EscalationRequest{Language: domain.LangPython, Code: "print(", Stderr: "SyntaxError"})
	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)
	require.Contains(t, result.ImprovedCode, "print('fixed')")
}

func TestServerRequiresSignatureWhenConfigured(t *testing.T) {
	gw := New(func(ctx context.Context, prompt string) (string, error) { return "{}", nil }, NewMetrics())
	models := coordinator.NewModelRegistry(nil)
	nonces := signing.NewNonceStore(64)
	lookup := func(string) (ed25519.PublicKey, bool) { return nil, false }
	srv := NewServer(gw, models, NewMetrics(), nonces, lookup, true, 5_000, 60_000)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(decomposeRequest{Prompt: "x"})
	resp, err := http.Post(ts.URL+"/decompose", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestServerHealthAndModelList(t *testing.T) {
	gw := New(func(ctx context.Context, prompt string) (string, error) { return "{}", nil }, NewMetrics())
	models := coordinator.NewModelRegistry([]coordinator.ModelInfo{{Name: "local-7b", Active: true}})
	srv := NewServer(gw, models, NewMetrics(), signing.NewNonceStore(64), nil, false, 5_000, 60_000)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/model/list")
	require.NoError(t, err)
	var list []coordinator.ModelInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
}
