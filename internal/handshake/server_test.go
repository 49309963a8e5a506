package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

func TestHandshakeFlowReachesResult(t *testing.T) {
	store := NewStore(64, 5)
	call := func(ctx context.Context, task domain.Task, snippet string) (string, error) {
		return "cloud says: " + snippet, nil
	}
	srv := NewServer(store, call)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	reviewBody, _ := json.Marshal(reviewRequest{AgentID: "agent-1", Task: domain.Task{TaskID: "task-1"}})
	resp, err := http.Post(ts.URL+"/review", "application/json", bytes.NewReader(reviewBody))
	require.NoError(t, err)
	var sess domain.HandshakeSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, domain.PhaseHandshake, sess.Phase)

	negotiateBody, _ := json.Marshal(negotiateRequest{SessionID: sess.SessionID, Accept: true, Snippet: "print(1)"})
	resp, err = http.Post(ts.URL+"/negotiate", "application/json", bytes.NewReader(negotiateBody))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	resp.Body.Close()
	require.Equal(t, domain.PhaseExecute, sess.Phase)

	require.Eventually(t, func() bool {
		s, ok := store.Get(sess.SessionID)
		return ok && s.Phase == domain.PhaseResult
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(ts.URL + "/result/" + sess.SessionID)
	require.NoError(t, err)
	var final domain.HandshakeSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&final))
	resp.Body.Close()
	require.Equal(t, domain.PhaseResult, final.Phase)
	require.Contains(t, final.CloudResponse, "print(1)")
}

func TestStorePerAgentCap(t *testing.T) {
	store := NewStore(64, 2)
	for i := 0; i < 2; i++ {
		_, err := store.Create("agent-x", domain.Task{TaskID: "t"}, time.Now().UnixMilli())
		require.NoError(t, err)
	}
	_, err := store.Create("agent-x", domain.Task{TaskID: "t"}, time.Now().UnixMilli())
	require.Error(t, err)
}

func TestSweepExpiresStuckSessions(t *testing.T) {
	store := NewStore(64, 5)
	old := time.Now().Add(-10 * time.Minute).UnixMilli()
	sess, err := store.Create("agent-y", domain.Task{TaskID: "t"}, old)
	require.NoError(t, err)

	removed := store.SweepExpired(time.Now().UnixMilli())
	require.Equal(t, 1, removed)

	got, ok := store.Get(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, domain.PhaseExpired, got.Phase)
}
