package coordinator

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/credit"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/escalation"
	"github.com/edgecoder-mesh/edgecoder/internal/gossip"
	"github.com/edgecoder-mesh/edgecoder/internal/identity"
	"github.com/edgecoder-mesh/edgecoder/internal/signing"
)

type testHarness struct {
	ts  *httptest.Server
	id  *identity.Identity
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	roster := gossip.NewRoster([]domain.PeerRecord{{PeerID: id.PeerID, PublicKey: id.PublicKey}})
	mesh := gossip.NewMesh(roster, 128)
	ledger := credit.NewMemoryLedger()
	engine := credit.NewEngine(ledger)
	resolver := escalation.NewResolver(escalation.DefaultOptions())
	queue := NewQueue()
	coord := New(queue, roster, mesh, engine, resolver)
	models := NewModelRegistry([]ModelInfo{{Name: "local-7b", ParamSizeB: 7, Active: true}})
	nonces := signing.NewNonceStore(128)
	srv := NewServer(coord, models, nonces, "peer-self", 5_000, 60_000)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testHarness{ts: ts, id: id}
}

func (h *testHarness) signedPost(t *testing.T, path string, body []byte, nonce string) *http.Response {
	t.Helper()
	bodyHash := signing.BodySHA256(body)
	const ts = int64(1_000_000)
	canonical := signing.Request{PeerID: h.id.PeerID, Method: http.MethodPost, Path: path, TimestampMs: ts, Nonce: nonce, BodySHA256: bodyHash}
	sig := h.id.Sign(signing.CanonicalPayload(canonical))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-agent-id", h.id.PeerID)
	req.Header.Set("x-timestamp-ms", strconv.FormatInt(ts, 10))
	req.Header.Set("x-nonce", nonce)
	req.Header.Set("x-body-sha256", bodyHash)
	req.Header.Set("x-signature", sigB64)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSubmitPullReportRoundTrip(t *testing.T) {
	h := newHarness(t)

	submitBody, _ := json.Marshal(submitTaskRequest{Task: domain.Task{
		Prompt: "write a function", Language: domain.LangPython, Priority: 1,
	}})
	resp, err := http.Post(h.ts.URL+"/tasks", "application/json", bytes.NewReader(submitBody))
	require.NoError(t, err)
	var task domain.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, task.TaskID)

	pullBody, _ := json.Marshal(pullRequest{Capability: domain.AgentCapability{SandboxMode: domain.SandboxVM}})
	resp = h.signedPost(t, "/pull", pullBody, "nonce-pull")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var subtask domain.Subtask
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&subtask))
	resp.Body.Close()
	require.Equal(t, task.TaskID, subtask.TaskID)

	resultBody, _ := json.Marshal(resultRequest{
		SubtaskID: subtask.SubtaskID,
		Result:    domain.RunResult{OK: true, ExitCode: 0},
		Contribution: credit.ContributionReport{
			ReportID: "report-1", ComputeSeconds: 2, QualityScore: 1, ResourceClass: domain.ResourceCPU,
			RelatedTaskID: task.TaskID,
		},
	})
	resp = h.signedPost(t, "/result", resultBody, "nonce-result")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated domain.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	require.Equal(t, domain.TaskCompleted, updated.Status)

	balResp, err := http.Get(h.ts.URL + "/credits/ledger/snapshot/" + h.id.PeerID)
	require.NoError(t, err)
	var balance map[string]float64
	require.NoError(t, json.NewDecoder(balResp.Body).Decode(&balance))
	balResp.Body.Close()
	require.Greater(t, balance["balance"], 0.0)
}

func TestPullRejectsUnsignedRequest(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Post(h.ts.URL+"/pull", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestModelSwapAndStatus(t *testing.T) {
	h := newHarness(t)
	swapBody, _ := json.Marshal(modelSwapRequest{Target: "local-13b"})
	resp, err := http.Post(h.ts.URL+"/model/swap", "application/json", bytes.NewReader(swapBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(h.ts.URL + "/model/status")
	require.NoError(t, err)
	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Equal(t, "local-13b", status["active"])
	require.Equal(t, true, status["swapInProgress"])
}
