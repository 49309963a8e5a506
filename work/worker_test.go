package work

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/identity"
	"github.com/edgecoder-mesh/edgecoder/internal/sandbox"
)

// stubCoordinator hands out exactly one subtask then always answers 204, and
// records whether /result was ever called.
type stubCoordinator struct {
	pulled     int32
	resultSeen int32
}

func (s *stubCoordinator) handler() http.Handler {
	r := httprouter.New()
	r.POST("/pull", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if atomic.CompareAndSwapInt32(&s.pulled, 0, 1) {
			subtask := domain.Subtask{SubtaskID: "st-1", TaskID: "t-1", Language: domain.LangPython, Input: "print", TimeoutMs: 5000}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(subtask)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.POST("/result", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		atomic.StoreInt32(&s.resultSeen, 1)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(domain.Task{TaskID: "t-1", Status: domain.TaskCompleted})
	})
	return r
}

func TestWorkerPullsRunsAndReports(t *testing.T) {
	stub := &stubCoordinator{}
	ts := httptest.NewServer(stub.handler())
	defer ts.Close()

	id, err := identity.Generate()
	require.NoError(t, err)

	alwaysOK := agent.Generator(func(ctx context.Context, prompt string) (string, error) {
		return "```python\nprint('ok')\n```", nil
	})
	noopPolicy := sandbox.Policy{Required: false}
	a := agent.NewSwarmWorker(alwaysOK, sandbox.NewExecutor(1, nil), noopPolicy, domain.SandboxNone)

	w := NewWorker(id, ts.URL, a, func() domain.AgentCapability {
		return domain.AgentCapability{SandboxMode: domain.SandboxNone}
	}, nil, Options{PollInterval: 10 * time.Millisecond, IdleBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&stub.resultSeen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	cancel()
}
