// Package work implements the mesh worker: the poll loop that pulls queued
// subtasks from a coordinator, runs them through the local retry/reflection
// agent, and reports results back. Grounded on the teacher's work/agent.go
// CpuAgent: the same Start/Stop/workCh channel-loop shape, generalized from
// "mine a block when the engine hands us one" to "pull a subtask when the
// coordinator has one".
package work

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/credit"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
	"github.com/edgecoder-mesh/edgecoder/internal/identity"
	"github.com/edgecoder-mesh/edgecoder/internal/signing"
)

var logger = elog.New("work")

// Worker polls a single coordinator for subtasks and executes them through
// an agent.Agent, reporting results back over signed HTTP.
type Worker struct {
	id             *identity.Identity
	coordinatorURL string
	httpClient     *http.Client
	agent          *agent.Agent
	capability     func() domain.AgentCapability

	pollInterval time.Duration
	idleBackoff  time.Duration

	observeRun func(outcome string)

	stop    chan struct{}
	running int32
}

// Options configures Worker poll/backoff timing.
type Options struct {
	PollInterval time.Duration // how often to pull when the queue is non-empty
	IdleBackoff  time.Duration // how long to wait after an empty pull
}

// DefaultOptions returns a reasonable poll cadence for a single worker.
func DefaultOptions() Options {
	return Options{PollInterval: 500 * time.Millisecond, IdleBackoff: 3 * time.Second}
}

// NewWorker builds a Worker identified by id, pulling from coordinatorURL,
// running subtasks through a, and reporting its capability via capability
// on every pull (spec §4.1 "the caller declares its current capability").
// observeRun, if non-nil, is called with one of "ok"/"failed"/
// "queued_for_cloud" after every subtask run (e.g. a node's
// gateway.Metrics.ObserveSandboxRun, wiring the worker loop into the same
// /metrics surface the gateway exposes).
func NewWorker(id *identity.Identity, coordinatorURL string, a *agent.Agent, capability func() domain.AgentCapability, observeRun func(outcome string), opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 3 * time.Second
	}
	return &Worker{
		id:             id,
		coordinatorURL: coordinatorURL,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		agent:          a,
		capability:     capability,
		pollInterval:   opts.PollInterval,
		idleBackoff:    opts.IdleBackoff,
		observeRun:     observeRun,
		stop:           make(chan struct{}, 1),
	}
}

// Start begins the poll loop in the background. Calling Start on an
// already-running Worker is a no-op, mirroring the teacher's CpuAgent.Start
// guard against double-starting the mining loop.
func (w *Worker) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return
	}
	go w.loop(ctx)
}

// Stop signals the poll loop to exit after its current iteration.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapInt32(&w.running, 1, 0) {
		return
	}
	w.stop <- struct{}{}
}

func (w *Worker) loop(ctx context.Context) {
	logger.Infow("worker started", "peerId", w.id.PeerID, "coordinator", w.coordinatorURL)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			logger.Infow("worker stopped", "peerId", w.id.PeerID)
			return
		default:
		}

		subtask, ok, err := w.pull(ctx)
		if err != nil {
			logger.Warnw("pull failed", "err", err.Error())
			time.Sleep(w.idleBackoff)
			continue
		}
		if !ok {
			time.Sleep(w.idleBackoff)
			continue
		}

		w.runAndReport(ctx, subtask)
		time.Sleep(w.pollInterval)
	}
}

type pullRequestBody struct {
	Capability domain.AgentCapability `json:"capability"`
}

// pull calls POST /pull and returns (subtask, true) on a claim, (_, false)
// on an empty queue (204), or an error on transport/protocol failure.
func (w *Worker) pull(ctx context.Context) (domain.Subtask, bool, error) {
	body, err := json.Marshal(pullRequestBody{Capability: w.capability()})
	if err != nil {
		return domain.Subtask{}, false, err
	}
	resp, err := w.signedPost(ctx, "/pull", body)
	if err != nil {
		return domain.Subtask{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return domain.Subtask{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Subtask{}, false, unexpectedStatusErr(resp)
	}
	var subtask domain.Subtask
	if err := json.NewDecoder(resp.Body).Decode(&subtask); err != nil {
		return domain.Subtask{}, false, err
	}
	return subtask, true, nil
}

func (w *Worker) runAndReport(ctx context.Context, subtask domain.Subtask) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(subtask.TimeoutMs)*time.Millisecond+5*time.Second)
	defer cancel()

	exec, err := w.agent.Run(runCtx, subtask.TaskID, subtask.Input, subtask.Language)
	if err != nil {
		logger.Warnw("agent run failed", "subtaskId", subtask.SubtaskID, "err", err.Error())
	}

	result := exec.Final
	if w.observeRun != nil {
		w.observeRun(outcomeLabel(result))
	}

	report := credit.ContributionReport{
		ReportID:      subtask.SubtaskID, // one result per subtask, so subtaskId is a natural idempotency key
		ComputeSeconds: float64(result.DurationMs) / 1000,
		QualityScore:  qualityFor(result),
		ResourceClass: domain.ResourceCPU,
		RelatedTaskID: subtask.TaskID,
	}

	if err := w.reportResult(ctx, subtask.SubtaskID, result, report); err != nil {
		logger.Warnw("result report failed", "subtaskId", subtask.SubtaskID, "err", err.Error())
	}
}

func qualityFor(result domain.RunResult) float64 {
	if result.OK {
		return 1.0
	}
	return 0.5
}

// outcomeLabel maps a run result to the "outcome" label recorded against
// edgecoder_sandbox_run_total.
func outcomeLabel(result domain.RunResult) string {
	switch {
	case result.OK:
		return "ok"
	case result.QueueForCloud:
		return "queued_for_cloud"
	default:
		return "failed"
	}
}

type resultRequestBody struct {
	SubtaskID    string                    `json:"subtaskId"`
	Result       domain.RunResult          `json:"result"`
	Contribution credit.ContributionReport `json:"contribution"`
}

func (w *Worker) reportResult(ctx context.Context, subtaskID string, result domain.RunResult, report credit.ContributionReport) error {
	body, err := json.Marshal(resultRequestBody{SubtaskID: subtaskID, Result: result, Contribution: report})
	if err != nil {
		return err
	}
	resp, err := w.signedPost(ctx, "/result", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatusErr(resp)
	}
	return nil
}

func (w *Worker) signedPost(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := signing.NewSignedRequest(ctx, w.id, w.id.PeerID, http.MethodPost, w.coordinatorURL+path, path, body)
	if err != nil {
		return nil, err
	}
	return w.httpClient.Do(req)
}

func unexpectedStatusErr(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &statusError{status: resp.StatusCode, body: string(raw)}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return "unexpected status " + http.StatusText(e.status) + ": " + e.body
}
