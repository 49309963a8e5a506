// Package coordinator implements the per-node task queue, pull/result
// contract, and escalation entrypoint of spec §4.1.
package coordinator

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/edgecoder-mesh/edgecoder/internal/credit"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
	"github.com/edgecoder-mesh/edgecoder/internal/escalation"
	"github.com/edgecoder-mesh/edgecoder/internal/gossip"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

var logger = elog.New("coordinator")

// Coordinator owns the task queue, peer roster/gossip mesh, and credit
// engine entrypoint for one node (spec §4.1).
type Coordinator struct {
	queue    *Queue
	roster   *gossip.Roster
	mesh     *gossip.Mesh
	credit   *credit.Engine
	resolver *escalation.Resolver

	mu         sync.Mutex
	tasks      map[string]domain.Task
	caps       map[string]domain.AgentCapability // agentId -> latest declared capability
	executions map[string]domain.AgentExecution  // taskId -> latest execution record, for debugging/status
}

// New constructs a Coordinator wired to the given queue, roster, mesh,
// credit engine, and escalation resolver.
func New(queue *Queue, roster *gossip.Roster, mesh *gossip.Mesh, creditEngine *credit.Engine, resolver *escalation.Resolver) *Coordinator {
	return &Coordinator{
		queue:      queue,
		roster:     roster,
		mesh:       mesh,
		credit:     creditEngine,
		resolver:   resolver,
		tasks:      make(map[string]domain.Task),
		caps:       make(map[string]domain.AgentCapability),
		executions: make(map[string]domain.AgentExecution),
	}
}

// SubmitTask enqueues task. If subtasks is empty, task is wrapped as a
// single single_step subtask inheriting its sandbox requirement, language,
// and priority (spec §3 "a task submitted without explicit decomposition is
// a single-subtask task").
func (c *Coordinator) SubmitTask(task domain.Task, subtasks []domain.Subtask) domain.Task {
	task.Status = domain.TaskQueued

	c.mu.Lock()
	c.tasks[task.TaskID] = task
	c.mu.Unlock()

	if len(subtasks) == 0 {
		subtasks = []domain.Subtask{{
			SubtaskID:       domain.NewID(),
			TaskID:          task.TaskID,
			Kind:            domain.SubtaskSingleStep,
			Input:           task.Prompt,
			Language:        task.Language,
			TimeoutMs:       domain.ClampTimeoutMs(30_000),
			SnapshotRef:     task.SnapshotRef,
			RequiresSandbox: task.RequiresSandbox,
			Priority:        task.Priority,
			CreatedAtMs:     task.CreatedAtMs,
		}}
	}
	for _, st := range subtasks {
		c.queue.Enqueue(st)
	}
	return task
}

// Pull implements the pull contract of spec §4.1: the caller declares its
// current capability, and the highest-priority queued subtask whose
// constraints (sandbox requirement, language, resource class) it satisfies
// is leased to it.
func (c *Coordinator) Pull(agentID string, capability domain.AgentCapability, nowMs int64) (domain.Subtask, bool) {
	c.mu.Lock()
	c.caps[agentID] = capability
	c.mu.Unlock()

	return c.queue.Claim(agentID, nowMs, func(st domain.Subtask) bool {
		return c.matches(st, capability)
	})
}

func (c *Coordinator) matches(st domain.Subtask, capability domain.AgentCapability) bool {
	if st.RequiresSandbox && capability.SandboxMode == domain.SandboxNone {
		return false
	}
	if len(capability.SupportedLanguages) > 0 && !containsLanguage(capability.SupportedLanguages, st.Language) {
		return false
	}
	c.mu.Lock()
	task, ok := c.tasks[st.TaskID]
	c.mu.Unlock()
	if ok && task.ResourceClass == domain.ResourceGPU && capability.ModelProvider == "" {
		return false // no declared inference provider to satisfy a GPU-class task.
	}
	return true
}

func containsLanguage(langs []domain.Language, l domain.Language) bool {
	for _, x := range langs {
		if x == l {
			return true
		}
	}
	return false
}

// ReportResult applies a worker's subtask result: releases its lease,
// transitions the owning task, and on success accrues credit for the
// worker's reported contribution (spec §4.1/§4.6).
func (c *Coordinator) ReportResult(agentID, subtaskID string, result domain.RunResult, report credit.ContributionReport) (domain.Task, error) {
	if !c.queue.Release(subtaskID, agentID) {
		return domain.Task{}, meshrr.New(meshrr.KindNotFound, "no active lease for subtask: "+subtaskID)
	}

	c.mu.Lock()
	task, ok := c.tasks[report.RelatedTaskID]
	if !ok {
		c.mu.Unlock()
		return domain.Task{}, meshrr.New(meshrr.KindNotFound, "task not found: "+report.RelatedTaskID)
	}
	switch {
	case result.OK:
		task.Status = domain.TaskCompleted
	case result.QueueForCloud:
		task.Status = domain.TaskEscalated
	default:
		task.Status = domain.TaskFailed
	}
	c.tasks[task.TaskID] = task
	c.mu.Unlock()

	if result.OK && c.credit != nil {
		load := credit.LoadSnapshot{QueuedTasks: c.queue.Len(), ActiveAgents: c.queue.ActiveLeases()}
		accrued, err := c.credit.Accrue(report, load)
		switch {
		case err == nil:
			// Consumption is the other half of the ledger (spec §1/§2): the
			// requester is debited the same amount the worker was just
			// credited, then the task reaches its terminal settled state.
			if task.RequesterAccount != "" {
				reason := "task:" + task.TaskID
				if _, serr := c.credit.Spend(task.RequesterAccount, accrued.Credits, reason, task.TaskID); serr != nil {
					logger.Warnw("requester debit failed", "taskId", task.TaskID, "account", task.RequesterAccount, "err", serr.Error())
				}
			}
			c.mu.Lock()
			task.Status = domain.TaskSettled
			c.tasks[task.TaskID] = task
			c.mu.Unlock()
		case meshrr.KindOf(err) == meshrr.KindDuplicateContribution:
			// reportId already accrued (and settled) by an earlier delivery
			// of this same result; nothing left to do.
		default:
			logger.Warnw("accrual failed", "taskId", task.TaskID, "err", err.Error())
		}
	}
	return task, nil
}

// Task returns the current snapshot of a submitted task.
func (c *Coordinator) Task(taskID string) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	return t, ok
}

// Peers returns the current roster snapshot (spec §6 GET /mesh/peers).
func (c *Coordinator) Peers() []domain.PeerRecord {
	return c.roster.All()
}

// RegisterPeer upserts a peer's liveness/metadata into the roster (spec §6
// POST /mesh/peers/register). Never used to change a peer's trusted public
// key (see internal/gossip.Roster.Upsert).
func (c *Coordinator) RegisterPeer(update domain.PeerRecord) {
	c.roster.Upsert(update)
}

// PeerKey resolves a trusted peer's Ed25519 public key, used by the signed
// request middleware as a signing.PeerKeyLookup.
func (c *Coordinator) PeerKey(peerID string) (ed25519.PublicKey, bool) {
	p, ok := c.roster.Get(peerID)
	if !ok || len(p.PublicKey) == 0 {
		return nil, false
	}
	return ed25519.PublicKey(p.PublicKey), true
}

// Capabilities returns the mesh-wide aggregated model capacity, optionally
// filtered to one model (spec §6 GET /mesh/capabilities).
func (c *Coordinator) Capabilities(model string) []domain.CapabilitySummary {
	return c.mesh.Capabilities(model)
}

// Gossip ingests an inbound gossip envelope (spec §6 POST /mesh/gossip).
func (c *Coordinator) Gossip(msg domain.GossipMessage, nowMs int64) error {
	return c.mesh.Ingest(msg, nowMs)
}

// Escalate runs the escalation waterfall for a task that exhausted its
// local retry budget (spec §4.4), returning either a completed result or a
// recorded human escalation.
func (c *Coordinator) Escalate(ctx context.Context, req domain.EscalationRequest) (domain.EscalationResult, *domain.HumanEscalation, error) {
	return c.resolver.Resolve(ctx, req)
}

// EscalationStatus returns the most recent human-escalation record for
// taskID, if the waterfall bottomed out to a human review (spec §6
// GET /escalate/:taskId).
func (c *Coordinator) EscalationStatus(taskID string) (domain.HumanEscalation, bool) {
	for _, h := range c.resolver.HumanEscalations() {
		if h.TaskID == taskID {
			return h, true
		}
	}
	return domain.HumanEscalation{}, false
}

// Credits exposes the wired credit engine for ledger HTTP surfaces.
func (c *Coordinator) Credits() *credit.Engine {
	return c.credit
}
