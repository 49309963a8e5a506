// Package domain holds the shared wire/data-model types of spec §3: peer
// records, agent capabilities, tasks, subtasks, agent executions, run
// results, credit transactions, handshake sessions, and gossip messages.
package domain

import uuid "github.com/satori/go.uuid"

// NewID mints a new random identifier, used for taskId/subtaskId/sessionId/
// txId/escalationId throughout the mesh.
func NewID() string {
	return uuid.NewV4().String()
}

// SandboxMode forms the strict order none < vm < docker (spec §4.3).
type SandboxMode int

const (
	SandboxNone SandboxMode = iota
	SandboxVM
	SandboxDocker
)

func (m SandboxMode) String() string {
	switch m {
	case SandboxNone:
		return "none"
	case SandboxVM:
		return "vm"
	case SandboxDocker:
		return "docker"
	default:
		return "unknown"
	}
}

// ParseSandboxMode parses the wire string form of a SandboxMode.
func ParseSandboxMode(s string) (SandboxMode, bool) {
	switch s {
	case "none":
		return SandboxNone, true
	case "vm":
		return SandboxVM, true
	case "docker":
		return SandboxDocker, true
	default:
		return SandboxNone, false
	}
}

// AtLeast reports whether m satisfies a minimum required mode under the
// strict ordering none < vm < docker.
func (m SandboxMode) AtLeast(min SandboxMode) bool { return m >= min }

// AgentMode is the operating posture of a node's local agent.
type AgentMode string

const (
	AgentModeSwarmOnly  AgentMode = "swarm-only"
	AgentModeIDEEnabled AgentMode = "ide-enabled"
)

// ResourceClass is the pricing/scheduling resource tier of a task.
type ResourceClass string

const (
	ResourceCPU ResourceClass = "cpu"
	ResourceGPU ResourceClass = "gpu"
)

// Language is a permitted generated-code language.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
)

// PeerRecord is the roster entry for one mesh peer (spec §3).
type PeerRecord struct {
	PeerID         string
	PublicKey      []byte // raw 32-byte Ed25519 public key
	CoordinatorURL string
	NetworkMode    string
	LastSeenMs     int64
	Reputation     float64
}

// AgentCapability is the per-agent capability summary refreshed on every
// heartbeat (spec §3).
type AgentCapability struct {
	AgentID              string
	SandboxMode          SandboxMode
	ActiveModel          string
	ActiveModelParamSize float64
	CurrentLoad          float64
	Mode                 AgentMode
	ModelProvider        string
	MaxConcurrentTasks   int
	SwapInProgress       bool
	// SupportedLanguages is the set of generated-code languages this
	// agent's local model can produce; an empty set means "no declared
	// restriction" (matches any subtask language). Not itself named as a
	// wire field in spec §3's capability tuple, but required to evaluate
	// the task-pull "language available" constraint spec §4.1 names.
	SupportedLanguages []Language
}

// TaskStatus is the lifecycle of a Task (spec §3):
// queued -> claimed -> running -> {completed|failed|escalated|handshake} -> settled.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskClaimed    TaskStatus = "claimed"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskEscalated  TaskStatus = "escalated"
	TaskHandshake  TaskStatus = "handshake"
	TaskSettled    TaskStatus = "settled"
)

// Task is a submitted coding task (spec §3).
type Task struct {
	TaskID            string
	RequesterAccount  string
	Prompt            string
	Language          Language
	SnapshotRef       string
	Priority          int
	ResourceClass     ResourceClass
	RequiresSandbox   bool
	TenantID          string
	CreatedAtMs       int64
	Status            TaskStatus
}

// SubtaskKind distinguishes a micro-loop decomposition unit from a
// single-step unit (spec §3).
type SubtaskKind string

const (
	SubtaskMicroLoop  SubtaskKind = "micro_loop"
	SubtaskSingleStep SubtaskKind = "single_step"
)

// minTimeoutMs and maxTimeoutMs bound Subtask.TimeoutMs per spec §3 invariant.
const (
	minTimeoutMs = 5_000
	maxTimeoutMs = 60_000
)

// ClampTimeoutMs enforces the [5_000, 60_000] invariant on a subtask timeout.
func ClampTimeoutMs(ms int64) int64 {
	if ms < minTimeoutMs {
		return minTimeoutMs
	}
	if ms > maxTimeoutMs {
		return maxTimeoutMs
	}
	return ms
}

// Subtask is a decomposition unit of a Task (spec §3). It inherits the
// parent's sandbox requirement.
type Subtask struct {
	SubtaskID       string
	TaskID          string
	Kind            SubtaskKind
	Input           string
	Language        Language
	TimeoutMs       int64
	SnapshotRef     string
	RequiresSandbox bool
	Priority        int
	CreatedAtMs     int64
	Status          TaskStatus
}

// QueueReason explains why a RunResult asked to queue for cloud escalation.
type QueueReason string

const (
	QueueOutsideSubset QueueReason = "outside_subset"
	QueueTimeout       QueueReason = "timeout"
	QueueModelLimit    QueueReason = "model_limit"
	QueueManual        QueueReason = "manual"
)

// RunResult is the deterministic result of one sandbox execution (spec §4.3).
type RunResult struct {
	Language      Language
	OK            bool
	Stdout        string
	Stderr        string
	ExitCode      int
	DurationMs    int64
	QueueForCloud bool
	QueueReason   QueueReason
}

// Iteration is one plan/generate/execute step of an AgentExecution.
type Iteration struct {
	Iteration int
	Plan      string
	Code      string
	RunResult RunResult
}

// AgentExecution is the full history of one agent run (spec §3).
type AgentExecution struct {
	TaskID          string
	History         []Iteration
	Escalated       bool
	EscalationReason string
	Final           RunResult
}

// TxType distinguishes ledger entry kinds (spec §3).
type TxType string

const (
	TxEarn TxType = "earn"
	TxSpend TxType = "spend"
	TxHeld  TxType = "held"
)

// CreditTransaction is one append-only ledger entry (spec §3).
type CreditTransaction struct {
	TxID          string
	AccountID     string
	Type          TxType
	Credits       float64
	Reason        string
	RelatedTaskID string
	// RelatedTxID references the original held transaction's TxID when
	// this entry is part of a release (an earn+spend pair), per spec §3
	// "held credits are... not double-counted when released (release
	// emits an earn and a matching spend referencing the original txId)".
	RelatedTxID string
	TimestampMs int64
}

// HandshakePhase is the lifecycle of a HandshakeSession (spec §3/§4.7).
type HandshakePhase string

const (
	PhaseHandshake HandshakePhase = "handshake"
	PhaseNegotiate HandshakePhase = "negotiate"
	PhaseExecute   HandshakePhase = "execute"
	PhaseResult    HandshakePhase = "result"
	PhaseExpired   HandshakePhase = "expired"
	PhaseFailed    HandshakePhase = "failed"
)

// HandshakeSession coordinates a cloud-assisted recovery for a task outside
// the local model's capability (spec §3/§4.7).
type HandshakeSession struct {
	SessionID     string
	AgentID       string
	Phase         HandshakePhase
	Task          Task
	Snippet       string
	Error         string
	QueueReason   QueueReason
	CloudResponse string
	CreatedAtMs   int64
	UpdatedAtMs   int64
	FailureReason string
}

// BlacklistEntry is one append-only audit-chain record from a
// blacklist_update gossip message (spec §4.1).
type BlacklistEntry struct {
	PeerID     string
	Reason     string
	IssuedAtMs int64
}

// GossipType is the tagged variant discriminator for GossipMessage payloads
// (spec §4.5, §9 "tagged variants").
type GossipType string

const (
	GossipPeerAnnounce      GossipType = "peer_announce"
	GossipQueueSummary      GossipType = "queue_summary"
	GossipCapabilitySummary GossipType = "capability_summary"
	GossipBlacklistUpdate   GossipType = "blacklist_update"
	GossipTaskComplete      GossipType = "task_complete"
)

// GossipMessage is a signed, unreliable broadcast envelope (spec §3).
type GossipMessage struct {
	ID          string
	Type        GossipType
	FromPeerID  string
	IssuedAtMs  int64
	TTLMs       int64
	Payload     []byte // JSON-encoded, typed per Type
	Signature   string
}

// CapabilitySummary is the per-model aggregation a coordinator broadcasts
// periodically (spec §4.5).
type CapabilitySummary struct {
	CoordinatorID string
	Models        map[string]ModelCapacity
	IssuedAtMs    int64
}

// ModelCapacity is one model's aggregated capacity within a CapabilitySummary.
type ModelCapacity struct {
	AgentCount         int
	TotalParamCapacity float64
	AvgLoad            float64
}

// EscalationRequest is the sanitised payload forwarded through the
// escalation waterfall (spec §4.4).
type EscalationRequest struct {
	TaskID      string
	Prompt      string
	Language    Language
	Code        string
	Stderr      string
	QueueReason QueueReason
	Iterations  int
	CallbackURL string
}

// EscalationResult is the outcome of one waterfall step (spec §4.4).
type EscalationResult struct {
	Status       string // "completed" short-circuits the waterfall
	ImprovedCode string
	RawResponse  string
	Explanation  string
}

// HumanEscalation is the terminal waterfall record surfaced to operators
// (spec §4.4/§7).
type HumanEscalation struct {
	EscalationID string
	TaskID       string
	Status       string // "pending_human"
	Request      EscalationRequest
	CreatedAtMs  int64
}
