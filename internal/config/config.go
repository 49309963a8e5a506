// Package config assembles a node's runtime configuration from the
// environment, the default-then-override pattern the teacher's
// node/defaults.go + cmd/utils/flags.go uses (env vars here instead of
// flags, since EdgeCoder nodes run unattended inside the mesh, per spec §6).
package config

import (
	"os"
	"strconv"
	"time"
)

// RuntimeMode selects which components of a single EdgeCoder process start,
// per spec §6 EDGE_RUNTIME_MODE.
type RuntimeMode string

const (
	ModeWorker       RuntimeMode = "worker"
	ModeCoordinator  RuntimeMode = "coordinator"
	ModeControlPlane RuntimeMode = "control-plane"
	ModeInference    RuntimeMode = "inference"
	ModeIDEProvider  RuntimeMode = "ide-provider"
	ModeAllInOne     RuntimeMode = "all-in-one"
)

// ModelProvider selects the backend behind the opaque generate-text RPC
// (spec §1 "out of scope... treated as an opaque generate-text RPC").
type ModelProvider string

const (
	ProviderEdgeCoderLocal ModelProvider = "edgecoder-local"
	ProviderOllamaLocal    ModelProvider = "ollama-local"
)

// Config is the full set of environment knobs spec §6 names.
type Config struct {
	RuntimeMode RuntimeMode

	AgentID                 string
	AgentOS                 string
	AgentMode               string
	AgentRegistrationToken  string
	CoordinatorURL          string
	MeshAuthToken           string
	LocalModelProvider      ModelProvider
	OllamaModel             string
	OllamaHost              string
	MaxConcurrentTasks      int
	PeerOfferCooldownMs     int64

	InferenceAuthToken                  string
	InferenceRequireSignedCoordinator   bool
	InferenceMaxSignatureSkewMs         int64
	InferenceNonceTTLMs                 int64

	ParentCoordinatorURL    string
	CloudInferenceURL       string
	EscalationTimeoutMs     int64
	EscalationMaxRetries    int
	EscalationRetryBaseMs   int64
	EscalationCallbackURL   string

	CoordinatorListenAddr string
	GatewayListenAddr     string
	IDEProviderListenAddr string

	PeerRosterPath string
	KVStoreEngine  string
	KVStoreDir     string
	CreditLedgerDSN string
}

// Default returns the baseline configuration before environment overrides,
// mirroring node.DefaultConfig's role in the teacher.
func Default() Config {
	return Config{
		RuntimeMode:                        ModeAllInOne,
		AgentOS:                            "linux",
		AgentMode:                          "swarm-only",
		LocalModelProvider:                 ProviderEdgeCoderLocal,
		MaxConcurrentTasks:                 1,
		PeerOfferCooldownMs:                30_000,
		InferenceRequireSignedCoordinator:  true,
		InferenceMaxSignatureSkewMs:        5 * time.Minute.Milliseconds(),
		InferenceNonceTTLMs:                10 * time.Minute.Milliseconds(),
		EscalationTimeoutMs:                30_000,
		EscalationMaxRetries:               2,
		EscalationRetryBaseMs:              1_000,
		CoordinatorListenAddr:              ":4301",
		GatewayListenAddr:                  ":4302",
		IDEProviderListenAddr:              ":4304",
		KVStoreEngine:                      "memory",
	}
}

// FromEnv overlays every recognised environment variable from spec §6 onto
// the default config, the same "only override what's explicitly set"
// discipline cmd/utils/flags.go applies with ctx.GlobalIsSet.
func FromEnv() Config {
	cfg := Default()

	if v, ok := lookup("EDGE_RUNTIME_MODE"); ok {
		cfg.RuntimeMode = RuntimeMode(v)
	}
	overrideStr(&cfg.AgentID, "AGENT_ID")
	overrideStr(&cfg.AgentOS, "AGENT_OS")
	overrideStr(&cfg.AgentMode, "AGENT_MODE")
	overrideStr(&cfg.AgentRegistrationToken, "AGENT_REGISTRATION_TOKEN")
	overrideStr(&cfg.CoordinatorURL, "COORDINATOR_URL")
	overrideStr(&cfg.MeshAuthToken, "MESH_AUTH_TOKEN")
	if v, ok := lookup("LOCAL_MODEL_PROVIDER"); ok {
		cfg.LocalModelProvider = ModelProvider(v)
	}
	overrideStr(&cfg.OllamaModel, "OLLAMA_MODEL")
	overrideStr(&cfg.OllamaHost, "OLLAMA_HOST")
	overrideInt(&cfg.MaxConcurrentTasks, "MAX_CONCURRENT_TASKS")
	overrideInt64(&cfg.PeerOfferCooldownMs, "PEER_OFFER_COOLDOWN_MS")

	overrideStr(&cfg.InferenceAuthToken, "INFERENCE_AUTH_TOKEN")
	overrideBool(&cfg.InferenceRequireSignedCoordinator, "INFERENCE_REQUIRE_SIGNED_COORDINATOR_REQUESTS")
	overrideInt64(&cfg.InferenceMaxSignatureSkewMs, "INFERENCE_MAX_SIGNATURE_SKEW_MS")
	overrideInt64(&cfg.InferenceNonceTTLMs, "INFERENCE_NONCE_TTL_MS")

	overrideStr(&cfg.ParentCoordinatorURL, "PARENT_COORDINATOR_URL")
	overrideStr(&cfg.CloudInferenceURL, "CLOUD_INFERENCE_URL")
	overrideInt64(&cfg.EscalationTimeoutMs, "ESCALATION_TIMEOUT_MS")
	overrideInt(&cfg.EscalationMaxRetries, "ESCALATION_MAX_RETRIES")
	overrideInt64(&cfg.EscalationRetryBaseMs, "ESCALATION_RETRY_BASE_DELAY_MS")
	overrideStr(&cfg.EscalationCallbackURL, "ESCALATION_CALLBACK_URL")

	overrideStr(&cfg.PeerRosterPath, "PEER_ROSTER_PATH")
	overrideStr(&cfg.KVStoreEngine, "KVSTORE_ENGINE")
	overrideStr(&cfg.KVStoreDir, "KVSTORE_DIR")
	overrideStr(&cfg.CreditLedgerDSN, "CREDIT_LEDGER_DSN")

	return cfg
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func overrideStr(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func overrideInt(dst *int, name string) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideInt64(dst *int64, name string) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func overrideBool(dst *bool, name string) {
	if v, ok := lookup(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
