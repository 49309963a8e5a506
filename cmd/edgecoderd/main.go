// Command edgecoderd is the EdgeCoder node process entrypoint: it assembles
// the components named by EDGE_RUNTIME_MODE into one running node (spec §6).
// Grounded on the teacher's cmd/kcn/main.go app-assembly shape: one
// urfave/cli.v1 app, a handful of flags that mostly just point at env-driven
// config, and a single Action that wires services and blocks until signalled.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/config"
	"github.com/edgecoder-mesh/edgecoder/internal/coordinator"
	"github.com/edgecoder-mesh/edgecoder/internal/credit"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
	"github.com/edgecoder-mesh/edgecoder/internal/escalation"
	"github.com/edgecoder-mesh/edgecoder/internal/gateway"
	"github.com/edgecoder-mesh/edgecoder/internal/gossip"
	"github.com/edgecoder-mesh/edgecoder/internal/handshake"
	"github.com/edgecoder-mesh/edgecoder/internal/identity"
	"github.com/edgecoder-mesh/edgecoder/internal/ideprovider"
	"github.com/edgecoder-mesh/edgecoder/internal/kvstore"
	"github.com/edgecoder-mesh/edgecoder/internal/modelclient"
	"github.com/edgecoder-mesh/edgecoder/internal/sandbox"
	"github.com/edgecoder-mesh/edgecoder/internal/signing"
	"github.com/edgecoder-mesh/edgecoder/work"
)

var logger = elog.New("edgecoderd")

var (
	gitCommit = "dev"
	app       = cli.NewApp()
)

func init() {
	app.Name = "edgecoderd"
	app.Usage = "EdgeCoder mesh node: coordinator, worker, and local inference host in one process"
	app.Version = gitCommit
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "mode", Usage: "override EDGE_RUNTIME_MODE"},
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "zap level: debug|info|warn|error"},
	}
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	elog.SetLevel(c.String("log-level"))

	cfg := config.FromEnv()
	if m := c.String("mode"); m != "" {
		cfg.RuntimeMode = config.RuntimeMode(m)
	}

	id, err := loadOrGenerateIdentity(cfg)
	if err != nil {
		return fmt.Errorf("node identity: %w", err)
	}
	printBanner(id.PeerID, cfg.RuntimeMode)
	logger.Infow("node identity ready", "peerId", id.PeerID, "mode", cfg.RuntimeMode)

	store, err := kvstore.Open(kvstore.Engine(cfg.KVStoreEngine), cfg.KVStoreDir)
	if err != nil {
		return fmt.Errorf("kvstore open: %w", err)
	}
	defer store.Close()

	// Persisted peers are seeded first so a trusted-roster entry for the
	// same peer id always wins the merge (trusted public keys are the root
	// of trust; see DESIGN.md's open-question decision).
	seedPeers := append(loadPersistedRoster(store), loadTrustedRoster(cfg.PeerRosterPath)...)
	roster := gossip.NewRoster(seedPeers)
	mesh := gossip.NewMesh(roster, 4096)
	nonces := signing.NewNonceStore(8192)

	var ledger credit.Ledger
	if cfg.CreditLedgerDSN != "" {
		gl, err := credit.OpenGormLedger(cfg.CreditLedgerDSN)
		if err != nil {
			return fmt.Errorf("credit ledger open: %w", err)
		}
		ledger = gl
	} else {
		ledger = credit.NewMemoryLedger()
	}
	creditEngine := credit.NewEngine(ledger)

	resolverOpts := escalation.DefaultOptions()
	resolverOpts.ParentCoordinatorURL = cfg.ParentCoordinatorURL
	resolverOpts.CloudInferenceURL = cfg.CloudInferenceURL
	resolverOpts.CallbackURL = cfg.EscalationCallbackURL
	if cfg.EscalationTimeoutMs > 0 {
		resolverOpts.Timeout = time.Duration(cfg.EscalationTimeoutMs) * time.Millisecond
	}
	if cfg.EscalationMaxRetries > 0 {
		resolverOpts.MaxRetries = cfg.EscalationMaxRetries
	}
	if cfg.EscalationRetryBaseMs > 0 {
		resolverOpts.RetryBaseDelay = time.Duration(cfg.EscalationRetryBaseMs) * time.Millisecond
	}
	resolver := escalation.NewResolver(resolverOpts)

	queue := coordinator.NewQueue()
	coord := coordinator.New(queue, roster, mesh, creditEngine, resolver)
	models := coordinator.NewModelRegistry(defaultModels())

	generate := modelclient.New(cfg)
	metrics := gateway.NewMetrics()

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startSweepers(ctx, &wg, nonces, mesh, roster, store, id, cfg)

	switch cfg.RuntimeMode {
	case config.ModeCoordinator, config.ModeControlPlane:
		startCoordinatorHTTP(coord, models, nonces, id, cfg)
	case config.ModeInference:
		startGatewayHTTP(generate, models, nonces, coord, metrics, cfg)
	case config.ModeIDEProvider:
		startIDEProviderHTTP(generate, models, cfg)
	case config.ModeWorker:
		startWorker(ctx, &wg, id, cfg, generate, metrics)
	default: // all-in-one: every surface in a single process, per spec §2.
		startCoordinatorHTTP(coord, models, nonces, id, cfg)
		startGatewayHTTP(generate, models, nonces, coord, metrics, cfg)
		startIDEProviderHTTP(generate, models, cfg)
		startHandshakeServer(cfg, generate)
		startWorker(ctx, &wg, id, cfg, generate, metrics)
	}

	waitForShutdown()
	logger.Infow("shutting down")
	cancel()
	wg.Wait()
	return nil
}

// defaultModels seeds a placeholder local model entry; a real deployment
// overwrites this via POST /model/swap once the local inference backend
// reports its actual catalog (spec §1: the backend is an opaque RPC).
func defaultModels() []coordinator.ModelInfo {
	return []coordinator.ModelInfo{
		{Name: "edgecoder-7b", ParamSizeB: 7, Active: true, CostCredits: credit.ModelCostCredits(7)},
	}
}

// printBanner writes a colorized one-line startup banner directly to
// stdout, ahead of the structured zap output, so an operator scanning a
// terminal full of scrollback can find "did this node actually come up"
// at a glance.
func printBanner(peerID string, mode config.RuntimeMode) {
	color.New(color.FgCyan, color.Bold).Print("edgecoderd")
	fmt.Print(" starting as ")
	color.New(color.FgYellow).Printf("%s", mode)
	fmt.Print(" (peer ")
	color.New(color.FgGreen).Print(peerID)
	fmt.Println(")")
}

func loadOrGenerateIdentity(cfg config.Config) (*identity.Identity, error) {
	// No NODE_KEY_PATH is named in spec §6; an ephemeral node generates a
	// fresh Ed25519 keypair at boot and relies on the operator-provided
	// roster (PEER_ROSTER_PATH) to distribute its public key out of band.
	return identity.Generate()
}

// peerKeyPrefix namespaces the roster's persisted entries within the
// shared kvstore (spec §6 "Persisted state": peer roster).
const peerKeyPrefix = "peer:"

// rosterStalenessWindow is the configurable staleness window spec §3 names
// without pinning a default; 10 minutes comfortably outlives the 60s
// capability-broadcast period so a briefly-unreachable peer survives one
// missed cycle.
const rosterStalenessWindow = 10 * time.Minute

func loadPersistedRoster(store kvstore.Store) []domain.PeerRecord {
	var peers []domain.PeerRecord
	err := store.Iterate([]byte(peerKeyPrefix), func(key, value []byte) bool {
		var p domain.PeerRecord
		if err := json.Unmarshal(value, &p); err == nil {
			peers = append(peers, p)
		}
		return true
	})
	if err != nil {
		logger.Warnw("persisted roster unreadable, starting without it", "err", err.Error())
	}
	return peers
}

// persistRosterLoop periodically snapshots the live roster into store so a
// restart recovers peer liveness/metadata rather than starting cold.
func persistRosterLoop(ctx context.Context, store kvstore.Store, roster *gossip.Roster) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range roster.All() {
				b, err := json.Marshal(p)
				if err != nil {
					continue
				}
				if err := store.Put([]byte(peerKeyPrefix+p.PeerID), b); err != nil {
					logger.Warnw("roster persist failed", "peerId", p.PeerID, "err", err.Error())
				}
			}
		}
	}
}

func loadTrustedRoster(path string) []domain.PeerRecord {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Warnw("peer roster file unreadable, starting with an empty trusted set", "path", path, "err", err.Error())
		return nil
	}
	defer f.Close()
	var peers []domain.PeerRecord
	if err := json.NewDecoder(f).Decode(&peers); err != nil {
		logger.Warnw("peer roster file malformed, starting with an empty trusted set", "path", path, "err", err.Error())
		return nil
	}
	return peers
}

func startSweepers(ctx context.Context, wg *sync.WaitGroup, nonces *signing.NonceStore, mesh *gossip.Mesh, roster *gossip.Roster, store kvstore.Store, id *identity.Identity, cfg config.Config) {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	nonces.RunPruner(30*time.Second, stop)                            // spawns its own goroutine, returns immediately.
	roster.RunEvictionSweeper(60*time.Second, rosterStalenessWindow, stop) // ditto.

	wg.Add(1)
	go func() {
		defer wg.Done()
		persistRosterLoop(ctx, store, roster)
	}()

	if cfg.CoordinatorURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			broadcastCapabilitiesLoop(ctx, mesh, id)
		}()
	}
}

// broadcastCapabilitiesLoop constructs and broadcasts this node's
// CapabilitySummary every 60s, per spec §4.5's default aggregation period.
func broadcastCapabilitiesLoop(ctx context.Context, mesh *gossip.Mesh, id *identity.Identity) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := gossip.CapabilitySummaryPayload{
				CapabilitySummary: domain.CapabilitySummary{
					CoordinatorID: id.PeerID,
					Models:        map[string]domain.ModelCapacity{},
					IssuedAtMs:    time.Now().UnixMilli(),
				},
			}
			body, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			msg := gossip.NewMessage(domain.GossipCapabilitySummary, id.PeerID, 5*time.Minute, body)
			msg.Signature = gossip.SignWith(msg, id.Sign)
			mesh.Broadcast(ctx, msg, id.PeerID)
		}
	}
}

func startCoordinatorHTTP(coord *coordinator.Coordinator, models *coordinator.ModelRegistry, nonces *signing.NonceStore, id *identity.Identity, cfg config.Config) {
	srv := coordinator.NewServer(coord, models, nonces, id.PeerID, cfg.InferenceMaxSignatureSkewMs, cfg.InferenceNonceTTLMs)
	listenAndServe("coordinator", cfg.CoordinatorListenAddr, srv.Handler())
}

func startGatewayHTTP(generate agent.Generator, models *coordinator.ModelRegistry, nonces *signing.NonceStore, coord *coordinator.Coordinator, metrics *gateway.Metrics, cfg config.Config) {
	gw := gateway.New(generate, metrics)
	srv := gateway.NewServer(gw, models, metrics, nonces, coord.PeerKey, cfg.InferenceRequireSignedCoordinator, cfg.InferenceMaxSignatureSkewMs, cfg.InferenceNonceTTLMs)
	listenAndServe("inference gateway", cfg.GatewayListenAddr, srv.Handler())
}

func startIDEProviderHTTP(generate agent.Generator, models *coordinator.ModelRegistry, cfg config.Config) {
	provider := ideprovider.New(generate, models)
	srv := ideprovider.NewServer(provider)
	listenAndServe("ide provider", cfg.IDEProviderListenAddr, srv.Handler())
}

func startHandshakeServer(cfg config.Config, generate agent.Generator) {
	st := handshake.NewStore(512, 5)
	caller := cloudCaller(cfg)
	srv := handshake.NewServer(st, caller)
	listenAndServe("handshake", ":4305", srv.Handler())
}

// cloudCaller builds the handshake store's async cloud-assisted-recovery
// callback: a plain POST to CLOUD_INFERENCE_URL, independent of the
// escalation waterfall (the handshake path is for out-of-subset tasks
// caught before they ever reach the agent loop, spec §4.7).
func cloudCaller(cfg config.Config) handshake.CloudCaller {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(ctx context.Context, task domain.Task, snippet string) (string, error) {
		if cfg.CloudInferenceURL == "" {
			return "", fmt.Errorf("handshake: no cloud inference url configured")
		}
		body, _ := json.Marshal(map[string]interface{}{
			"taskId": task.TaskID, "prompt": task.Prompt, "language": task.Language, "snippet": snippet,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.CloudInferenceURL, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		var out struct {
			ImprovedCode string `json:"improvedCode"`
			RawResponse  string `json:"rawResponse"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", err
		}
		if out.ImprovedCode != "" {
			return out.ImprovedCode, nil
		}
		return out.RawResponse, nil
	}
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, id *identity.Identity, cfg config.Config, generate agent.Generator, metrics *gateway.Metrics) {
	if cfg.CoordinatorURL == "" {
		logger.Warnw("no COORDINATOR_URL configured, worker loop not started")
		return
	}
	docker, err := sandbox.NewDockerRunner()
	if err != nil {
		logger.Infow("docker sandbox unavailable, host mode only", "err", err.Error())
		docker = nil
	}
	executor := sandbox.NewExecutor(cfg.MaxConcurrentTasks, docker)

	sandboxMode := domain.SandboxNone
	if docker != nil {
		sandboxMode = domain.SandboxDocker
	}
	a := agent.NewSwarmWorker(generate, executor, sandbox.DefaultPolicy(), sandboxMode)

	capability := func() domain.AgentCapability {
		return domain.AgentCapability{
			AgentID:            id.PeerID,
			SandboxMode:        sandboxMode,
			ActiveModel:        cfg.OllamaModel,
			Mode:               domain.AgentMode(cfg.AgentMode),
			ModelProvider:      string(cfg.LocalModelProvider),
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		}
	}

	w := work.NewWorker(id, cfg.CoordinatorURL, a, capability, metrics.ObserveSandboxRun, work.DefaultOptions())
	w.Start(ctx) // the poll loop exits on its own once ctx is cancelled.
	logger.Infow("worker loop started", "coordinatorUrl", cfg.CoordinatorURL)
}

func listenAndServe(name, addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		logger.Infow("http surface listening", "surface", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("http surface stopped", "surface", name, "err", err.Error())
		}
	}()
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

