package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/edgecoder-mesh/edgecoder/internal/credit"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
	"github.com/edgecoder-mesh/edgecoder/internal/signing"
)

// Server exposes the coordinator HTTP surface of spec §6: status/health,
// mesh/peer/gossip endpoints, the pull/result contract, escalation,
// credit-ledger surfaces, and model management.
type Server struct {
	coord   *Coordinator
	models  *ModelRegistry
	nonces  *signing.NonceStore
	maxSkewMs int64
	nonceTTLMs int64
	peerID  string
	startedAtMs int64
}

// NewServer builds a Server wired to coord and models, verifying inbound
// signed requests against nonces using the given skew/TTL bounds (spec §4.8).
func NewServer(coord *Coordinator, models *ModelRegistry, nonces *signing.NonceStore, selfPeerID string, maxSkewMs, nonceTTLMs int64) *Server {
	return &Server{
		coord:       coord,
		models:      models,
		nonces:      nonces,
		maxSkewMs:   maxSkewMs,
		nonceTTLMs:  nonceTTLMs,
		peerID:      selfPeerID,
		startedAtMs: time.Now().UnixMilli(),
	}
}

// Handler returns the routed, CORS-wrapped http.Handler for this surface.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.GET("/status", s.handleStatus)
	r.GET("/health/runtime", s.handleHealth)

	r.GET("/mesh/peers", s.handlePeers)
	r.GET("/mesh/capabilities", s.handleCapabilities)
	r.POST("/mesh/peers/register", s.signed(s.handlePeerRegister))
	r.POST("/mesh/gossip", s.signed(s.handleGossip))

	r.POST("/tasks", s.handleSubmitTask)
	r.GET("/tasks/:id", s.handleGetTask)
	r.POST("/pull", s.signed(s.handlePull))
	r.POST("/result", s.signed(s.handleResult))

	r.POST("/escalate", s.signed(s.handleEscalate))
	r.GET("/escalate/:taskId", s.handleEscalateStatus)

	r.GET("/credits/ledger/snapshot/:accountId", s.handleCreditsBalance)
	r.GET("/credits/ledger/history/:accountId", s.handleCreditsHistory)
	r.GET("/credits/ledger/verify/:accountId", s.handleCreditsVerify)

	r.POST("/model/swap", s.handleModelSwap)
	r.GET("/model/status", s.handleModelStatus)
	r.GET("/model/list", s.handleModelList)
	r.GET("/model/pull/progress", s.handleModelPullProgress)

	return cors.Default().Handler(r)
}

// signed wraps a handler so the request body is read once, verified against
// the signed-request contract, and the caller's peer id is available to the
// wrapped handler via the request context. Any failure short-circuits with
// the mapped error response before the handler runs -- signature
// verification happens before any state mutation (spec §8 invariant).
func (s *Server) signed(next func(http.ResponseWriter, *http.Request, httprouter.Params, []byte, string)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, meshrr.New(meshrr.KindValidation, "unreadable request body"))
			return
		}
		peerID, err := signing.VerifyHTTPRequest(r, body, s.nonces, s.coord.PeerKey, nowMs(), s.maxSkewMs, s.nonceTTLMs)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, ps, body, peerID)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"peerId":        s.peerID,
		"uptimeMs":      nowMs() - s.startedAtMs,
		"queuedTasks":   s.coord.queue.Len(),
		"activeLeases":  s.coord.queue.ActiveLeases(),
		"peerCount":     len(s.coord.Peers()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.coord.Peers())
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	model := r.URL.Query().Get("model")
	writeJSON(w, http.StatusOK, s.coord.Capabilities(model))
}

func (s *Server) handlePeerRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params, body []byte, _ string) {
	var peer domain.PeerRecord
	if err := json.Unmarshal(body, &peer); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed peer record"))
		return
	}
	s.coord.RegisterPeer(peer)
	writeJSON(w, http.StatusOK, peer)
}

func (s *Server) handleGossip(w http.ResponseWriter, r *http.Request, _ httprouter.Params, body []byte, _ string) {
	var msg domain.GossipMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed gossip message"))
		return
	}
	if err := s.coord.Gossip(msg, nowMs()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type submitTaskRequest struct {
	Task     domain.Task      `json:"task"`
	Subtasks []domain.Subtask `json:"subtasks,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed task submission"))
		return
	}
	if req.Task.TaskID == "" {
		req.Task.TaskID = domain.NewID()
	}
	if req.Task.CreatedAtMs == 0 {
		req.Task.CreatedAtMs = nowMs()
	}
	task := s.coord.SubmitTask(req.Task, req.Subtasks)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	task, ok := s.coord.Task(ps.ByName("id"))
	if !ok {
		writeError(w, meshrr.New(meshrr.KindNotFound, "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type pullRequest struct {
	Capability domain.AgentCapability `json:"capability"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request, _ httprouter.Params, body []byte, peerID string) {
	var req pullRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed pull request"))
		return
	}
	req.Capability.AgentID = peerID
	subtask, ok := s.coord.Pull(peerID, req.Capability, nowMs())
	if !ok {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, subtask)
}

type resultRequest struct {
	SubtaskID     string                   `json:"subtaskId"`
	Result        domain.RunResult         `json:"result"`
	Contribution  credit.ContributionReport `json:"contribution"`
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request, _ httprouter.Params, body []byte, peerID string) {
	var req resultRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed result report"))
		return
	}
	req.Contribution.AccountID = peerID
	task, err := s.coord.ReportResult(peerID, req.SubtaskID, req.Result, req.Contribution)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request, _ httprouter.Params, body []byte, _ string) {
	var req domain.EscalationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed escalation request"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
	defer cancel()
	result, human, err := s.coord.Escalate(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	if human != nil {
		writeJSON(w, http.StatusAccepted, human)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEscalateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	human, ok := s.coord.EscalationStatus(ps.ByName("taskId"))
	if !ok {
		writeError(w, meshrr.New(meshrr.KindNotFound, "no escalation recorded for task"))
		return
	}
	writeJSON(w, http.StatusOK, human)
}

func (s *Server) handleCreditsBalance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	bal, err := s.coord.Credits().Balance(ps.ByName("accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": bal})
}

func (s *Server) handleCreditsHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	history, err := s.coord.Credits().History(ps.ByName("accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleCreditsVerify(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	balance, ok, err := s.coord.Credits().Verify(ps.ByName("accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": balance, "ok": ok})
}

type modelSwapRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleModelSwap(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req modelSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
		writeError(w, meshrr.New(meshrr.KindValidation, "missing swap target"))
		return
	}
	s.models.BeginSwap(req.Target)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "swapping", "target": req.Target})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	active, swapping, percent := s.models.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": active, "swapInProgress": swapping, "pullPercent": percent,
	})
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.models.List())
}

func (s *Server) handleModelPullProgress(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if pct := r.URL.Query().Get("set"); pct != "" {
		if n, err := strconv.Atoi(pct); err == nil {
			s.models.ReportPullProgress(n)
		}
	}
	_, _, percent := s.models.Status()
	writeJSON(w, http.StatusOK, map[string]int{"percent": percent})
}

func nowMs() int64 { return time.Now().UnixMilli() }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := meshrr.StatusFor(err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(meshrr.KindOf(err))})
}
