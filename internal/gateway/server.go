package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/edgecoder-mesh/edgecoder/internal/coordinator"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
	"github.com/edgecoder-mesh/edgecoder/internal/signing"
)

// Server exposes the inference gateway HTTP surface of spec §6: POST
// /decompose, POST /escalate, GET /health, GET /metrics, model-swap
// endpoints, and a minimal operator dashboard.
type Server struct {
	gateway   *Gateway
	models    *coordinator.ModelRegistry
	metrics   *Metrics
	nonces    *signing.NonceStore
	peerKey   signing.PeerKeyLookup
	requireSig bool
	maxSkewMs int64
	nonceTTLMs int64
}

// NewServer builds a Server. When requireSig is true, /decompose and
// /escalate require a valid signed-request header set from a peer
// peerKey can resolve (spec §6
// INFERENCE_REQUIRE_SIGNED_COORDINATOR_REQUESTS); when false, any caller
// bearing the gateway's INFERENCE_AUTH_TOKEN may call them (checked by the
// caller wiring this up, e.g. via a shared-secret header middleware).
func NewServer(gw *Gateway, models *coordinator.ModelRegistry, metrics *Metrics, nonces *signing.NonceStore, peerKey signing.PeerKeyLookup, requireSig bool, maxSkewMs, nonceTTLMs int64) *Server {
	return &Server{
		gateway: gw, models: models, metrics: metrics, nonces: nonces,
		peerKey: peerKey, requireSig: requireSig, maxSkewMs: maxSkewMs, nonceTTLMs: nonceTTLMs,
	}
}

// Handler returns the routed, CORS-wrapped http.Handler for this surface.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.POST("/decompose", s.guard(s.handleDecompose))
	r.POST("/escalate", s.guard(s.handleEscalate))
	r.GET("/health", s.handleHealth)
	r.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	r.POST("/model/swap", s.handleModelSwap)
	r.GET("/model/status", s.handleModelStatus)
	r.GET("/model/list", s.handleModelList)
	r.GET("/", s.handleDashboard)
	return cors.Default().Handler(r)
}

// guard optionally enforces the signed-request contract ahead of a handler,
// per spec §6's INFERENCE_REQUIRE_SIGNED_COORDINATOR_REQUESTS knob.
func (s *Server) guard(next httprouter.Handle) httprouter.Handle {
	if !s.requireSig {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		body := readBody(r)
		if _, err := signing.VerifyHTTPRequest(r, body, s.nonces, s.peerKey, nowMs(), s.maxSkewMs, s.nonceTTLMs); err != nil {
			writeError(w, err)
			return
		}
		r.Body = newBodyReader(body)
		next(w, r, ps)
	}
}

type decomposeRequest struct {
	TaskID   string          `json:"taskId"`
	Prompt   string          `json:"prompt"`
	Language domain.Language `json:"language"`
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req decomposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed decompose request"))
		return
	}
	if req.TaskID == "" {
		req.TaskID = domain.NewID()
	}
	subtasks, err := s.gateway.Decompose(r.Context(), req.TaskID, req.Prompt, req.Language, nowMs())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subtasks": subtasks})
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req domain.EscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed escalation request"))
		return
	}
	result, err := s.gateway.Escalate(r.Context(), req)
	if err != nil {
		writeError(w, meshrr.Wrap(meshrr.KindTimeout, "escalate failed", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": active, "swapInProgress": swapping, "pullPercent": percent})
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.models.List())
}

// handleDashboard serves a minimal operator status page; a real dashboard
// UI is out of scope for this node process (spec names it only as a
// surface, not a UI to build).
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	active, swapping, percent := s.models.Status()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<html><body><h1>EdgeCoder inference gateway</h1><p>active model: " +
		active + "</p><p>swap in progress: " + boolStr(swapping) + " (" + itoa(percent) + "%)</p></body></html>"))
}

func boolStr(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func nowMs() int64 { return time.Now().UnixMilli() }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := meshrr.StatusFor(err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(meshrr.KindOf(err))})
}
