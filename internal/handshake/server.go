package handshake

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

// CloudCaller is the narrow capability a Server needs to run a cloud-assisted
// recovery once a session enters the execute phase; kept separate from the
// escalation package to avoid an import cycle (coordinator wires both).
type CloudCaller func(ctx context.Context, task domain.Task, snippet string) (cloudResponse string, err error)

// Server exposes the handshake HTTP surface of spec §6: POST /review,
// POST /negotiate, GET /result/:id, GET /session/:id.
type Server struct {
	store *Store
	call  CloudCaller
}

// NewServer builds a Server over store, using call to run cloud execution
// asynchronously on transition to the execute phase.
func NewServer(store *Store, call CloudCaller) *Server {
	return &Server{store: store, call: call}
}

// Handler returns the routed, CORS-wrapped http.Handler for this surface.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.POST("/review", s.handleReview)
	r.POST("/negotiate", s.handleNegotiate)
	r.GET("/result/:id", s.handleResult)
	r.GET("/session/:id", s.handleSession)
	return cors.Default().Handler(r)
}

type reviewRequest struct {
	AgentID string      `json:"agentId"`
	Task    domain.Task `json:"task"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed review request"))
		return
	}
	sess, err := s.store.Create(req.AgentID, req.Task, nowMs())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type negotiateRequest struct {
	SessionID string `json:"sessionId"`
	Accept    bool   `json:"accept"`
	Snippet   string `json:"snippet,omitempty"`
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req negotiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed negotiate request"))
		return
	}
	if !req.Accept {
		sess, err := s.store.Transition(req.SessionID, domain.PhaseFailed, nowMs(), func(sess *domain.HandshakeSession) {
			sess.FailureReason = "rejected_by_negotiation"
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	sess, err := s.store.Transition(req.SessionID, domain.PhaseNegotiate, nowMs(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err = s.store.Transition(req.SessionID, domain.PhaseExecute, nowMs(), func(sess *domain.HandshakeSession) {
		sess.Snippet = req.Snippet
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.runCloudExecution(sess)
	writeJSON(w, http.StatusOK, sess)
}

// runCloudExecution spawns the cloud call asynchronously; only a session
// still in the execute phase at completion time is updated to result,
// defeating races with the expiry sweeper (spec §4.7).
func (s *Server) runCloudExecution(sess domain.HandshakeSession) {
	if s.call == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		response, err := s.call(ctx, sess.Task, sess.Snippet)
		if err != nil {
			s.store.Transition(sess.SessionID, domain.PhaseFailed, nowMs(), func(sess *domain.HandshakeSession) {
				sess.FailureReason = err.Error()
			})
			return
		}
		s.store.CompleteIfStillExecuting(sess.SessionID, nowMs(), func(sess *domain.HandshakeSession) {
			sess.CloudResponse = response
		})
	}()
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.store.Get(ps.ByName("id"))
	if !ok {
		writeError(w, meshrr.New(meshrr.KindNotFound, "session not found"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.handleResult(w, r, ps)
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
