// Package handshake implements the multi-phase session store of spec §4.7:
// handshake -> negotiate -> execute -> result, with a per-agent active
// session cap and a sweep that expires sessions stuck over 5 minutes.
// Grounded on golang-lru (the same eviction-cache shape as internal/signing)
// plus a sweep-ticker shaped like the teacher's periodic cleanup goroutines.
package handshake

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

var logger = elog.New("handshake")

// maxSessionAge is the "stuck >5 min" cutoff spec §4.7 names for the sweep.
const maxSessionAge = 5 * time.Minute

// defaultPerAgentCap is the per-agent active-session cap spec §4.7 names.
const defaultPerAgentCap = 5

// Store is the session table: one lru.Cache guarded by one mutex, per
// spec §5's "handshake store... pruned by dedicated sweepers".
type Store struct {
	mu          sync.Mutex
	sessions    *lru.Cache // sessionId -> domain.HandshakeSession
	perAgentCap int
}

// NewStore builds a Store capped at capacity sessions overall, with
// perAgentCap active sessions per agent (spec §4.7 default 5).
func NewStore(capacity, perAgentCap int) *Store {
	if perAgentCap <= 0 {
		perAgentCap = defaultPerAgentCap
	}
	c, err := lru.New(capacity)
	if err != nil {
		c, _ = lru.New(1024)
	}
	return &Store{sessions: c, perAgentCap: perAgentCap}
}

// activePhases are the phases that count against an agent's session cap.
func isActivePhase(phase domain.HandshakePhase) bool {
	switch phase {
	case domain.PhaseExpired, domain.PhaseFailed, domain.PhaseResult:
		return false
	default:
		return true
	}
}

// Create starts a new session in the handshake phase for agentID/task,
// rejecting with too_many_sessions if the agent is already at its active
// session cap (spec §4.7).
func (s *Store) Create(agentID string, task domain.Task, nowMs int64) (domain.HandshakeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, key := range s.sessions.Keys() {
		v, ok := s.sessions.Peek(key)
		if !ok {
			continue
		}
		sess := v.(domain.HandshakeSession)
		if sess.AgentID == agentID && isActivePhase(sess.Phase) {
			active++
		}
	}
	if active >= s.perAgentCap {
		return domain.HandshakeSession{}, meshrr.New(meshrr.KindTooManySessions, "too_many_sessions")
	}

	sess := domain.HandshakeSession{
		SessionID:   domain.NewID(),
		AgentID:     agentID,
		Phase:       domain.PhaseHandshake,
		Task:        task,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	s.sessions.Add(sess.SessionID, sess)
	return sess, nil
}

// Get returns the session by id.
func (s *Store) Get(sessionID string) (domain.HandshakeSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.HandshakeSession{}, false
	}
	return v.(domain.HandshakeSession), true
}

// validTransitions enumerates the legal phase-to-phase moves of spec §4.7;
// any step may additionally move to failed or expired directly.
var validTransitions = map[domain.HandshakePhase][]domain.HandshakePhase{
	domain.PhaseHandshake: {domain.PhaseNegotiate, domain.PhaseFailed, domain.PhaseExpired},
	domain.PhaseNegotiate: {domain.PhaseExecute, domain.PhaseFailed, domain.PhaseExpired},
	domain.PhaseExecute:   {domain.PhaseResult, domain.PhaseFailed, domain.PhaseExpired},
}

func canTransition(from, to domain.HandshakePhase) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves sessionID to phase, validating the transition per
// spec §4.7 and applying mutate to the session under the store's lock.
func (s *Store) Transition(sessionID string, phase domain.HandshakePhase, nowMs int64, mutate func(*domain.HandshakeSession)) (domain.HandshakeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.HandshakeSession{}, meshrr.New(meshrr.KindNotFound, "session not found: "+sessionID)
	}
	sess := v.(domain.HandshakeSession)
	if !canTransition(sess.Phase, phase) {
		return domain.HandshakeSession{}, meshrr.New(meshrr.KindInvalidPhaseTransition, "invalid_phase_transition")
	}
	sess.Phase = phase
	sess.UpdatedAtMs = nowMs
	if mutate != nil {
		mutate(&sess)
	}
	s.sessions.Add(sessionID, sess)
	return sess, nil
}

// CompleteIfStillExecuting transitions sessionID from execute to result only
// if it is still in the execute phase at completion time, defeating races
// with the expiry sweeper (spec §4.7 "only sessions still in execute at
// completion time update to result").
func (s *Store) CompleteIfStillExecuting(sessionID string, nowMs int64, mutate func(*domain.HandshakeSession)) (domain.HandshakeSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.HandshakeSession{}, false
	}
	sess := v.(domain.HandshakeSession)
	if sess.Phase != domain.PhaseExecute {
		return domain.HandshakeSession{}, false
	}
	sess.Phase = domain.PhaseResult
	sess.UpdatedAtMs = nowMs
	if mutate != nil {
		mutate(&sess)
	}
	s.sessions.Add(sessionID, sess)
	return sess, true
}

// SweepExpired moves every active session older than maxSessionAge to the
// expired phase (spec §4.7's 60s-default cleanup sweep).
func (s *Store) SweepExpired(nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	cutoff := nowMs - maxSessionAge.Milliseconds()
	for _, key := range s.sessions.Keys() {
		v, ok := s.sessions.Peek(key)
		if !ok {
			continue
		}
		sess := v.(domain.HandshakeSession)
		if isActivePhase(sess.Phase) && sess.CreatedAtMs < cutoff {
			sess.Phase = domain.PhaseExpired
			sess.UpdatedAtMs = nowMs
			s.sessions.Add(key, sess)
			expired++
		}
	}
	if expired > 0 {
		logger.Infow("expired stuck handshake sessions", "count", expired)
	}
	return expired
}

// RunSweeper starts a goroutine calling SweepExpired on interval until stop
// is closed (default 60s per spec §4.7).
func (s *Store) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepExpired(time.Now().UnixMilli())
			case <-stop:
				return
			}
		}
	}()
}
