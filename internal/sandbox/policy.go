package sandbox

import (
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

// Policy is the per-task sandbox resource envelope (spec §4.3).
type Policy struct {
	Required     bool
	AllowedModes []domain.SandboxMode

	MemoryCapMB      int           // default 256
	CPUShare         float64       // default 0.5 cores
	NetworkAllowed   bool          // default false (--network=none)
	PidCap           int           // default 50
	WallClockTimeout time.Duration // default 30s
}

// DefaultPolicy returns the spec-named defaults for container mode.
func DefaultPolicy() Policy {
	return Policy{
		Required:         true,
		AllowedModes:     []domain.SandboxMode{domain.SandboxVM, domain.SandboxDocker},
		MemoryCapMB:      256,
		CPUShare:         0.5,
		NetworkAllowed:   false,
		PidCap:           50,
		WallClockTimeout: 30 * time.Second,
	}
}

// Satisfies reports whether mode is one of the policy's allowed modes.
func (p Policy) Satisfies(mode domain.SandboxMode) bool {
	for _, m := range p.AllowedModes {
		if m == mode {
			return true
		}
	}
	return false
}

// BestAvailableMode picks the strongest mode the agent offers that still
// satisfies the policy, respecting the strict order none < vm < docker.
func (p Policy) BestAvailableMode(agentMode domain.SandboxMode) (domain.SandboxMode, bool) {
	best := domain.SandboxMode(-1)
	found := false
	for _, m := range p.AllowedModes {
		if m <= agentMode && m > best {
			best = m
			found = true
		}
	}
	return best, found
}
