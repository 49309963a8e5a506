package sandbox

import "github.com/edgecoder-mesh/edgecoder/internal/meshrr"

func newSandboxError(reason string) error {
	kind := meshrr.KindSandboxUnavailable
	switch reason {
	case "sandbox_required":
		kind = meshrr.KindSandboxRequired
	case "sandbox_unavailable":
		kind = meshrr.KindSandboxUnavailable
	}
	return meshrr.New(kind, reason)
}
