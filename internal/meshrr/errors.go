// Package meshrr defines the typed error kinds shared by every HTTP surface
// in the mesh (coordinator, inference gateway, handshake server) and their
// mapping to stable HTTP status codes, per spec §7.
package meshrr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds enumerated in spec §7.
type Kind string

const (
	KindUnauthorized             Kind = "unauthorized"
	KindSignatureInvalid         Kind = "signature_invalid"
	KindSignatureExpired         Kind = "signature_expired"
	KindSignatureReplay          Kind = "signature_replay"
	KindSignatureBodyMismatch    Kind = "signature_body_mismatch"
	KindSignatureUntrustedPeer   Kind = "signature_untrusted_peer"
	KindValidation                Kind = "validation_error"
	KindNotFound                  Kind = "not_found"
	KindSessionOwnerMismatch      Kind = "session_owner_mismatch"
	KindInvalidPhaseTransition    Kind = "invalid_phase_transition"
	KindTooManySessions           Kind = "too_many_sessions"
	KindInsufficientCredits       Kind = "insufficient_credits"
	KindDuplicateContribution     Kind = "duplicate_contribution_report"
	KindSandboxRequired           Kind = "sandbox_required"
	KindSandboxUnavailable        Kind = "sandbox_unavailable"
	KindOutsideSubset             Kind = "outside_subset"
	KindModelLimit                Kind = "model_limit"
	KindTimeout                   Kind = "timeout"
)

var statusByKind = map[Kind]int{
	KindUnauthorized:           http.StatusUnauthorized,
	KindSignatureInvalid:       http.StatusUnauthorized,
	KindSignatureExpired:       http.StatusUnauthorized,
	KindSignatureReplay:        http.StatusUnauthorized,
	KindSignatureBodyMismatch:  http.StatusUnauthorized,
	KindSignatureUntrustedPeer: http.StatusForbidden,
	KindValidation:             http.StatusBadRequest,
	KindNotFound:               http.StatusNotFound,
	KindSessionOwnerMismatch:   http.StatusForbidden,
	KindInvalidPhaseTransition: http.StatusConflict,
	KindTooManySessions:        http.StatusTooManyRequests,
	KindInsufficientCredits:    http.StatusPaymentRequired,
	KindDuplicateContribution:  http.StatusConflict,
	KindSandboxRequired:        http.StatusBadRequest,
	KindSandboxUnavailable:     http.StatusBadGateway,
	KindOutsideSubset:          http.StatusBadRequest,
	KindModelLimit:             http.StatusBadRequest,
	KindTimeout:                http.StatusGatewayTimeout,
}

// Error is a typed mesh error carrying an HTTP-mappable Kind.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a typed error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an underlying error, preserving it for %+v / errors.Is.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// StatusFor maps an error to the stable HTTP status code from spec §7.
// Unrecognised errors map to 500.
func StatusFor(err error) int {
	var me *Error
	if errors.As(err, &me) {
		if status, ok := statusByKind[me.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}
