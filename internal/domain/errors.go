package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Retry policy per class:
//   - ErrPerception, ErrVerificationTimeout: retried locally up to the
//     configured limits before an intent-level Failed/Partial result.
//   - ErrOutOfRegion, ErrGuardrailDenied, ErrAborted, ErrHumanHandoff:
//     never retried; terminate the intent and surface as-is.
//   - ErrProcessCrash: handled by the watchdog; reaches the operator
//     only once the restart budget is exhausted.
var (
	ErrCapture             = errors.New("capture failed")
	ErrPerception          = errors.New("perception failed")
	ErrOutOfRegion         = errors.New("target outside locked region")
	ErrGuardrailDenied     = errors.New("guardrail denied action")
	ErrVerificationTimeout = errors.New("no observable effect within verification budget")
	ErrAborted             = errors.New("aborted by kill switch")
	ErrHumanHandoff        = errors.New("authentication challenge detected, human handoff required")
	ErrProcessCrash        = errors.New("capture service terminated unexpectedly")

	// ErrBusy is returned when an intent is requested while another is
	// in flight. Execution is strictly serialized.
	ErrBusy = errors.New("an intent is already executing")

	// ErrIntentUnknown is returned for intent names not in the registry.
	ErrIntentUnknown = errors.New("unknown intent")
)

// OutOfRegionError reports the offending coordinate. It is never
// silently clamped to a different location.
type OutOfRegionError struct {
	X, Y   int
	Region Region
}

func (e *OutOfRegionError) Error() string {
	return fmt.Sprintf("coordinate (%d,%d) outside locked region %s", e.X, e.Y, e.Region)
}

func (e *OutOfRegionError) Unwrap() error { return ErrOutOfRegion }

// GateDeniedError reports why a confirmation gate did not approve.
type GateDeniedError struct {
	GateID string
	State  GateState // DENIED or EXPIRED
}

func (e *GateDeniedError) Error() string {
	return fmt.Sprintf("confirmation gate %s resolved %s", e.GateID, e.State)
}

func (e *GateDeniedError) Unwrap() error { return ErrGuardrailDenied }

// HandoffError carries the challenge signature that matched.
type HandoffError struct {
	Signature string
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("screen shows %q, human handoff required", e.Signature)
}

func (e *HandoffError) Unwrap() error { return ErrHumanHandoff }
