// Package policy defines the static intent plans the executor can run.
// Intents are declarative: each step names a primary action, ordered
// fallbacks, and a verification condition. Plans are defined here, not
// created at runtime.
package policy

import (
	"github.com/seealln/seealln/internal/domain"
)

// VerifyKind is the condition that proves a step had its effect.
type VerifyKind string

const (
	// VerifyContentChanged passes when the locked region's content
	// hash differs from the pre-action baseline.
	VerifyContentChanged VerifyKind = "content-changed"

	// VerifyTokenGone passes when the step's verify pattern no longer
	// locates a token.
	VerifyTokenGone VerifyKind = "token-gone"

	// VerifyTokenPresent passes when the verify pattern locates a token.
	VerifyTokenPresent VerifyKind = "token-present"

	// VerifyNone skips verification.
	VerifyNone VerifyKind = "none"
)

// ActionTemplate describes one candidate action before perception
// binds it to concrete coordinates.
type ActionTemplate struct {
	Kind   domain.ActionKind
	Key    string // key-press
	Button string // click, default "left"

	// TargetPattern locates a token to click; its box center becomes
	// the target coordinate.
	TargetPattern string

	// FracX/FracY place a click at a fraction of the locked region
	// when no token target applies (e.g. "below the selected item").
	FracX, FracY float64
}

// Step is one perceive -> act -> verify unit of a plan.
type Step struct {
	Name          string
	Primary       ActionTemplate
	Fallbacks     []ActionTemplate
	Verify        VerifyKind
	VerifyPattern string
}

// Plan is a named, parameterized automation goal.
type Plan struct {
	Name        string
	Description string
	Sensitivity domain.Sensitivity

	// RequireMarkers are texts that must all be on screen before the
	// first step runs; their absence fails the intent immediately.
	RequireMarkers []string

	Steps []Step

	// Batch repeats the steps "count" times, recording one captured
	// item per verified pass.
	Batch bool
}
