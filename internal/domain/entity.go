// Package domain contains core entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// Region is a rectangle in absolute screen coordinates.
// The zero value means "resolve to the full primary display at startup".
type Region struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// IsZero reports whether the region is unset.
func (r Region) IsZero() bool {
	return r.X == 0 && r.Y == 0 && r.W == 0 && r.H == 0
}

// Contains reports whether the point lies inside the region
// (inclusive min, exclusive max).
func (r Region) Contains(x, y int) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.W && y < r.Y+r.H
}

// Within reports whether the region lies fully inside the outer region.
func (r Region) Within(outer Region) bool {
	return r.X >= outer.X && r.Y >= outer.Y &&
		r.X+r.W <= outer.X+outer.W && r.Y+r.H <= outer.Y+outer.H
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Frame is one timestamped capture of the locked region.
// Immutable once produced; subscribers and the perception adapter hold
// references, never copies.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Region     Region // screen rectangle this frame covers
	Width      int
	Height     int
	Stride     int    // bytes per pixel row
	Pixels     []byte // raw RGBA, Stride*Height bytes
}

// OCRToken is a recognized text span in frame coordinates.
// Tokens live only for the query that produced them.
type OCRToken struct {
	Text       string
	Box        Region // relative to the frame origin
	Confidence float64
}

// Sensitivity classifies an intent (and the action steps it produces).
type Sensitivity string

const (
	SensitivityNormal    Sensitivity = "normal"
	SensitivitySensitive Sensitivity = "sensitive"
)

// ActionKind identifies the input primitive an ActionStep performs.
type ActionKind string

const (
	ActionPointerMove ActionKind = "pointer-move"
	ActionClick       ActionKind = "click"
	ActionKeyPress    ActionKind = "key-press"
	ActionWait        ActionKind = "wait"
)

// ActionStep is one concrete input action, created per decision cycle
// and consumed immediately by injection.
type ActionStep struct {
	Kind        ActionKind
	X, Y        int           // absolute screen coordinate (pointer-move, click)
	Button      string        // click button, default "left"
	Key         string        // key-press key name
	Pause       time.Duration // wait duration
	Sensitivity Sensitivity   // inherited from the owning intent
	Intent      string        // owning intent name, for audit
}

// Describe renders the action for operator review and audit records.
func (a ActionStep) Describe() string {
	switch a.Kind {
	case ActionPointerMove:
		return fmt.Sprintf("move pointer to (%d,%d)", a.X, a.Y)
	case ActionClick:
		btn := a.Button
		if btn == "" {
			btn = "left"
		}
		return fmt.Sprintf("%s-click at (%d,%d)", btn, a.X, a.Y)
	case ActionKeyPress:
		return fmt.Sprintf("press key %q", a.Key)
	case ActionWait:
		return fmt.Sprintf("wait %s", a.Pause)
	default:
		return string(a.Kind)
	}
}

// GateState is the confirmation gate lifecycle state.
type GateState string

const (
	GatePending  GateState = "PENDING"
	GateApproved GateState = "APPROVED"
	GateDenied   GateState = "DENIED"
	GateExpired  GateState = "EXPIRED"
)

// Terminal reports whether the state admits no further transition.
func (s GateState) Terminal() bool {
	return s == GateApproved || s == GateDenied || s == GateExpired
}

// ConfirmationGate is a single-use approval checkpoint guarding one
// sensitive action. Created PENDING; resolved by operator input or
// timeout; terminal once resolved.
type ConfirmationGate struct {
	ID        string
	Action    ActionStep
	State     GateState
	CreatedAt time.Time
	Timeout   time.Duration
}

// WatchdogState is the supervisor lifecycle state.
type WatchdogState string

const (
	WatchdogRunning    WatchdogState = "RUNNING"
	WatchdogRestarting WatchdogState = "RESTARTING"
	// WatchdogFailed is terminal: the restart budget is exhausted and
	// only an explicit reset leaves it.
	WatchdogFailed WatchdogState = "FAILED"
)

// WatchdogRecord is a snapshot of the supervisor's restart accounting.
type WatchdogRecord struct {
	State       WatchdogState
	Restarts    int           // restarts within the current rolling window
	WindowStart time.Time     // start of the rolling window
	Backoff     time.Duration // next restart delay
	LastRestart time.Time
}

// KillState is the process-wide kill switch state. TRIGGERED is sticky
// until an explicit operator reset.
type KillState int32

const (
	KillArmed KillState = iota
	KillTriggered
)

func (s KillState) String() string {
	if s == KillTriggered {
		return "TRIGGERED"
	}
	return "ARMED"
}

// IntentStatus is the outcome class of one intent execution.
type IntentStatus string

const (
	StatusSuccess IntentStatus = "Success"
	StatusPartial IntentStatus = "Partial"
	StatusFailed  IntentStatus = "Failed"
	StatusAborted IntentStatus = "Aborted"
)

// IntentResult is returned to the caller for every execution, so
// partial progress stays observable even on failure.
type IntentResult struct {
	Status         IntentStatus `json:"status"`
	Detail         string       `json:"detail"`
	StepsCompleted int          `json:"stepsCompleted"`
	FallbackUsed   bool         `json:"fallbackUsed"`
	ItemsCaptured  int          `json:"itemsCaptured,omitempty"`
}
