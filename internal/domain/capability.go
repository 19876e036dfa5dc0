package domain

import (
	"context"
	"time"
)

// ScreenGrabber captures raw pixels. Implementation: kbinani/screenshot
// for real displays; deterministic fakes in tests.
type ScreenGrabber interface {
	// Grab captures the given screen rectangle.
	Grab(region Region) (*Frame, error)

	// DisplayBounds returns the primary display rectangle.
	DisplayBounds() (Region, error)
}

// InputInjector performs pointer and keyboard actions.
// Implementation: robotgo; deterministic fakes in tests.
type InputInjector interface {
	// MoveMouse moves the pointer to an absolute coordinate.
	MoveMouse(x, y int) error

	// Click presses and releases a mouse button at a coordinate.
	Click(x, y int, button string) error

	// KeyTap presses and releases a named key.
	KeyTap(key string) error
}

// OCREngine is the external recognition capability. Failures surface
// as ErrPerception upstream, never as a crash.
type OCREngine interface {
	// Recognize returns located, confidence-scored text tokens for a frame.
	Recognize(ctx context.Context, frame *Frame) ([]OCRToken, error)

	// Available reports whether the capability can run at all.
	Available() bool
}

// FrameSource serves the most recent frame synchronously.
type FrameSource interface {
	// Snapshot returns the latest captured frame.
	Snapshot() (*Frame, error)

	// LastHeartbeat returns when the producer last made progress.
	LastHeartbeat() time.Time
}

// KillSwitchReader is the read-only kill switch view held by the
// executor and guardrail layer. Polling it must never take a lock that
// injection could hold.
type KillSwitchReader interface {
	// Triggered reports whether the switch is TRIGGERED.
	Triggered() bool
}

// ActionApprover is the guardrail boundary the executor submits every
// proposed action to. A nil return authorizes immediate injection.
type ActionApprover interface {
	// Approve validates the action against the region lock, kill
	// switch and rate limit, and for sensitive actions blocks (bounded
	// by the gate timeout) on operator confirmation.
	Approve(ctx context.Context, action ActionStep) error
}

// AuditSink records injected actions and gate resolutions.
// Implementation: SQLCipher-encrypted database.
type AuditSink interface {
	// RecordAction persists one approved, injected action.
	RecordAction(action ActionStep) error

	// RecordGate persists a gate's terminal resolution.
	RecordGate(gate ConfirmationGate) error

	// Close releases the underlying database.
	Close() error
}

// ProcessStats reports resource usage of this process for health checks.
type ProcessStats interface {
	// Stats returns CPU percent and resident memory bytes.
	Stats() (cpuPercent float64, rssBytes uint64, err error)
}
