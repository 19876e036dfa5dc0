// Package guardrail enforces the safety invariants around input
// injection: region lock, confirmation gates, kill switch, challenge
// detection and a runaway-action rate limit.
package guardrail

import "github.com/seealln/seealln/internal/domain"

// RegionLock confines every action coordinate to the configured
// rectangle. Violations are rejected, never silently clamped.
type RegionLock struct {
	region domain.Region
}

// NewRegionLock creates a lock for the given absolute screen rectangle.
func NewRegionLock(region domain.Region) *RegionLock {
	return &RegionLock{region: region}
}

// Region returns the locked rectangle.
func (l *RegionLock) Region() domain.Region { return l.region }

// CheckPoint validates an absolute coordinate against the lock.
func (l *RegionLock) CheckPoint(x, y int) error {
	if l.region.Contains(x, y) {
		return nil
	}
	return &domain.OutOfRegionError{X: x, Y: y, Region: l.region}
}

// CheckAction validates an action's target where it has one.
// Key presses and waits carry no coordinate and always pass.
func (l *RegionLock) CheckAction(a domain.ActionStep) error {
	switch a.Kind {
	case domain.ActionPointerMove, domain.ActionClick:
		return l.CheckPoint(a.X, a.Y)
	default:
		return nil
	}
}
