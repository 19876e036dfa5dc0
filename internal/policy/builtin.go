package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seealln/seealln/internal/domain"
)

// advanceStep is the shared perceive/act/verify unit for list
// navigation: a directional key first (cheaper and less error-prone
// than coordinate clicking), then a located "next" token, then a blind
// click just below the current selection in the list column.
func advanceStep() Step {
	return Step{
		Name:    "advance",
		Primary: ActionTemplate{Kind: domain.ActionKeyPress, Key: "down"},
		Fallbacks: []ActionTemplate{
			{Kind: domain.ActionClick, TargetPattern: "next"},
			{Kind: domain.ActionClick, FracX: 0.33, FracY: 0.43},
		},
		Verify: VerifyContentChanged,
	}
}

func builtinPlans() []Plan {
	return []Plan{
		{
			Name:        "next_email",
			Description: "advance to the next item in the focused list",
			Sensitivity: domain.SensitivityNormal,
			Steps:       []Step{advanceStep()},
		},
		{
			Name:        "capture_batch",
			Description: "advance through and record N items (param: count)",
			Sensitivity: domain.SensitivityNormal,
			Steps:       []Step{advanceStep()},
			Batch:       true,
		},
	}
}

// Registry holds the known plans.
type Registry struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewRegistry registers the built-in plans. Intents named in
// sensitiveOverrides are promoted to sensitive, so every action they
// produce requires a confirmation gate.
func NewRegistry(sensitiveOverrides []string) *Registry {
	r := &Registry{plans: make(map[string]Plan)}
	for _, p := range builtinPlans() {
		r.plans[p.Name] = p
	}
	for _, name := range sensitiveOverrides {
		if p, ok := r.plans[name]; ok {
			p.Sensitivity = domain.SensitivitySensitive
			r.plans[name] = p
		}
	}
	return r
}

// Register adds or replaces a plan.
func (r *Registry) Register(p Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.Name] = p
}

// Get returns the plan for an intent name.
func (r *Registry) Get(name string) (Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", domain.ErrIntentUnknown, name)
	}
	return p, nil
}

// List returns all plans sorted by name.
func (r *Registry) List() []Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
