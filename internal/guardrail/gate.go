package guardrail

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/domain"
)

// awaitPoll is how often a gate wait re-checks state and kill switch.
// Cancellation is cooperative: waits are bounded polls, never an
// uninterruptible block.
const awaitPoll = 50 * time.Millisecond

// Keeper owns the confirmation gate state machine. Gates are created
// PENDING atomically with their sensitive action, resolved exactly
// once by operator signal or timeout, and consumed exactly once.
type Keeper struct {
	timeout time.Duration
	audit   domain.AuditSink
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	gates map[string]*domain.ConfirmationGate
}

// NewKeeper creates a keeper with no pending gates. The audit sink may
// be nil (tests).
func NewKeeper(timeout time.Duration, audit domain.AuditSink, logger *zap.Logger) *Keeper {
	return &Keeper{
		timeout: timeout,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
		gates:   make(map[string]*domain.ConfirmationGate),
	}
}

// Propose creates a PENDING gate guarding the action.
func (k *Keeper) Propose(action domain.ActionStep) domain.ConfirmationGate {
	gate := domain.ConfirmationGate{
		ID:        uuid.NewString(),
		Action:    action,
		State:     domain.GatePending,
		CreatedAt: k.now(),
		Timeout:   k.timeout,
	}

	k.mu.Lock()
	k.gates[gate.ID] = &gate
	k.mu.Unlock()

	k.logger.Info("confirmation gate opened",
		zap.String("gate", gate.ID),
		zap.String("action", action.Describe()),
		zap.Duration("timeout", k.timeout))
	return gate
}

// Resolve moves a PENDING gate to APPROVED or DENIED. Resolution is
// terminal and single-use; resolving a settled or unknown gate fails.
func (k *Keeper) Resolve(id string, approve bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	gate, ok := k.gates[id]
	if !ok {
		return &domain.GateDeniedError{GateID: id, State: domain.GateExpired}
	}
	k.expireLocked(gate)
	if gate.State != domain.GatePending {
		return &domain.GateDeniedError{GateID: id, State: gate.State}
	}

	if approve {
		gate.State = domain.GateApproved
	} else {
		gate.State = domain.GateDenied
	}
	k.recordLocked(gate)
	return nil
}

// ResolveAll settles every currently PENDING gate in one batch and
// returns how many were touched. The executor still injects and
// verifies each constituent action individually.
func (k *Keeper) ResolveAll(approve bool) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for _, gate := range k.gates {
		k.expireLocked(gate)
		if gate.State != domain.GatePending {
			continue
		}
		if approve {
			gate.State = domain.GateApproved
		} else {
			gate.State = domain.GateDenied
		}
		k.recordLocked(gate)
		n++
	}
	return n
}

// DenyAll flushes all pending gates to DENIED. Used on shutdown and
// when the kill switch fires (a TRIGGERED switch implicitly denies
// every pending gate).
func (k *Keeper) DenyAll() int {
	return k.ResolveAll(false)
}

// Pending lists open gates for the operator, oldest first.
func (k *Keeper) Pending() []domain.ConfirmationGate {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]domain.ConfirmationGate, 0, len(k.gates))
	for _, gate := range k.gates {
		k.expireLocked(gate)
		if gate.State == domain.GatePending {
			out = append(out, *gate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Await blocks until the gate settles, the timeout elapses, or the
// kill switch fires. On approval the gate is consumed: removed so it
// can never authorize a second injection. Any other outcome returns
// the terminating error and discards the guarded action.
func (k *Keeper) Await(ctx context.Context, id string, kill domain.KillSwitchReader) error {
	ticker := time.NewTicker(awaitPoll)
	defer ticker.Stop()

	for {
		if kill != nil && kill.Triggered() {
			k.DenyAll()
			return domain.ErrAborted
		}

		k.mu.Lock()
		gate, ok := k.gates[id]
		if !ok {
			k.mu.Unlock()
			return &domain.GateDeniedError{GateID: id, State: domain.GateExpired}
		}
		k.expireLocked(gate)
		state := gate.State
		if state != domain.GatePending {
			delete(k.gates, id)
		}
		k.mu.Unlock()

		switch state {
		case domain.GateApproved:
			return nil
		case domain.GateDenied, domain.GateExpired:
			return &domain.GateDeniedError{GateID: id, State: state}
		}

		select {
		case <-ctx.Done():
			// Abandoning the wait denies the gate; the action must
			// never run without a live waiter.
			_ = k.Resolve(id, false)
			k.drop(id)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (k *Keeper) drop(id string) {
	k.mu.Lock()
	delete(k.gates, id)
	k.mu.Unlock()
}

// expireLocked transitions an overdue PENDING gate to EXPIRED exactly
// once. Caller holds k.mu.
func (k *Keeper) expireLocked(gate *domain.ConfirmationGate) {
	if gate.State != domain.GatePending {
		return
	}
	if k.now().Sub(gate.CreatedAt) > gate.Timeout {
		gate.State = domain.GateExpired
		k.recordLocked(gate)
	}
}

// recordLocked audits a terminal resolution. Caller holds k.mu.
func (k *Keeper) recordLocked(gate *domain.ConfirmationGate) {
	k.logger.Info("confirmation gate resolved",
		zap.String("gate", gate.ID),
		zap.String("state", string(gate.State)),
		zap.String("action", gate.Action.Describe()))
	if k.audit != nil {
		if err := k.audit.RecordGate(*gate); err != nil {
			k.logger.Warn("audit write failed", zap.Error(err))
		}
	}
}
