package guardrail

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/domain"
)

// KillSwitch is the process-wide abort flag. TRIGGERED is sticky until
// an explicit operator reset. Reads are a single atomic load so the
// executor can poll at every step boundary without contention.
type KillSwitch struct {
	state  atomic.Int32
	logger *zap.Logger

	// onTrigger runs once per trigger; the layer uses it to flush
	// pending gates to DENIED.
	onTrigger func()
}

// NewKillSwitch creates an ARMED switch.
func NewKillSwitch(logger *zap.Logger) *KillSwitch {
	return &KillSwitch{logger: logger}
}

// SetOnTrigger registers the trigger hook. Call before any concurrent use.
func (k *KillSwitch) SetOnTrigger(fn func()) { k.onTrigger = fn }

// Trigger moves the switch to TRIGGERED. Idempotent.
func (k *KillSwitch) Trigger() {
	if k.state.Swap(int32(domain.KillTriggered)) == int32(domain.KillTriggered) {
		return
	}
	k.logger.Warn("kill switch TRIGGERED; all action execution halted")
	if k.onTrigger != nil {
		k.onTrigger()
	}
}

// Reset re-arms the switch. Only an explicit operator call gets here.
func (k *KillSwitch) Reset() {
	if k.state.Swap(int32(domain.KillArmed)) == int32(domain.KillTriggered) {
		k.logger.Info("kill switch reset to ARMED")
	}
}

// Triggered reports whether the switch is TRIGGERED.
func (k *KillSwitch) Triggered() bool {
	return k.state.Load() == int32(domain.KillTriggered)
}

// State returns the current state value.
func (k *KillSwitch) State() domain.KillState {
	return domain.KillState(k.state.Load())
}
