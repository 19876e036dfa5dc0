package guardrail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
)

// Layer is the single choke point every proposed ActionStep passes
// through before injection. Check order: kill switch, region lock,
// payload screening, rate limit, then (for sensitive actions) the
// confirmation gate.
type Layer struct {
	region   *RegionLock
	gates    *Keeper
	kill     *KillSwitch
	detector *Detector
	limiter  *rate.Limiter
	audit    domain.AuditSink
	logger   *zap.Logger
}

// NewLayer wires the guardrails together. Triggering the kill switch
// implicitly denies all pending gates.
func NewLayer(cfg config.GuardrailConfig, region domain.Region, audit domain.AuditSink, logger *zap.Logger) *Layer {
	kill := NewKillSwitch(logger)
	gates := NewKeeper(cfg.GateTimeout(), audit, logger)
	kill.SetOnTrigger(func() { gates.DenyAll() })

	interval := cfg.RateLimitWindow() / time.Duration(maxInt(cfg.RateLimitActions, 1))

	return &Layer{
		region:   NewRegionLock(region),
		gates:    gates,
		kill:     kill,
		detector: NewDetector(cfg.ExtraChallengeSignatures),
		limiter:  rate.NewLimiter(rate.Every(interval), cfg.RateLimitActions),
		audit:    audit,
		logger:   logger,
	}
}

// Approve implements domain.ActionApprover.
func (l *Layer) Approve(ctx context.Context, action domain.ActionStep) error {
	if l.kill.Triggered() {
		return domain.ErrAborted
	}

	if err := l.region.CheckAction(action); err != nil {
		l.logger.Warn("action rejected by region lock",
			zap.String("action", action.Describe()))
		return err
	}

	if action.Kind == domain.ActionKeyPress && l.detector.SensitivePayload(action.Key) {
		return fmt.Errorf("%w: payload looks like credential entry", domain.ErrGuardrailDenied)
	}

	if !l.limiter.Allow() {
		l.logger.Warn("action rate limit exceeded",
			zap.String("action", action.Describe()))
		return fmt.Errorf("%w: action rate limit exceeded", domain.ErrGuardrailDenied)
	}

	if action.Sensitivity == domain.SensitivitySensitive {
		gate := l.gates.Propose(action)
		if err := l.gates.Await(ctx, gate.ID, l.kill); err != nil {
			return err
		}
	}

	if l.audit != nil {
		if err := l.audit.RecordAction(action); err != nil {
			l.logger.Warn("audit write failed", zap.Error(err))
		}
	}
	return nil
}

// ScanForChallenge checks normalized screen text for authentication
// challenges and returns ErrHumanHandoff on a match.
func (l *Layer) ScanForChallenge(joined string) error {
	if sig, hit := l.detector.Scan(joined); hit {
		return &domain.HandoffError{Signature: sig}
	}
	return nil
}

// Kill exposes the switch for the hotkey listener and safety endpoints.
func (l *Layer) Kill() *KillSwitch { return l.kill }

// Gates exposes the keeper for the operator endpoints.
func (l *Layer) Gates() *Keeper { return l.gates }

// Region returns the locked rectangle.
func (l *Layer) Region() domain.Region { return l.region.Region() }

// Shutdown flushes all pending gates to DENIED (teardown rule).
func (l *Layer) Shutdown() {
	if n := l.gates.DenyAll(); n > 0 {
		l.logger.Info("denied pending gates on shutdown", zap.Int("count", n))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
