// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
	"github.com/seealln/seealln/internal/perception"
	"github.com/seealln/seealln/internal/policy"
)

// Guard is the guardrail surface the executor needs.
type Guard interface {
	domain.ActionApprover

	// ScanForChallenge returns ErrHumanHandoff when normalized screen
	// text matches a login/MFA/CAPTCHA signature.
	ScanForChallenge(joined string) error

	// Region returns the locked rectangle.
	Region() domain.Region
}

// Executor interprets a named intent into perceive -> decide ->
// (guardrail-approved) act -> verify cycles. The desktop's pointer,
// keyboard and focus are one shared resource, so execution is strictly
// serialized: a request while one is in flight returns ErrBusy.
type Executor struct {
	frames     domain.FrameSource
	perception *perception.Adapter
	guard      Guard
	kill       domain.KillSwitchReader
	injector   domain.InputInjector
	plans      *policy.Registry
	cfg        config.ExecutorConfig
	logger     *zap.Logger

	busy atomic.Bool
}

// NewExecutor wires the executor.
func NewExecutor(
	frames domain.FrameSource,
	adapter *perception.Adapter,
	guard Guard,
	kill domain.KillSwitchReader,
	injector domain.InputInjector,
	plans *policy.Registry,
	cfg config.ExecutorConfig,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		frames:     frames,
		perception: adapter,
		guard:      guard,
		kill:       kill,
		injector:   injector,
		plans:      plans,
		cfg:        cfg,
		logger:     logger,
	}
}

// Busy reports whether an intent is in flight.
func (e *Executor) Busy() bool { return e.busy.Load() }

// Execute runs the named intent. The result always carries status,
// human-readable detail and steps completed; err is the terminating
// error, nil on full success.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]string) (domain.IntentResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return domain.IntentResult{
			Status: domain.StatusFailed,
			Detail: "another intent is executing",
		}, domain.ErrBusy
	}
	defer e.busy.Store(false)

	plan, err := e.plans.Get(name)
	if err != nil {
		return domain.IntentResult{Status: domain.StatusFailed, Detail: err.Error()}, err
	}

	e.logger.Info("intent started",
		zap.String("intent", plan.Name),
		zap.String("sensitivity", string(plan.Sensitivity)))

	var res domain.IntentResult
	if plan.Batch {
		res, err = e.runBatch(ctx, plan, params)
	} else {
		res, err = e.runPlan(ctx, plan)
	}

	e.logger.Info("intent finished",
		zap.String("intent", plan.Name),
		zap.String("status", string(res.Status)),
		zap.Int("steps_completed", res.StepsCompleted),
		zap.Bool("fallback_used", res.FallbackUsed))
	return res, err
}

func (e *Executor) runPlan(ctx context.Context, plan policy.Plan) (domain.IntentResult, error) {
	res := domain.IntentResult{Status: domain.StatusSuccess}

	if err := e.checkMarkers(ctx, plan); err != nil {
		return e.terminate(res, err)
	}

	for _, step := range plan.Steps {
		if err := e.stepBoundary(); err != nil {
			return e.terminate(res, err)
		}
		fallbackUsed, err := e.runStep(ctx, plan, step)
		if err != nil {
			return e.terminate(res, err)
		}
		res.FallbackUsed = res.FallbackUsed || fallbackUsed
		res.StepsCompleted++
	}

	res.Detail = fmt.Sprintf("completed %d step(s)", res.StepsCompleted)
	return res, nil
}

// runBatch repeats the plan's steps count times, recording one item
// per verified pass. An unchanged view after the retry budget ends the
// batch as Partial; an item is never counted without a verified change.
func (e *Executor) runBatch(ctx context.Context, plan policy.Plan, params map[string]string) (domain.IntentResult, error) {
	res := domain.IntentResult{Status: domain.StatusSuccess}

	count, err := batchCount(params)
	if err != nil {
		res.Status = domain.StatusFailed
		res.Detail = err.Error()
		return res, err
	}

	if err := e.checkMarkers(ctx, plan); err != nil {
		return e.terminate(res, err)
	}

	for i := 0; i < count; i++ {
		for _, step := range plan.Steps {
			if berr := e.stepBoundary(); berr != nil {
				return e.terminate(res, berr)
			}
			fallbackUsed, serr := e.runStep(ctx, plan, step)
			if serr != nil {
				if errors.Is(serr, domain.ErrVerificationTimeout) {
					// View never advanced: stop rather than loop or
					// double-count.
					res.Status = domain.StatusPartial
					res.Detail = fmt.Sprintf("captured %d of %d items; view stopped advancing", res.ItemsCaptured, count)
					return res, serr
				}
				return e.terminate(res, serr)
			}
			res.FallbackUsed = res.FallbackUsed || fallbackUsed
			res.StepsCompleted++
		}
		res.ItemsCaptured++
	}

	res.Detail = fmt.Sprintf("captured %d item(s)", res.ItemsCaptured)
	return res, nil
}

// runStep attempts the step's primary action, escalating through the
// fallbacks, with the whole cycle retried on fresh perception up to
// the retry limit. Returns whether a fallback performed the action.
func (e *Executor) runStep(ctx context.Context, plan policy.Plan, step policy.Step) (bool, error) {
	lastErr := error(nil)

	for attempt := 0; attempt <= e.cfg.RetryLimit; attempt++ {
		if err := e.stepBoundary(); err != nil {
			return false, err
		}

		frame, tokens, err := e.perceive(ctx)
		if err != nil {
			if !retryable(err) {
				return false, err
			}
			lastErr = err
			continue
		}
		baseline := contentHash(frame)

		candidates := append([]policy.ActionTemplate{step.Primary}, step.Fallbacks...)
		bound := false
		for ci, tmpl := range candidates {
			if err := e.stepBoundary(); err != nil {
				return false, err
			}

			action, ok := e.bind(tmpl, tokens, plan)
			if !ok {
				continue
			}
			bound = true

			if err := e.guard.Approve(ctx, action); err != nil {
				// Denial classes are never retried.
				return false, err
			}
			if err := e.inject(action); err != nil {
				lastErr = err
				continue
			}

			window := e.cfg.FallbackDelay()
			if ci == len(candidates)-1 {
				window = e.cfg.VerifyTimeout()
			}
			verified, verr := e.awaitVerify(ctx, step, baseline, window)
			if verr != nil {
				return false, verr
			}
			if verified {
				return ci > 0, nil
			}
			lastErr = fmt.Errorf("%w: %s after %q", domain.ErrVerificationTimeout, step.Verify, action.Describe())
		}

		if !bound {
			lastErr = fmt.Errorf("%w: no action target matched for step %q", domain.ErrPerception, step.Name)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: step %q", domain.ErrVerificationTimeout, step.Name)
	}
	return false, lastErr
}

// perceive snapshots the latest frame, interprets it, and screens for
// authentication challenges.
func (e *Executor) perceive(ctx context.Context) (*domain.Frame, []domain.OCRToken, error) {
	frame, err := e.frames.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrPerception, err)
	}
	tokens, err := e.perception.Interpret(ctx, frame)
	if err != nil {
		return nil, nil, err
	}
	if err := e.guard.ScanForChallenge(perception.JoinText(tokens)); err != nil {
		return nil, nil, err
	}
	return frame, tokens, nil
}

// checkMarkers fails fast when the plan's required screen is not
// visible, instead of acting on the wrong surface.
func (e *Executor) checkMarkers(ctx context.Context, plan policy.Plan) error {
	if len(plan.RequireMarkers) == 0 {
		// Still screen for challenges before the first action.
		_, _, err := e.perceive(ctx)
		return err
	}
	_, tokens, err := e.perceive(ctx)
	if err != nil {
		return err
	}
	if !perception.ContainsAll(perception.JoinText(tokens), plan.RequireMarkers) {
		return fmt.Errorf("%w: expected screen markers %v not visible", domain.ErrPerception, plan.RequireMarkers)
	}
	return nil
}

// bind resolves an action template to a concrete ActionStep using the
// current tokens. ok is false when the template's target is absent.
func (e *Executor) bind(tmpl policy.ActionTemplate, tokens []domain.OCRToken, plan policy.Plan) (domain.ActionStep, bool) {
	action := domain.ActionStep{
		Kind:        tmpl.Kind,
		Key:         tmpl.Key,
		Button:      tmpl.Button,
		Sensitivity: plan.Sensitivity,
		Intent:      plan.Name,
	}

	switch tmpl.Kind {
	case domain.ActionKeyPress, domain.ActionWait:
		return action, true
	case domain.ActionPointerMove, domain.ActionClick:
		region := e.guard.Region()
		if tmpl.TargetPattern != "" {
			tok, ok := e.perception.Locate(tmpl.TargetPattern, tokens)
			if !ok {
				return domain.ActionStep{}, false
			}
			// Token boxes are frame-relative; injection is absolute.
			action.X = region.X + tok.Box.X + tok.Box.W/2
			action.Y = region.Y + tok.Box.Y + tok.Box.H/2
			return action, true
		}
		action.X = region.X + int(tmpl.FracX*float64(region.W))
		action.Y = region.Y + int(tmpl.FracY*float64(region.H))
		return action, true
	default:
		return domain.ActionStep{}, false
	}
}

func (e *Executor) inject(action domain.ActionStep) error {
	var err error
	switch action.Kind {
	case domain.ActionPointerMove:
		err = e.injector.MoveMouse(action.X, action.Y)
	case domain.ActionClick:
		button := action.Button
		if button == "" {
			button = "left"
		}
		err = e.injector.Click(action.X, action.Y, button)
	case domain.ActionKeyPress:
		err = e.injector.KeyTap(action.Key)
	case domain.ActionWait:
		time.Sleep(action.Pause)
	}
	if err != nil {
		return fmt.Errorf("inject %s: %w", action.Describe(), err)
	}
	e.logger.Debug("action injected", zap.String("action", action.Describe()))
	return nil
}

// awaitVerify polls the verification condition within the window. The
// wait is cooperative: kill switch and context are checked every poll.
func (e *Executor) awaitVerify(ctx context.Context, step policy.Step, baseline uint64, window time.Duration) (bool, error) {
	if step.Verify == policy.VerifyNone {
		return true, nil
	}

	deadline := time.Now().Add(window)
	for {
		if e.kill.Triggered() {
			return false, domain.ErrAborted
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		frame, err := e.frames.Snapshot()
		if err == nil {
			switch step.Verify {
			case policy.VerifyContentChanged:
				if contentHash(frame) != baseline {
					return true, nil
				}
			case policy.VerifyTokenGone, policy.VerifyTokenPresent:
				tokens, perr := e.perception.Interpret(ctx, frame)
				if perr == nil {
					_, found := e.perception.Locate(step.VerifyPattern, tokens)
					if step.Verify == policy.VerifyTokenGone && !found {
						return true, nil
					}
					if step.Verify == policy.VerifyTokenPresent && found {
						return true, nil
					}
				}
			}
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(e.cfg.VerifyPoll())
	}
}

// stepBoundary is the defined safe point where the kill switch is
// observed, bounding abort latency to one step.
func (e *Executor) stepBoundary() error {
	if e.kill.Triggered() {
		return domain.ErrAborted
	}
	return nil
}

// terminate maps a terminating error onto the result per the
// propagation policy.
func (e *Executor) terminate(res domain.IntentResult, err error) (domain.IntentResult, error) {
	switch {
	case errors.Is(err, domain.ErrAborted):
		res.Status = domain.StatusAborted
	case errors.Is(err, domain.ErrHumanHandoff):
		res.Status = domain.StatusAborted
	case errors.Is(err, domain.ErrOutOfRegion), errors.Is(err, domain.ErrGuardrailDenied):
		res.Status = domain.StatusFailed
	default:
		if res.StepsCompleted > 0 {
			res.Status = domain.StatusPartial
		} else {
			res.Status = domain.StatusFailed
		}
	}
	res.Detail = err.Error()
	return res, err
}

// retryable reports whether an error class may be retried locally.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrPerception) || errors.Is(err, domain.ErrVerificationTimeout) {
		return true
	}
	return false
}

func contentHash(frame *domain.Frame) uint64 {
	return xxhash.Sum64(frame.Pixels)
}

func batchCount(params map[string]string) (int, error) {
	raw, ok := params["count"]
	if !ok {
		return 0, fmt.Errorf("capture_batch requires a count parameter")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count %q: must be a positive integer", raw)
	}
	return n, nil
}
