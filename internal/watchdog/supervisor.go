// Package watchdog supervises the capture service under a bounded,
// backing-off restart policy.
package watchdog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
)

// Supervised is the service under watchdog control. Run blocks until
// the context is canceled or the service fails unrecoverably.
type Supervised interface {
	Run(ctx context.Context) error
	LastHeartbeat() time.Time
}

// Supervisor drives the RUNNING -> RESTARTING -> RUNNING machine with
// terminal FAILED. It probes liveness on its own schedule, independent
// of the capture loop's timing, and never has more than one restart in
// flight.
type Supervisor struct {
	cfg    config.WatchdogConfig
	svc    Supervised
	logger *zap.Logger

	// Clock is injectable so window accounting is testable.
	now func() time.Time

	mu          sync.Mutex
	state       domain.WatchdogState
	restarts    int
	windowStart time.Time
	lastRestart time.Time
	backoff     time.Duration

	resetCh chan struct{}
}

// NewSupervisor creates a supervisor for the given service.
func NewSupervisor(cfg config.WatchdogConfig, svc Supervised, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		svc:     svc,
		logger:  logger,
		now:     time.Now,
		state:   domain.WatchdogRunning,
		backoff: cfg.BackoffInitial(),
		resetCh: make(chan struct{}, 1),
	}
}

// Run supervises until the context is canceled. It returns ctx.Err()
// on shutdown; a FAILED supervisor keeps running, waiting for Reset.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.windowStart = s.now()
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(domain.WatchdogRunning)
		reason := s.superviseOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("capture service down", zap.Error(reason))

		if !s.recordCrash() {
			s.setState(domain.WatchdogFailed)
			s.logger.Error("restart budget exhausted, supervisor FAILED; manual reset required",
				zap.Int("restarts", s.Record().Restarts))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.resetCh:
				s.logger.Info("supervisor reset by operator")
				continue
			}
		}

		s.setState(domain.WatchdogRestarting)
		delay := s.nextBackoff()
		s.logger.Info("restarting capture service",
			zap.Duration("backoff", delay),
			zap.Int("restarts_in_window", s.Record().Restarts))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// superviseOnce runs the service until it exits or misses a heartbeat,
// and returns the failure reason.
func (s *Supervisor) superviseOnce(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	started := s.now()
	go func() {
		errCh <- s.svc.Run(runCtx)
	}()

	probe := time.NewTicker(s.cfg.ProbeInterval())
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-errCh
			return ctx.Err()

		case err := <-errCh:
			if err == nil {
				err = domain.ErrProcessCrash
			}
			return err

		case <-probe.C:
			hb := s.svc.LastHeartbeat()
			ref := hb
			if hb.IsZero() {
				// Not a single frame yet: grace period from start.
				ref = started
			}
			if s.now().Sub(ref) > s.cfg.HeartbeatTimeout() {
				cancel()
				<-errCh
				return domain.ErrProcessCrash
			}
			// Healthy and stable past the window: forgive old restarts.
			s.maybeResetWindow()
		}
	}
}

// recordCrash updates the rolling window counter. It returns false
// when the budget is exhausted and no restart may be attempted.
func (s *Supervisor) recordCrash() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.lastRestart.IsZero() && now.Sub(s.lastRestart) > s.cfg.RestartWindow() {
		s.restarts = 0
		s.windowStart = now
		s.backoff = s.cfg.BackoffInitial()
	}
	if s.restarts >= s.cfg.MaxRestarts {
		return false
	}
	s.restarts++
	s.lastRestart = now
	return true
}

func (s *Supervisor) maybeResetWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restarts == 0 || s.lastRestart.IsZero() {
		return
	}
	if s.now().Sub(s.lastRestart) > s.cfg.RestartWindow() {
		s.restarts = 0
		s.windowStart = s.now()
		s.backoff = s.cfg.BackoffInitial()
	}
}

// nextBackoff returns the current delay with +/-20% jitter and doubles
// the stored value up to the ceiling.
func (s *Supervisor) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.backoff
	s.backoff *= 2
	if ceiling := s.cfg.BackoffCeiling(); s.backoff > ceiling {
		s.backoff = ceiling
	}

	jitter := time.Duration(rand.Int63n(int64(base)/5+1)) - base/10
	return base + jitter
}

// Reset is the manual intervention that leaves the terminal FAILED
// state. It is a no-op in any other state.
func (s *Supervisor) Reset() bool {
	s.mu.Lock()
	if s.state != domain.WatchdogFailed {
		s.mu.Unlock()
		return false
	}
	s.restarts = 0
	s.windowStart = s.now()
	s.backoff = s.cfg.BackoffInitial()
	s.mu.Unlock()

	select {
	case s.resetCh <- struct{}{}:
	default:
	}
	return true
}

// State returns the current supervisor state.
func (s *Supervisor) State() domain.WatchdogState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record snapshots restart accounting for the health endpoint.
func (s *Supervisor) Record() domain.WatchdogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.WatchdogRecord{
		State:       s.state,
		Restarts:    s.restarts,
		WindowStart: s.windowStart,
		Backoff:     s.backoff,
		LastRestart: s.lastRestart,
	}
}

func (s *Supervisor) setState(st domain.WatchdogState) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Info("watchdog state change",
			zap.String("from", string(prev)),
			zap.String("to", string(st)))
	}
}
