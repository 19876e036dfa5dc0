package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
)

// Service is the frame producer. One continuously scheduled loop grabs
// the locked region at the configured rate, keeps the latest frame for
// synchronous snapshots, and fans frames out to stream subscribers.
//
// Recoverable grab failures are logged and retried on the next tick;
// a run of consecutive failures is treated as unrecoverable and ends
// Run with ErrCapture, which the watchdog answers with a restart.
type Service struct {
	cfg     config.CaptureConfig
	region  domain.Region
	grabber domain.ScreenGrabber
	bus     *Bus
	logger  *zap.Logger

	mu     sync.RWMutex
	latest *domain.Frame

	seq       atomic.Uint64
	heartbeat atomic.Int64 // unix nanos of last successful tick
}

// NewService creates a capture service for the given locked region.
func NewService(cfg config.CaptureConfig, region domain.Region, grabber domain.ScreenGrabber, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		region:  region,
		grabber: grabber,
		bus:     NewBus(),
		logger:  logger,
	}
}

// Region returns the locked region this service captures.
func (s *Service) Region() domain.Region { return s.region }

// Run drives the capture loop until the context is canceled or the
// grabber fails unrecoverably.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("capture service started",
		zap.String("region", s.region.String()),
		zap.Int("fps", s.cfg.FPS))

	failures := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("capture service stopping")
			return ctx.Err()

		case <-ticker.C:
			frame, err := s.grabber.Grab(s.region)
			if err != nil {
				failures++
				s.logger.Warn("frame grab failed",
					zap.Int("consecutive", failures),
					zap.Error(err))
				if failures >= s.cfg.MaxConsecutiveFailures {
					return fmt.Errorf("%w: %d consecutive grab failures: %v",
						domain.ErrCapture, failures, err)
				}
				continue
			}
			failures = 0

			frame.Seq = s.seq.Add(1)
			s.mu.Lock()
			s.latest = frame
			s.mu.Unlock()
			s.heartbeat.Store(time.Now().UnixNano())

			s.bus.Publish(frame)
		}
	}
}

// Snapshot returns the most recent frame synchronously.
func (s *Service) Snapshot() (*domain.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, fmt.Errorf("%w: no frame captured yet", domain.ErrCapture)
	}
	return s.latest, nil
}

// Subscribe attaches a stream consumer with a bounded buffer.
func (s *Service) Subscribe(buffer int) *Subscription {
	return s.bus.Subscribe(buffer)
}

// Stats exposes fan-out delivery counters.
func (s *Service) Stats() BusStats { return s.bus.Stats() }

// LastHeartbeat returns when the loop last produced a frame. The
// watchdog probes this independently of the loop's own timing.
func (s *Service) LastHeartbeat() time.Time {
	ns := s.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close shuts down the fan-out bus.
func (s *Service) Close() { s.bus.Close() }
