// Package control exposes the operator HTTP surface: health, snapshot,
// MJPEG stream, intent execution and the safety endpoints.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/capture"
	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
	"github.com/seealln/seealln/internal/guardrail"
	"github.com/seealln/seealln/internal/usecase"
	"github.com/seealln/seealln/internal/watchdog"
)

// Server wires the handlers over the runner's components.
type Server struct {
	cfg      config.Config
	capture  *capture.Service
	executor *usecase.Executor
	guard    *guardrail.Layer
	watchdog *watchdog.Supervisor
	stats    domain.ProcessStats
	logger   *zap.Logger

	http *http.Server
}

// NewServer builds the HTTP server. stats may be nil.
func NewServer(
	cfg config.Config,
	cap *capture.Service,
	exec *usecase.Executor,
	guard *guardrail.Layer,
	wd *watchdog.Supervisor,
	stats domain.ProcessStats,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		capture:  cap,
		executor: exec,
		guard:    guard,
		watchdog: wd,
		stats:    stats,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/intent/", s.handleIntent)
	mux.HandleFunc("/safety/kill", s.handleKill)
	mux.HandleFunc("/safety/reset", s.handleReset)
	mux.HandleFunc("/safety/status", s.handleSafetyStatus)
	mux.HandleFunc("/watchdog/reset", s.handleWatchdogReset)
	mux.HandleFunc("/gates", s.handleGates)
	mux.HandleFunc("/gates/resolve", s.handleGatesResolve)

	s.http = &http.Server{
		Addr:    cfg.Server.BindAddr,
		Handler: s.localOnly(mux),
	}
	return s
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", zap.String("addr", s.cfg.Server.BindAddr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// localOnly rejects proxied requests unless remote access was enabled
// deliberately. The loopback bind is the first line of defense; this
// header check keeps an accidental exposure from becoming blind
// remote control.
func (s *Server) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Server.AllowRemote && r.Header.Get("X-Forwarded-For") != "" {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"ok":    false,
				"error": "proxied requests not allowed",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func methodGuard(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"ok":    false,
			"error": "method not allowed",
		})
		return false
	}
	return true
}
