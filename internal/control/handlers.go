package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/capture"
	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
)

// confirmHeader must carry "yes" on destructive resets.
const confirmHeader = "X-Seealln-Confirm"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"bind": s.cfg.Server.BindAddr,
		"endpoints": map[string]string{
			"health":   "/health",
			"snapshot": "/snapshot.jpg",
			"stream":   "/stream?fps=10&q=60",
			"intent":   "/intent/{name}",
			"safety":   "/safety/status",
		},
		"note": "Local-only automation runner. Do not expose publicly.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}

	hb := s.capture.LastHeartbeat()
	captureOK := !hb.IsZero() && time.Since(hb) < s.cfg.Watchdog.HeartbeatTimeout()

	body := map[string]any{
		"ok": captureOK && s.watchdog.State() != domain.WatchdogFailed,
		"capture": map[string]any{
			"alive":          captureOK,
			"last_heartbeat": hb,
			"region":         s.guard.Region().String(),
		},
		"watchdog": map[string]any{
			"state":    string(s.watchdog.State()),
			"restarts": s.watchdog.Record().Restarts,
		},
		"executor": map[string]any{
			"busy": s.executor.Busy(),
		},
		"kill_switch": s.guard.Kill().State().String(),
	}
	if s.stats != nil {
		if cpu, rss, err := s.stats.Stats(); err == nil {
			body["process"] = map[string]any{"cpu_percent": cpu, "rss_bytes": rss}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	frame, err := s.capture.Snapshot()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	jpg, err := capture.EncodeJPEG(frame, s.cfg.Capture.Quality)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(jpg)
}

// handleStream serves multipart/x-mixed-replace at the requested rate
// and quality, clamped to the configured maxima. The producer is never
// blocked: slow clients shed frames in their bounded buffer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}

	fps := clampQueryInt(r, "fps", s.cfg.Capture.FPS, config.MinFPS, config.MaxFPS)
	quality := clampQueryInt(r, "q", s.cfg.Capture.Quality, config.MinQuality, config.MaxQuality)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "streaming unsupported"})
		return
	}

	const boundary = "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	sub := s.capture.Subscribe(4)
	defer sub.Cancel()

	interval := time.Second / time.Duration(fps)
	last := time.Time{}
	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-sub.C:
			if !open {
				return
			}
			// Pace down to the requested rate.
			if since := time.Since(last); since < interval {
				continue
			}
			jpg, err := capture.EncodeJPEG(frame, quality)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpg)); err != nil {
				return
			}
			if _, err := w.Write(jpg); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
			last = time.Now()
		}
	}
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/intent/")
	if name == "" || strings.Contains(name, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "intent name missing"})
		return
	}

	// An empty or malformed body means no parameters.
	params := map[string]string{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&params)
	}

	result, err := s.executor.Execute(r.Context(), name, params)
	status := http.StatusOK
	switch {
	case errors.Is(err, domain.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrIntentUnknown):
		status = http.StatusNotFound
	}
	if err != nil {
		s.logger.Warn("intent request ended with error",
			zap.String("intent", name),
			zap.String("status", string(result.Status)),
			zap.Error(err))
	}
	writeJSON(w, status, result)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	s.guard.Kill().Trigger()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "kill_switch": "TRIGGERED"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	if !confirmed(r) {
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{
			"ok":    false,
			"error": fmt.Sprintf("missing %s: yes", confirmHeader),
		})
		return
	}
	s.guard.Kill().Reset()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "kill_switch": "ARMED"})
}

func (s *Server) handleSafetyStatus(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"kill_switch":   s.guard.Kill().State().String(),
		"region":        s.guard.Region(),
		"pending_gates": len(s.guard.Gates().Pending()),
	})
}

func (s *Server) handleWatchdogReset(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	if !confirmed(r) {
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{
			"ok":    false,
			"error": fmt.Sprintf("missing %s: yes", confirmHeader),
		})
		return
	}
	if !s.watchdog.Reset() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":    false,
			"error": "watchdog is not in FAILED state",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "watchdog": "RUNNING"})
}

func (s *Server) handleGates(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	pending := s.guard.Gates().Pending()
	out := make([]map[string]any, 0, len(pending))
	for _, g := range pending {
		out = append(out, map[string]any{
			"id":         g.ID,
			"action":     g.Action.Describe(),
			"intent":     g.Action.Intent,
			"created_at": g.CreatedAt,
			"timeout":    g.Timeout.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "gates": out})
}

type resolveRequest struct {
	ID      string `json:"id"`
	All     bool   `json:"all"`
	Approve bool   `json:"approve"`
}

// handleGatesResolve settles one gate, or every pending gate as a
// batch. A batch approval may cover heterogeneous action kinds: the
// operator reviews each gate's description, and the executor still
// injects and verifies each action individually.
func (s *Server) handleGatesResolve(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}

	if req.All {
		n := s.guard.Gates().ResolveAll(req.Approve)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resolved": n})
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "id or all required"})
		return
	}
	if err := s.guard.Gates().Resolve(req.ID, req.Approve); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resolved": 1})
}

func confirmed(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(confirmHeader), "yes")
}

func clampQueryInt(r *http.Request, key string, def, lo, hi int) int {
	v := def
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			v = n
		}
	}
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}
