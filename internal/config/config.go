// Package config loads and validates the runner configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seealln/seealln/internal/domain"
)

// DefaultFileName is looked up in the working directory when no
// explicit --config path is given.
const DefaultFileName = "seealln.yaml"

// Clamp bounds carried over from the stream prototype.
const (
	MinFPS     = 1
	MaxFPS     = 15
	MinQuality = 30
	MaxQuality = 85
)

// Config captures every user-adjustable knob.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Paths     PathsConfig     `yaml:"paths"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Source records where the configuration originated (defaults or a
	// file path), for the status command.
	Source string `yaml:"-"`
}

// ServerConfig controls the control-plane HTTP listener.
type ServerConfig struct {
	// BindAddr defaults to loopback. Binding anywhere else requires
	// AllowRemote as a deliberate, explicit override.
	BindAddr    string `yaml:"bind_addr"`
	AllowRemote bool   `yaml:"allow_remote"`
}

// CaptureConfig controls the frame producer.
type CaptureConfig struct {
	FPS     int           `yaml:"fps"`
	Quality int           `yaml:"quality"`
	Region  domain.Region `yaml:"region"` // zero means full primary display

	// MaxConsecutiveFailures is how many grab failures in a row count
	// as unrecoverable; the producer then exits for the watchdog.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// GuardrailConfig controls gates, the kill switch and rate limiting.
type GuardrailConfig struct {
	GateTimeoutSeconds int    `yaml:"gate_timeout_seconds"`
	KillSwitchCombo    string `yaml:"kill_switch_combo"` // e.g. "ctrl+shift+esc"

	// Runaway-loop brake: at most RateLimitActions injections per
	// RateLimitWindowSeconds.
	RateLimitActions       int `yaml:"rate_limit_actions"`
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`

	// SensitiveIntents overrides intents to sensitive, forcing a
	// confirmation gate for every action they produce.
	SensitiveIntents []string `yaml:"sensitive_intents"`

	// ExtraChallengeSignatures extends the built-in login/MFA/CAPTCHA
	// signature list.
	ExtraChallengeSignatures []string `yaml:"extra_challenge_signatures"`
}

// WatchdogConfig controls capture service supervision.
type WatchdogConfig struct {
	ProbeIntervalSeconds    int `yaml:"probe_interval_seconds"`
	HeartbeatTimeoutSeconds int `yaml:"heartbeat_timeout_seconds"`
	MaxRestarts             int `yaml:"max_restarts"`
	RestartWindowSeconds    int `yaml:"restart_window_seconds"`
	BackoffInitialMillis    int `yaml:"backoff_initial_ms"`
	BackoffCeilingMillis    int `yaml:"backoff_ceiling_ms"`
}

// ExecutorConfig controls retries and verification budgets.
type ExecutorConfig struct {
	RetryLimit           int `yaml:"retry_limit"`
	VerifyTimeoutMillis  int `yaml:"verify_timeout_ms"`
	VerifyPollMillis     int `yaml:"verify_poll_ms"`
	FallbackDelayMillis  int `yaml:"fallback_delay_ms"`
	ConfidenceFloorPct   int `yaml:"confidence_floor_pct"`   // tokens below are ignored
	MatchThresholdPct    int `yaml:"match_threshold_pct"`    // minimum fuzzy-match similarity
}

// PathsConfig controls filesystem locations.
type PathsConfig struct {
	DataDir string `yaml:"data_dir"` // key file + encrypted audit database
}

// LoggingConfig defines log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the baseline configuration used when no overrides
// are supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddr: "127.0.0.1:8765",
		},
		Capture: CaptureConfig{
			FPS:                    10,
			Quality:                60,
			MaxConsecutiveFailures: 5,
		},
		Guardrail: GuardrailConfig{
			GateTimeoutSeconds:     30,
			KillSwitchCombo:        "ctrl+shift+esc",
			RateLimitActions:       20,
			RateLimitWindowSeconds: 10,
		},
		Watchdog: WatchdogConfig{
			ProbeIntervalSeconds:    5,
			HeartbeatTimeoutSeconds: 10,
			MaxRestarts:             3,
			RestartWindowSeconds:    300,
			BackoffInitialMillis:    500,
			BackoffCeilingMillis:    30000,
		},
		Executor: ExecutorConfig{
			RetryLimit:          2,
			VerifyTimeoutMillis: 1200,
			VerifyPollMillis:    100,
			FallbackDelayMillis: 1200,
			ConfidenceFloorPct:  40,
			MatchThresholdPct:   75,
		},
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Source: "defaults",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".seealln"
	}
	return home + "/.seealln"
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults without error so first runs need no file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// Validate rejects configurations that would violate safety invariants.
func (c Config) Validate() error {
	host, _, err := net.SplitHostPort(c.Server.BindAddr)
	if err != nil {
		return fmt.Errorf("bind_addr %q: %w", c.Server.BindAddr, err)
	}
	if !c.Server.AllowRemote && !isLoopback(host) {
		return fmt.Errorf("bind_addr %q is not loopback; set allow_remote to override deliberately", c.Server.BindAddr)
	}
	if c.Capture.FPS < MinFPS || c.Capture.FPS > MaxFPS {
		return fmt.Errorf("fps %d outside [%d,%d]", c.Capture.FPS, MinFPS, MaxFPS)
	}
	if c.Capture.Quality < MinQuality || c.Capture.Quality > MaxQuality {
		return fmt.Errorf("quality %d outside [%d,%d]", c.Capture.Quality, MinQuality, MaxQuality)
	}
	if r := c.Capture.Region; !r.IsZero() && (r.W <= 0 || r.H <= 0) {
		return fmt.Errorf("region %s has non-positive size", r)
	}
	if c.Guardrail.GateTimeoutSeconds <= 0 {
		return fmt.Errorf("gate_timeout_seconds must be positive")
	}
	if c.Watchdog.MaxRestarts <= 0 {
		return fmt.Errorf("max_restarts must be positive")
	}
	if c.Executor.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must not be negative")
	}
	if strings.TrimSpace(c.Guardrail.KillSwitchCombo) == "" {
		return fmt.Errorf("kill_switch_combo must not be empty")
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Duration accessors for the integer fields above.

func (g GuardrailConfig) GateTimeout() time.Duration {
	return time.Duration(g.GateTimeoutSeconds) * time.Second
}

func (g GuardrailConfig) RateLimitWindow() time.Duration {
	return time.Duration(g.RateLimitWindowSeconds) * time.Second
}

func (w WatchdogConfig) ProbeInterval() time.Duration {
	return time.Duration(w.ProbeIntervalSeconds) * time.Second
}

func (w WatchdogConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(w.HeartbeatTimeoutSeconds) * time.Second
}

func (w WatchdogConfig) RestartWindow() time.Duration {
	return time.Duration(w.RestartWindowSeconds) * time.Second
}

func (w WatchdogConfig) BackoffInitial() time.Duration {
	return time.Duration(w.BackoffInitialMillis) * time.Millisecond
}

func (w WatchdogConfig) BackoffCeiling() time.Duration {
	return time.Duration(w.BackoffCeilingMillis) * time.Millisecond
}

func (e ExecutorConfig) VerifyTimeout() time.Duration {
	return time.Duration(e.VerifyTimeoutMillis) * time.Millisecond
}

func (e ExecutorConfig) VerifyPoll() time.Duration {
	return time.Duration(e.VerifyPollMillis) * time.Millisecond
}

func (e ExecutorConfig) FallbackDelay() time.Duration {
	return time.Duration(e.FallbackDelayMillis) * time.Millisecond
}

func (e ExecutorConfig) ConfidenceFloor() float64 {
	return float64(e.ConfidenceFloorPct) / 100
}

func (e ExecutorConfig) MatchThreshold() float64 {
	return float64(e.MatchThresholdPct) / 100
}
