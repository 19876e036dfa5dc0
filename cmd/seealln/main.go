// Package main is the CLI entry point for seealln.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seealln/seealln/internal/capture"
	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/control"
	"github.com/seealln/seealln/internal/domain"
	"github.com/seealln/seealln/internal/guardrail"
	"github.com/seealln/seealln/internal/infra"
	"github.com/seealln/seealln/internal/perception"
	"github.com/seealln/seealln/internal/policy"
	"github.com/seealln/seealln/internal/usecase"
	"github.com/seealln/seealln/internal/watchdog"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seealln",
	Short: "Local-only desktop automation runner with guardrails",
	Long: `seealln captures the screen (or a locked region), makes on-screen
content legible via OCR, and executes named intents through a guarded
perceive -> decide -> act -> verify loop.

Safety first: region lock, confirmation gates for sensitive actions,
a global kill switch hotkey, and a supervised capture service. The
control endpoints bind to loopback only unless explicitly overridden.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture service, watchdog and control endpoints",
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running instance's health endpoint",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName, "Path to YAML config")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	grabber := infra.NewDisplayGrabber()
	region, err := resolveRegion(cfg, grabber)
	if err != nil {
		return err
	}
	logger.Info("region lock resolved", zap.String("region", region.String()))

	keys := infra.NewFileKeyProvider(cfg.Paths.DataDir)
	key, err := keys.EnsureKey()
	if err != nil {
		return err
	}
	audit, err := infra.NewAuditStore(cfg.Paths.DataDir, key)
	if err != nil {
		return err
	}
	defer audit.Close()

	guard := guardrail.NewLayer(cfg.Guardrail, region, audit, logger)
	defer guard.Shutdown()

	captureSvc := capture.NewService(cfg.Capture, region, grabber, logger)
	defer captureSvc.Close()
	supervisor := watchdog.NewSupervisor(cfg.Watchdog, captureSvc, logger)

	engine := infra.NewTesseractEngine("", nil)
	adapter := perception.NewAdapter(engine,
		cfg.Executor.ConfidenceFloor(), cfg.Executor.MatchThreshold(), logger)

	plans := policy.NewRegistry(cfg.Guardrail.SensitiveIntents)
	executor := usecase.NewExecutor(
		captureSvc, adapter, guard, guard.Kill(), infra.NewInjector(),
		plans, cfg.Executor, logger)

	hotkey := infra.NewHotkeyListener(cfg.Guardrail.KillSwitchCombo, guard.Kill().Trigger, logger)

	stats, err := infra.NewSelfStats()
	if err != nil {
		logger.Warn("process stats unavailable", zap.Error(err))
		stats = nil
	}
	server := control.NewServer(cfg, captureSvc, executor, guard, supervisor, stats, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() { errCh <- supervisor.Run(ctx) }()
	go func() { errCh <- hotkey.Run(ctx) }()
	go func() { errCh <- server.Run(ctx) }()

	logger.Info("seealln started",
		zap.String("version", Version),
		zap.String("config", cfg.Source),
		zap.String("bind", cfg.Server.BindAddr))

	err = <-errCh
	stop()
	if err != nil && ctx.Err() == nil {
		logger.Error("component failed, shutting down", zap.Error(err))
	}
	// Give the remaining components a moment to unwind.
	drain(errCh, 2, 3*time.Second)
	logger.Info("seealln stopped")
	return nil
}

func drain(errCh <-chan error, n int, timeout time.Duration) {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-errCh:
		case <-deadline:
			return
		}
	}
}

func resolveRegion(cfg config.Config, grabber domain.ScreenGrabber) (domain.Region, error) {
	display, err := grabber.DisplayBounds()
	if err != nil {
		return domain.Region{}, err
	}
	region := cfg.Capture.Region
	if region.IsZero() {
		return display, nil
	}
	// The locked region must be fully contained in the physical screen.
	if !region.Within(display) {
		return domain.Region{}, fmt.Errorf("region %s exceeds display bounds %s", region, display)
	}
	return region, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + cfg.Server.BindAddr + "/health")
	if err != nil {
		fmt.Println("seealln is not running")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("seealln %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
