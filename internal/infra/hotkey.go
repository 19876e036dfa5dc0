package infra

import (
	"context"
	"strings"

	hook "github.com/robotn/gohook"
	"go.uber.org/zap"
)

// HotkeyListener watches for the kill-switch key combination globally.
// It runs concurrently with everything else and only flips an atomic
// flag, so triggering never contends with input injection.
type HotkeyListener struct {
	combo   []string
	trigger func()
	logger  *zap.Logger
}

// NewHotkeyListener parses a combo such as "ctrl+shift+esc".
func NewHotkeyListener(combo string, trigger func(), logger *zap.Logger) *HotkeyListener {
	parts := strings.Split(strings.ToLower(combo), "+")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return &HotkeyListener{combo: keys, trigger: trigger, logger: logger}
}

// Run blocks until the context is canceled, firing the trigger on
// every combo press.
func (l *HotkeyListener) Run(ctx context.Context) error {
	l.logger.Info("kill switch hotkey armed", zap.Strings("combo", l.combo))

	hook.Register(hook.KeyDown, l.combo, func(e hook.Event) {
		l.logger.Warn("kill switch hotkey pressed")
		l.trigger()
	})

	events := hook.Start()
	defer hook.End()

	done := make(chan struct{})
	go func() {
		<-hook.Process(events)
		close(done)
	}()

	select {
	case <-ctx.Done():
		hook.End()
		return ctx.Err()
	case <-done:
		return nil
	}
}
