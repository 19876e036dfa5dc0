package infra

import (
	"fmt"

	"github.com/go-vgo/robotgo"

	"github.com/seealln/seealln/internal/domain"
)

// RobotgoInjector implements domain.InputInjector with robotgo.
type RobotgoInjector struct{}

// NewInjector creates the real input injector.
func NewInjector() domain.InputInjector {
	return &RobotgoInjector{}
}

// MoveMouse moves the pointer to an absolute coordinate.
func (i *RobotgoInjector) MoveMouse(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

// Click moves to the coordinate and clicks the given button.
func (i *RobotgoInjector) Click(x, y int, button string) error {
	robotgo.Move(x, y)
	robotgo.Click(button)
	return nil
}

// KeyTap presses and releases a named key.
func (i *RobotgoInjector) KeyTap(key string) error {
	if err := robotgo.KeyTap(key); err != nil {
		return fmt.Errorf("key tap %q: %w", key, err)
	}
	return nil
}
