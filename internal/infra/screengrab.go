// Package infra implements infrastructure concerns (display capture,
// input injection, hotkeys, process stats, encrypted audit storage).
package infra

import (
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/seealln/seealln/internal/domain"
)

// DisplayGrabber implements domain.ScreenGrabber against the real
// display using kbinani/screenshot.
type DisplayGrabber struct{}

// NewDisplayGrabber creates a grabber for the primary display.
func NewDisplayGrabber() domain.ScreenGrabber {
	return &DisplayGrabber{}
}

// Grab captures the given screen rectangle as raw RGBA.
func (g *DisplayGrabber) Grab(region domain.Region) (*domain.Frame, error) {
	img, err := screenshot.CaptureRect(image.Rect(region.X, region.Y, region.X+region.W, region.Y+region.H))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCapture, err)
	}
	return &domain.Frame{
		CapturedAt: time.Now(),
		Region:     region,
		Width:      img.Rect.Dx(),
		Height:     img.Rect.Dy(),
		Stride:     img.Stride,
		Pixels:     img.Pix,
	}, nil
}

// DisplayBounds returns the primary display rectangle.
func (g *DisplayGrabber) DisplayBounds() (domain.Region, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return domain.Region{}, fmt.Errorf("%w: no active display", domain.ErrCapture)
	}
	b := screenshot.GetDisplayBounds(0)
	return domain.Region{X: b.Min.X, Y: b.Min.Y, W: b.Dx(), H: b.Dy()}, nil
}
