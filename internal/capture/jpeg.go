package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/seealln/seealln/internal/domain"
)

// EncodeJPEG renders a frame's raw RGBA pixels as JPEG at the given
// quality. Quality is assumed pre-clamped by the caller.
func EncodeJPEG(frame *domain.Frame, quality int) ([]byte, error) {
	if frame == nil || len(frame.Pixels) == 0 {
		return nil, fmt.Errorf("%w: empty frame", domain.ErrCapture)
	}
	img := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: frame.Stride,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
