package infra

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seealln/seealln/internal/domain"
)

// TesseractEngine implements domain.OCREngine by shelling out to the
// tesseract binary with TSV output. The binary and lookup hook are
// injectable so availability handling is testable.
type TesseractEngine struct {
	binary    string
	languages []string
	lookPath  func(string) (string, error)
	runner    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewTesseractEngine creates an engine. Empty binary defaults to
// "tesseract"; empty languages default to eng+spa (mixed UI text).
func NewTesseractEngine(binary string, languages []string) *TesseractEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "tesseract"
	}
	if len(languages) == 0 {
		languages = []string{"eng", "spa"}
	}
	return &TesseractEngine{
		binary:    binary,
		languages: languages,
		lookPath:  exec.LookPath,
		runner: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Available reports whether the tesseract binary can be found.
func (t *TesseractEngine) Available() bool {
	_, err := t.lookPath(t.binary)
	return err == nil
}

// Recognize runs OCR over the frame and returns word tokens in
// reading order with frame-relative boxes.
func (t *TesseractEngine) Recognize(ctx context.Context, frame *domain.Frame) ([]domain.OCRToken, error) {
	tmp, err := writeFramePNG(frame)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	args := []string{tmp, "stdout", "-l", strings.Join(t.languages, "+"), "tsv"}
	out, err := t.runner(ctx, t.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}
	return parseTSV(out), nil
}

func writeFramePNG(frame *domain.Frame) (string, error) {
	img := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: frame.Stride,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	tmp, err := os.CreateTemp("", "seealln-frame-*.png")
	if err != nil {
		return "", err
	}
	path := filepath.Clean(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(path)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// parseTSV extracts word-level rows (level 5) from tesseract TSV:
// level page block par line word left top width height conf text.
func parseTSV(out []byte) []domain.OCRToken {
	var tokens []domain.OCRToken
	for _, line := range strings.Split(string(out), "\n") {
		cols := strings.Split(line, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])
		tokens = append(tokens, domain.OCRToken{
			Text:       text,
			Box:        domain.Region{X: left, Y: top, W: width, H: height},
			Confidence: conf / 100,
		})
	}
	return tokens
}
