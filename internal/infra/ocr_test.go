package infra

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seealln/seealln/internal/domain"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t640\t480\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t50\t14\t96.5\tInbox\n" +
	"5\t1\t1\t1\t1\t2\t70\t20\t40\t14\t88.0\tNext\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t30\t14\t-1\t\n" +
	"5\t1\t1\t1\t2\t2\t10\t60\t30\t14\t42.0\t   \n"

func TestParseTSVWordRows(t *testing.T) {
	tokens := parseTSV([]byte(sampleTSV))
	require.Len(t, tokens, 2)

	assert.Equal(t, "Inbox", tokens[0].Text)
	assert.Equal(t, domain.Region{X: 10, Y: 20, W: 50, H: 14}, tokens[0].Box)
	assert.InDelta(t, 0.965, tokens[0].Confidence, 1e-9)

	assert.Equal(t, "Next", tokens[1].Text)
	assert.InDelta(t, 0.88, tokens[1].Confidence, 1e-9)
}

func TestParseTSVEmptyOutput(t *testing.T) {
	assert.Empty(t, parseTSV(nil))
	assert.Empty(t, parseTSV([]byte("garbage with no tabs")))
}

func TestAvailableUsesLookPath(t *testing.T) {
	engine := NewTesseractEngine("", nil)
	engine.lookPath = func(name string) (string, error) {
		assert.Equal(t, "tesseract", name)
		return "/usr/bin/tesseract", nil
	}
	assert.True(t, engine.Available())

	engine.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assert.False(t, engine.Available())
}

func TestRecognizeInvokesBinary(t *testing.T) {
	engine := NewTesseractEngine("tesseract", []string{"eng", "spa"})

	var gotArgs []string
	engine.runner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "tesseract", name)
		gotArgs = args
		return []byte(sampleTSV), nil
	}

	frame := &domain.Frame{
		Width:  4,
		Height: 4,
		Stride: 16,
		Pixels: make([]byte, 64),
	}
	tokens, err := engine.Recognize(context.Background(), frame)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	require.Len(t, gotArgs, 5)
	assert.Equal(t, "stdout", gotArgs[1])
	assert.Equal(t, "-l", gotArgs[2])
	assert.Equal(t, "eng+spa", gotArgs[3])
	assert.Equal(t, "tsv", gotArgs[4])
	assert.True(t, strings.HasSuffix(gotArgs[0], ".png"))
}

func TestRecognizeBinaryFailure(t *testing.T) {
	engine := NewTesseractEngine("", nil)
	engine.runner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}

	frame := &domain.Frame{Width: 2, Height: 2, Stride: 8, Pixels: make([]byte, 32)}
	_, err := engine.Recognize(context.Background(), frame)
	assert.Error(t, err)
}
