// Package perception turns frames into decision-usable text tokens.
// It is the sole point where raw screen content becomes structured
// data; everything downstream operates on tokens, never on pixels.
package perception

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/domain"
)

// Adapter wraps the external OCR capability.
type Adapter struct {
	engine          domain.OCREngine
	confidenceFloor float64
	matchThreshold  float64
	logger          *zap.Logger
}

// NewAdapter creates a perception adapter. Tokens scoring below the
// confidence floor are ignored by Locate; matches scoring below the
// match threshold are treated as not found.
func NewAdapter(engine domain.OCREngine, confidenceFloor, matchThreshold float64, logger *zap.Logger) *Adapter {
	return &Adapter{
		engine:          engine,
		confidenceFloor: confidenceFloor,
		matchThreshold:  matchThreshold,
		logger:          logger,
	}
}

// Interpret runs OCR over a frame and returns the ordered tokens.
// Capability failure surfaces as ErrPerception, not a crash.
func (a *Adapter) Interpret(ctx context.Context, frame *domain.Frame) ([]domain.OCRToken, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", domain.ErrPerception)
	}
	if !a.engine.Available() {
		return nil, fmt.Errorf("%w: ocr engine unavailable", domain.ErrPerception)
	}
	tokens, err := a.engine.Recognize(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPerception, err)
	}
	return tokens, nil
}

// Locate finds the token best matching the pattern by normalized edit
// distance. Tokens below the confidence floor are skipped. The second
// return is false when nothing clears the match threshold.
func (a *Adapter) Locate(pattern string, tokens []domain.OCRToken) (domain.OCRToken, bool) {
	want := normalize(pattern)
	if want == "" {
		return domain.OCRToken{}, false
	}

	best := domain.OCRToken{}
	bestScore := 0.0
	for _, tok := range tokens {
		if tok.Confidence < a.confidenceFloor {
			continue
		}
		score := similarity(want, normalize(tok.Text))
		if score > bestScore {
			bestScore = score
			best = tok
		}
	}

	if bestScore < a.matchThreshold {
		return domain.OCRToken{}, false
	}
	a.logger.Debug("located token",
		zap.String("pattern", pattern),
		zap.String("text", best.Text),
		zap.Float64("score", bestScore))
	return best, true
}

// JoinText concatenates token texts for whole-screen scans such as
// challenge detection and screen-marker checks.
func JoinText(tokens []domain.OCRToken) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, tok.Text)
	}
	return normalize(strings.Join(parts, "\n"))
}

// ContainsAll reports whether every marker appears in the joined text.
func ContainsAll(joined string, markers []string) bool {
	for _, m := range markers {
		if !strings.Contains(joined, normalize(m)) {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// similarity is 1 - dist/len, with a floor at containment: a token
// that contains the pattern verbatim always scores at least 0.9.
func similarity(want, have string) float64 {
	if have == "" {
		return 0
	}
	if want == have {
		return 1
	}
	contains := strings.Contains(have, want)

	dist := levenshtein.ComputeDistance(want, have)
	longest := len([]rune(want))
	if l := len([]rune(have)); l > longest {
		longest = l
	}
	score := 1 - float64(dist)/float64(longest)
	if contains && score < 0.9 {
		score = 0.9
	}
	return score
}
