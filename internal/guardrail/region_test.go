package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seealln/seealln/internal/domain"
)

func TestCheckPointInsideAndBorders(t *testing.T) {
	l := NewRegionLock(domain.Region{X: 100, Y: 50, W: 200, H: 100})

	assert.NoError(t, l.CheckPoint(100, 50))  // inclusive min
	assert.NoError(t, l.CheckPoint(299, 149)) // last inside point
	assert.Error(t, l.CheckPoint(300, 149))   // exclusive max
	assert.Error(t, l.CheckPoint(99, 50))
	assert.Error(t, l.CheckPoint(0, 0))
}

func TestCheckPointReportsCoordinate(t *testing.T) {
	l := NewRegionLock(domain.Region{X: 0, Y: 0, W: 10, H: 10})

	err := l.CheckPoint(50, 60)
	require.Error(t, err)
	var oor *domain.OutOfRegionError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 50, oor.X)
	assert.Equal(t, 60, oor.Y)
	assert.ErrorIs(t, err, domain.ErrOutOfRegion)
}

func TestCheckActionOnlyCoordinateKinds(t *testing.T) {
	l := NewRegionLock(domain.Region{X: 0, Y: 0, W: 10, H: 10})

	assert.Error(t, l.CheckAction(domain.ActionStep{Kind: domain.ActionClick, X: 99, Y: 99}))
	assert.Error(t, l.CheckAction(domain.ActionStep{Kind: domain.ActionPointerMove, X: 99, Y: 99}))

	// No coordinate, nothing to confine.
	assert.NoError(t, l.CheckAction(domain.ActionStep{Kind: domain.ActionKeyPress, Key: "down"}))
	assert.NoError(t, l.CheckAction(domain.ActionStep{Kind: domain.ActionWait}))
}
