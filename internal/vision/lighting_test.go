package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lightingHarness struct {
	env          Environment
	ambientCalls int
}

func (h *lightingHarness) envFunc() Environment { return h.env }

func (h *lightingHarness) ambientFunc(p Pos) (float64, bool) {
	h.ambientCalls++
	return p.X / 1000, true
}

func lightingSnap(entities ...Entity) *PositionSnapshot {
	return BuildPositionSnapshot(entities, testPositions, 100)
}

func TestLightingPrecomputeBasic(t *testing.T) {
	h := &lightingHarness{}
	l := NewLighting(h.envFunc, h.ambientFunc, 0, 0, time.Second)

	entities := []Entity{placed("a", 100, 0), placed("b", 500, 0)}
	levels, diag := l.Precompute(entities, lightingSnap(entities...))
	require.NotNil(t, levels)
	assert.Equal(t, 2, diag.Recomputed)
	assert.Equal(t, 0, diag.Reused)
	assert.False(t, diag.FastPath)

	lv, ok := levels.Level("a")
	assert.True(t, ok)
	assert.InDelta(t, 0.1, lv, 1e-9)
	_, ok = levels.Level("missing")
	assert.False(t, ok)
}

func TestLightingNilOracle(t *testing.T) {
	l := NewLighting(nil, nil, 0, 0, time.Second)
	levels, diag := l.Precompute([]Entity{placed("a", 0, 0)}, lightingSnap(placed("a", 0, 0)))
	assert.Nil(t, levels)
	assert.Zero(t, diag.Recomputed)

	_, ok := levels.Level("a")
	assert.False(t, ok, "nil snapshot degrades to miss")
}

func TestLightingBurstFastPath(t *testing.T) {
	h := &lightingHarness{}
	l := NewLighting(h.envFunc, h.ambientFunc, 200*time.Millisecond, 0, time.Second)

	entities := []Entity{placed("a", 100, 0)}
	snap := lightingSnap(entities...)
	first, _ := l.Precompute(entities, snap)
	second, diag := l.Precompute(entities, snap)

	assert.True(t, diag.FastPath)
	assert.Same(t, first, second)
	assert.Equal(t, 1, h.ambientCalls, "fast path never touches the ambient oracle")
}

func TestLightingBurstBrokenByMovement(t *testing.T) {
	h := &lightingHarness{}
	l := NewLighting(h.envFunc, h.ambientFunc, 200*time.Millisecond, 0, time.Second)

	l.Precompute([]Entity{placed("a", 100, 0)}, lightingSnap(placed("a", 100, 0)))
	// a moved a full fine step
	moved := placed("a", 300, 0)
	_, diag := l.Precompute([]Entity{moved}, lightingSnap(moved))
	assert.False(t, diag.FastPath)
	assert.Equal(t, 1, diag.Recomputed)
}

func TestLightingReuseWhenEnvironmentUnchanged(t *testing.T) {
	h := &lightingHarness{}
	// burst window zero so the second call takes the fingerprint path
	l := NewLighting(h.envFunc, h.ambientFunc, 0, 0, time.Second)

	still := placed("still", 100, 0)
	mover := placed("mover", 500, 0)
	l.Precompute([]Entity{still, mover}, lightingSnap(still, mover))

	movedMover := placed("mover", 900, 0)
	_, diag := l.Precompute([]Entity{still, movedMover}, lightingSnap(still, movedMover))
	assert.False(t, diag.Changed)
	assert.Equal(t, 1, diag.Reused, "unmoved entity keeps its level")
	assert.Equal(t, 1, diag.Recomputed, "moved entity is recomputed")
}

func TestLightingEnvironmentChangeRecomputesAll(t *testing.T) {
	h := &lightingHarness{}
	l := NewLighting(h.envFunc, h.ambientFunc, 0, 0, time.Second)

	entities := []Entity{placed("a", 100, 0), placed("b", 500, 0)}
	l.Precompute(entities, lightingSnap(entities...))

	h.env.Darkness = 0.75
	_, diag := l.Precompute(entities, lightingSnap(entities...))
	assert.True(t, diag.Changed)
	assert.Equal(t, 0, diag.Reused)
	assert.Equal(t, 2, diag.Recomputed)
}

func TestLightingInvalidate(t *testing.T) {
	h := &lightingHarness{}
	l := NewLighting(h.envFunc, h.ambientFunc, time.Minute, time.Minute, 30*time.Millisecond)

	entities := []Entity{placed("a", 100, 0)}
	l.Precompute(entities, lightingSnap(entities...))

	l.Invalidate()
	assert.True(t, l.ForceFreshActive())

	_, diag := l.Precompute(entities, lightingSnap(entities...))
	assert.True(t, diag.Changed)
	assert.False(t, diag.FastPath, "forced refresh bypasses the burst window")
	assert.Equal(t, 1, diag.Recomputed)

	time.Sleep(40 * time.Millisecond)
	assert.False(t, l.ForceFreshActive(), "cooldown is a timestamp window, no timer involved")
}

func TestFingerprintEnvironment(t *testing.T) {
	env := Environment{
		Darkness: 0.5,
		Sources: []EnvSource{
			{ID: "torch", X: 10, Y: 20, Bright: 20, Dim: 40},
			{ID: "lamp", X: 50, Y: 60, Bright: 30, Dim: 60},
		},
		Regions: []EnvRegion{
			{ID: "crypt", X1: 0, Y1: 0, X2: 500, Y2: 500, Darkness: 1},
		},
	}
	fp := FingerprintEnvironment(env)
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, FingerprintEnvironment(env), "deterministic")

	// source order does not matter
	shuffled := env
	shuffled.Sources = []EnvSource{env.Sources[1], env.Sources[0]}
	assert.Equal(t, fp, FingerprintEnvironment(shuffled))

	darker := env
	darker.Darkness = 0.6
	assert.NotEqual(t, fp, FingerprintEnvironment(darker))

	hidden := env
	hidden.Sources = []EnvSource{env.Sources[0], {ID: "lamp", X: 50, Y: 60, Bright: 30, Dim: 60, Hidden: true}}
	assert.NotEqual(t, fp, FingerprintEnvironment(hidden))
}
