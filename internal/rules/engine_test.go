package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/umbragrid/server/internal/vision"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vision.lua"), []byte(body), 0o644))
	return dir
}

func newEngine(t *testing.T, body string) *Engine {
	t.Helper()
	e, err := NewEngine(writeScript(t, body), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestGradeVisibility(t *testing.T) {
	e := newEngine(t, `
function grade_visibility(ctx)
    if not ctx.has_los then
        return { state = "hidden" }
    end
    if ctx.target_light >= 0.5 then
        return { state = "observed" }
    end
    return { state = "undetected" }
end
`)

	st, err := e.GradeVisibility(GradeContext{HasLOS: true, TargetLight: 0.8})
	require.NoError(t, err)
	assert.Equal(t, vision.Observed, st)

	st, err = e.GradeVisibility(GradeContext{HasLOS: true, TargetLight: 0.1})
	require.NoError(t, err)
	assert.Equal(t, vision.Undetected, st)

	st, err = e.GradeVisibility(GradeContext{HasLOS: false, Sensed: true, TargetLight: 0.8})
	require.NoError(t, err)
	assert.Equal(t, vision.Hidden, st)
}

func TestGradeVisibilityErrors(t *testing.T) {
	t.Run("missing function", func(t *testing.T) {
		e := newEngine(t, `-- nothing defined`)
		_, err := e.GradeVisibility(GradeContext{})
		assert.Error(t, err)
	})

	t.Run("script raises", func(t *testing.T) {
		e := newEngine(t, `
function grade_visibility(ctx)
    error("rules data missing")
end
`)
		_, err := e.GradeVisibility(GradeContext{})
		assert.Error(t, err)
	})

	t.Run("non-table return", func(t *testing.T) {
		e := newEngine(t, `
function grade_visibility(ctx)
    return "observed"
end
`)
		_, err := e.GradeVisibility(GradeContext{})
		assert.Error(t, err)
	})

	t.Run("unknown state", func(t *testing.T) {
		e := newEngine(t, `
function grade_visibility(ctx)
    return { state = "translucent" }
end
`)
		_, err := e.GradeVisibility(GradeContext{})
		assert.Error(t, err)
	})
}

func TestPostprocessVisibility(t *testing.T) {
	e := newEngine(t, `
function postprocess_visibility(ctx)
    if ctx.target_emits and ctx.state == "hidden" then
        return { state = "concealed" }
    end
    return nil
end
`)

	st, changed := e.PostprocessVisibility(vision.Hidden, GradeContext{TargetEmitsLight: true})
	assert.True(t, changed)
	assert.Equal(t, vision.Concealed, st)

	st, changed = e.PostprocessVisibility(vision.Hidden, GradeContext{})
	assert.False(t, changed)
	assert.Equal(t, vision.Hidden, st)
}

func TestPostprocessVisibilityLenient(t *testing.T) {
	t.Run("missing function is a no-op", func(t *testing.T) {
		e := newEngine(t, `-- nothing defined`)
		st, changed := e.PostprocessVisibility(vision.Hidden, GradeContext{})
		assert.False(t, changed)
		assert.Equal(t, vision.Hidden, st)
	})

	t.Run("script error is a no-op", func(t *testing.T) {
		e := newEngine(t, `
function postprocess_visibility(ctx)
    error("boom")
end
`)
		st, changed := e.PostprocessVisibility(vision.Concealed, GradeContext{})
		assert.False(t, changed)
		assert.Equal(t, vision.Concealed, st)
	})
}

func TestNewEngineBadScript(t *testing.T) {
	_, err := NewEngine(writeScript(t, `this is not lua (`), zap.NewNop())
	assert.Error(t, err)
}

func TestNewEngineMissingDir(t *testing.T) {
	e, err := NewEngine("/nonexistent/scripts", zap.NewNop())
	require.NoError(t, err, "missing script dir is tolerated")
	defer e.Close()
	_, err = e.GradeVisibility(GradeContext{})
	assert.Error(t, err)
}
