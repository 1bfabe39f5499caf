package rules

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/umbragrid/server/internal/vision"
)

// Engine wraps a single gopher-lua VM for visibility rule evaluation.
// Single-goroutine access only (batch loop). Hot-reload planned via atomic swap.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load vision scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// GradeContext holds pre-packed data for one directed visibility grading.
type GradeContext struct {
	Observer         string
	Target           string
	Distance         float64
	TargetLight      float64 // ambient light at the target, -1 = unknown
	HasLOS           bool
	Sensed           bool // detected via a non-visual sense
	TargetEmitsLight bool
}

func (e *Engine) gradeTable(ctx GradeContext, state vision.State, withState bool) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("observer", lua.LString(ctx.Observer))
	t.RawSetString("target", lua.LString(ctx.Target))
	t.RawSetString("distance", lua.LNumber(ctx.Distance))
	t.RawSetString("target_light", lua.LNumber(ctx.TargetLight))
	t.RawSetString("has_los", lua.LBool(ctx.HasLOS))
	t.RawSetString("sensed", lua.LBool(ctx.Sensed))
	t.RawSetString("target_emits", lua.LBool(ctx.TargetEmitsLight))
	if withState {
		t.RawSetString("state", lua.LString(state.String()))
	}
	return t
}

// GradeVisibility calls the Lua grade_visibility function. Unlike the
// lenient bridges, grading failures propagate: the batch layer isolates
// them per direction instead of silently defaulting.
func (e *Engine) GradeVisibility(ctx GradeContext) (vision.State, error) {
	fn := e.vm.GetGlobal("grade_visibility")
	if fn == lua.LNil {
		return vision.Observed, fmt.Errorf("lua function grade_visibility not found")
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.gradeTable(ctx, 0, false)); err != nil {
		return vision.Observed, fmt.Errorf("lua grade_visibility: %w", err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return vision.Observed, fmt.Errorf("lua grade_visibility returned non-table")
	}
	st, ok := vision.ParseState(lua.LVAsString(rt.RawGetString("state")))
	if !ok {
		return vision.Observed, fmt.Errorf("lua grade_visibility returned unknown state %q",
			lua.LVAsString(rt.RawGetString("state")))
	}
	return st, nil
}

// PostprocessVisibility calls the Lua postprocess_visibility function.
// Best-effort: missing function or script error leaves the state as is.
func (e *Engine) PostprocessVisibility(state vision.State, ctx GradeContext) (vision.State, bool) {
	fn := e.vm.GetGlobal("postprocess_visibility")
	if fn == lua.LNil {
		return state, false
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.gradeTable(ctx, state, true)); err != nil {
		e.log.Error("lua postprocess_visibility error", zap.Error(err))
		return state, false
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	if result == lua.LNil {
		return state, false
	}
	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua postprocess_visibility returned non-table")
		return state, false
	}
	st, ok := vision.ParseState(lua.LVAsString(rt.RawGetString("state")))
	if !ok || st == state {
		return state, false
	}
	return st, true
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
