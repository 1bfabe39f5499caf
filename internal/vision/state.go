package vision

import (
	"context"
	"fmt"
)

// State is the graded outcome of detection between two entities.
// Ordering matters to rule collaborators (Observed < Concealed < Hidden <
// Undetected); the engine itself only compares for equality when deciding
// whether a pair's state actually changed.
type State uint8

const (
	Observed State = iota
	Concealed
	Hidden
	Undetected
)

func (s State) String() string {
	switch s {
	case Observed:
		return "observed"
	case Concealed:
		return "concealed"
	case Hidden:
		return "hidden"
	case Undetected:
		return "undetected"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParseState maps a rule-engine string back to a State.
func ParseState(s string) (State, bool) {
	switch s {
	case "observed":
		return Observed, true
	case "concealed":
		return Concealed, true
	case "hidden":
		return Hidden, true
	case "undetected":
		return Undetected, true
	}
	return Observed, false
}

// Pos is a point in scene space. Elevation participates in cache keys and
// in sense range checks but not in planar distance.
type Pos struct {
	X         float64
	Y         float64
	Elevation float64
}

// Entity is the minimal identity the engine needs. Entities are owned by
// the scene layer; the engine borrows read access for one invocation and
// never retains references across invocations.
type Entity interface {
	ID() string
}

// Positionable is satisfied by entities that can resolve their own
// position. The processor still routes lookups through Deps.Position so a
// snapshot layer can sit in between.
type Positionable interface {
	Position() (Pos, bool)
}

// LightEmitting is satisfied by entities that carry a light source.
type LightEmitting interface {
	Emission() (Emission, bool)
}

// SuppressesRecompute is satisfied by entities whose visibility is under
// full manual control; the processor skips them as changed entities.
type SuppressesRecompute interface {
	VisibilitySuppressed() bool
}

// Emission describes an entity-attached light source.
type Emission struct {
	Bright float64 // full-light radius
	Dim    float64 // dim-light radius
}

// Update is one proposed visibility delta. The engine never writes the
// store itself; the owning layer applies updates after Process returns.
type Update struct {
	Observer string
	Target   string
	State    State
}

// Oracle signatures. Grade is the only one that may block; everything else
// must return synchronously so cache mutation stays race-free between
// suspension points.
type (
	// PositionFunc resolves an entity's current position. False means
	// "unresolvable, skip", never an error.
	PositionFunc func(e Entity) (Pos, bool)

	// LineOfSightFunc reports unobstructed sight between two positions.
	LineOfSightFunc func(a, b Pos) bool

	// GradeFunc turns geometry + lighting into a graded state.
	// targetLight is the precomputed ambient light at the target, or -1
	// when no precomputed lighting is available and the oracle must
	// resolve lighting itself.
	GradeFunc func(ctx context.Context, observer, target Entity, from, to Pos, targetLight float64) (State, error)

	// SenseFunc reports whether observer can detect target without line
	// of sight (tremorsense, hearing, ...) at the given planar distance.
	SenseFunc func(observer, target Entity, distance float64) bool

	// OverrideFunc resolves a manually asserted state for a directed
	// pair. False means no override.
	OverrideFunc func(observer, target string) (State, bool)

	// PostprocessFunc applies rule-based adjustment after grading.
	// False means "no change".
	PostprocessFunc func(state State, observer, target Entity) (State, bool)

	// StoredStatesFunc returns the persisted visibility map for one
	// observer: target id → state this observer currently has toward it.
	// Errors must be swallowed by the implementation; nil means "empty".
	StoredStatesFunc func(observer string) map[string]State

	// AmbientLightFunc computes the ambient light level at a position.
	// False degrades that entity to on-demand lighting in the grader.
	AmbientLightFunc func(p Pos) (float64, bool)

	// EnvironmentFunc enumerates all lighting-affecting scene state for
	// fingerprinting. Must be deterministic for unchanged scenes.
	EnvironmentFunc func() Environment
)

// Environment is the lighting-affecting scene state that feeds the
// fingerprint. Source order must be stable across calls for an unchanged
// scene.
type Environment struct {
	Darkness float64
	Sources  []EnvSource
	Regions  []EnvRegion
}

// EnvSource is one light-affecting emitter: a placed light or a
// light-emitting entity.
type EnvSource struct {
	ID       string
	X, Y     float64
	Bright   float64
	Dim      float64
	Rotation float64
	Negative bool
	Hidden   bool
}

// EnvRegion is one darkness-affecting region.
type EnvRegion struct {
	ID             string
	X1, Y1, X2, Y2 float64
	Darkness       float64
}
