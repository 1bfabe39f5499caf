package scene

import (
	"fmt"
	"math"

	"github.com/umbragrid/server/internal/vision"
)

// Token is a placed entity: a creature, prop or marker that participates
// in visibility computation.
type Token struct {
	TokenID   string  `yaml:"id"`
	Name      string  `yaml:"name"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Elevation float64 `yaml:"elevation"`

	// attached light emission, zero radii = no light
	Bright float64 `yaml:"bright"`
	Dim    float64 `yaml:"dim"`

	Senses []Sense `yaml:"senses"`

	// Suppressed tokens are under manual visibility control and are never
	// recomputed as movers.
	Suppressed bool `yaml:"suppressed"`
}

func (t *Token) ID() string { return t.TokenID }

func (t *Token) Position() (vision.Pos, bool) {
	return vision.Pos{X: t.X, Y: t.Y, Elevation: t.Elevation}, true
}

func (t *Token) Emission() (vision.Emission, bool) {
	if t.Bright <= 0 && t.Dim <= 0 {
		return vision.Emission{}, false
	}
	return vision.Emission{Bright: t.Bright, Dim: t.Dim}, true
}

func (t *Token) VisibilitySuppressed() bool { return t.Suppressed }

// Sense is a non-visual detection mode with a planar range.
type Sense struct {
	Kind  string  `yaml:"kind"` // "hearing", "tremorsense", "scent"
	Range float64 `yaml:"range"`
}

// Wall is a sight-blocking segment. Open doors stop blocking.
type Wall struct {
	ID      string  `yaml:"id"`
	X1      float64 `yaml:"x1"`
	Y1      float64 `yaml:"y1"`
	X2      float64 `yaml:"x2"`
	Y2      float64 `yaml:"y2"`
	Door    bool    `yaml:"door"`
	Open    bool    `yaml:"open"`
	NoSight bool    `yaml:"no_sight"` // decorative wall that does not block
}

// BlocksSight reports whether the wall currently occludes.
func (w *Wall) BlocksSight() bool {
	if w.NoSight {
		return false
	}
	if w.Door && w.Open {
		return false
	}
	return true
}

// Light is a placed light source independent of any token.
type Light struct {
	ID       string  `yaml:"id"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Bright   float64 `yaml:"bright"`
	Dim      float64 `yaml:"dim"`
	Rotation float64 `yaml:"rotation"`
	Negative bool    `yaml:"negative"` // darkness emitter
	Hidden   bool    `yaml:"hidden"`
}

// DarknessRegion forces a darkness level inside its rectangle.
type DarknessRegion struct {
	ID       string  `yaml:"id"`
	X1       float64 `yaml:"x1"`
	Y1       float64 `yaml:"y1"`
	X2       float64 `yaml:"x2"`
	Y2       float64 `yaml:"y2"`
	Darkness float64 `yaml:"darkness"`
}

func (r *DarknessRegion) contains(p vision.Pos) bool {
	return p.X >= r.X1 && p.X <= r.X2 && p.Y >= r.Y1 && p.Y <= r.Y2
}

// Scene is the authoritative world state: tokens, occluders and lighting.
// Mutated only from the owning goroutine.
type Scene struct {
	Name     string
	GridSize float64
	Darkness float64 // global darkness, 0 = daylight, 1 = pitch black

	Walls   []Wall
	Lights  []Light
	Regions []DarknessRegion

	tokens map[string]*Token
	order  []string // insertion order, keeps Tokens() deterministic
}

func New(name string, gridSize float64) *Scene {
	if gridSize <= 0 {
		gridSize = 100
	}
	return &Scene{
		Name:     name,
		GridSize: gridSize,
		tokens:   make(map[string]*Token),
	}
}

// AddToken places a token. Duplicate ids are rejected.
func (s *Scene) AddToken(t *Token) error {
	if t.TokenID == "" {
		return fmt.Errorf("scene %s: token without id", s.Name)
	}
	if _, exists := s.tokens[t.TokenID]; exists {
		return fmt.Errorf("scene %s: duplicate token id %s", s.Name, t.TokenID)
	}
	s.tokens[t.TokenID] = t
	s.order = append(s.order, t.TokenID)
	return nil
}

// RemoveToken drops a token. Unknown ids are a no-op.
func (s *Scene) RemoveToken(id string) {
	if _, ok := s.tokens[id]; !ok {
		return
	}
	delete(s.tokens, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Token returns the token with the given id.
func (s *Scene) Token(id string) (*Token, bool) {
	t, ok := s.tokens[id]
	return t, ok
}

// MoveToken updates a token's position in place.
func (s *Scene) MoveToken(id string, x, y, elevation float64) bool {
	t, ok := s.tokens[id]
	if !ok {
		return false
	}
	t.X, t.Y, t.Elevation = x, y, elevation
	return true
}

// Tokens returns all tokens in insertion order.
func (s *Scene) Tokens() []*Token {
	out := make([]*Token, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tokens[id])
	}
	return out
}

// Entities adapts the token set for the visibility engine.
func (s *Scene) Entities() []vision.Entity {
	out := make([]vision.Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tokens[id])
	}
	return out
}

// Environment enumerates all lighting-affecting state for fingerprinting:
// global darkness, placed lights, light-emitting tokens and darkness
// regions. Order is stable for an unchanged scene.
func (s *Scene) Environment() vision.Environment {
	env := vision.Environment{Darkness: s.Darkness}
	for _, l := range s.Lights {
		env.Sources = append(env.Sources, vision.EnvSource{
			ID:       "light:" + l.ID,
			X:        l.X,
			Y:        l.Y,
			Bright:   l.Bright,
			Dim:      l.Dim,
			Rotation: l.Rotation,
			Negative: l.Negative,
			Hidden:   l.Hidden,
		})
	}
	for _, id := range s.order {
		t := s.tokens[id]
		if em, ok := t.Emission(); ok {
			env.Sources = append(env.Sources, vision.EnvSource{
				ID:     "token:" + t.TokenID,
				X:      t.X,
				Y:      t.Y,
				Bright: em.Bright,
				Dim:    em.Dim,
			})
		}
	}
	for _, r := range s.Regions {
		env.Regions = append(env.Regions, vision.EnvRegion{
			ID: r.ID, X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2, Darkness: r.Darkness,
		})
	}
	return env
}

// CanSense reports whether observer detects target through a non-visual
// sense at the given planar distance. Tremorsense requires both tokens on
// the ground level.
func (s *Scene) CanSense(observer, target vision.Entity, distance float64) bool {
	obs, ok := s.tokens[observer.ID()]
	if !ok {
		return false
	}
	tgt, ok := s.tokens[target.ID()]
	if !ok {
		return false
	}
	for _, sense := range obs.Senses {
		if distance > sense.Range {
			continue
		}
		if sense.Kind == "tremorsense" && (obs.Elevation != 0 || tgt.Elevation != 0) {
			continue
		}
		return true
	}
	return false
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
