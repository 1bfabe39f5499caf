package scene

import "github.com/umbragrid/server/internal/vision"

// Ambient light levels. Bright radius yields full light, dim radius yields
// half light; a negative source drags the level down instead.
const (
	lightFull = 1.0
	lightDim  = 0.5
	lightNeg  = 0.25
)

// AmbientLight computes the light level in [0, 1] at a position: global
// darkness, then the darkest containing region, then every reachable
// light source. Sources do not raycast against walls; occlusion is the
// line-of-sight layer's concern.
func (s *Scene) AmbientLight(p vision.Pos) (float64, bool) {
	level := 1 - s.Darkness
	for i := range s.Regions {
		r := &s.Regions[i]
		if r.contains(p) {
			if regional := 1 - r.Darkness; regional < level {
				level = regional
			}
		}
	}

	var negBright, negDim bool
	raise := func(x, y, bright, dim float64, negative bool) {
		d := dist(p.X, p.Y, x, y)
		if negative {
			if d <= bright {
				negBright = true
			} else if d <= dim {
				negDim = true
			}
			return
		}
		if d <= bright && level < lightFull {
			level = lightFull
		} else if d <= dim && level < lightDim {
			level = lightDim
		}
	}

	for i := range s.Lights {
		l := &s.Lights[i]
		if l.Hidden {
			continue
		}
		raise(l.X, l.Y, l.Bright, l.Dim, l.Negative)
	}
	for _, id := range s.order {
		t := s.tokens[id]
		if em, ok := t.Emission(); ok {
			raise(t.X, t.Y, em.Bright, em.Dim, false)
		}
	}

	// negative sources win over everything they fully cover
	if negBright {
		level = 0
	} else if negDim && level > lightNeg {
		level = lightNeg
	}

	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	return level, true
}
