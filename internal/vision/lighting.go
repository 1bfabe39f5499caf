package vision

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
)

// LightLevels is one precomputed lighting snapshot: ambient light level at
// each entity's position, plus the state needed to decide whether the next
// invocation can reuse it.
type LightLevels struct {
	levels      map[string]float64
	fineKeys    map[string]string
	fingerprint string
	builtAt     time.Time
}

// Level returns the precomputed ambient light for an entity id.
func (l *LightLevels) Level(id string) (float64, bool) {
	if l == nil {
		return 0, false
	}
	v, ok := l.levels[id]
	return v, ok
}

// LightingDiag reports what a Precompute call actually did.
type LightingDiag struct {
	Reused     int
	Recomputed int
	Changed    bool // environment fingerprint differed (or fresh was forced)
	FastPath   bool // previous snapshot returned verbatim
}

// Lighting owns the cross-invocation lighting state: the previous
// snapshot, the short-lived fingerprint memo, and the force-fresh window.
// This is a best-effort optimization layer: when it cannot produce a
// snapshot the grader falls back to resolving lighting on demand.
//
// The force-fresh window is a timestamp comparison evaluated on every
// call, never a scheduled reset.
type Lighting struct {
	env      EnvironmentFunc
	ambient  AmbientLightFunc
	burst    time.Duration // return prev verbatim within this window
	fpWindow time.Duration // reuse the env fingerprint within this window
	cooldown time.Duration // force full recompute this long after Invalidate

	prev        *LightLevels
	lastFP      string
	lastFPAt    time.Time
	invalidated time.Time
}

func NewLighting(env EnvironmentFunc, ambient AmbientLightFunc, burst, fpWindow, cooldown time.Duration) *Lighting {
	return &Lighting{
		env:      env,
		ambient:  ambient,
		burst:    burst,
		fpWindow: fpWindow,
		cooldown: cooldown,
	}
}

// Invalidate forces full recomputation until the cooldown elapses. The
// cooldown matches the visibility cache TTL so cached visibility cannot
// outlive fresh lighting.
func (l *Lighting) Invalidate() {
	l.invalidated = time.Now()
	l.lastFP = ""
	l.prev = nil
}

// ForceFreshActive reports whether an invalidation is still in effect.
func (l *Lighting) ForceFreshActive() bool {
	if l.invalidated.IsZero() {
		return false
	}
	return time.Since(l.invalidated) < l.cooldown
}

// Precompute returns a lighting snapshot for the given entities, reusing
// as much of the previous snapshot as correctness allows.
//
//  1. Burst fast path: within the burst window, same entity set, same
//     quantized positions, no forced refresh: return prev verbatim
//     without even touching the environment.
//  2. Compute (or reuse the memoized) environment fingerprint.
//  3. Unchanged fingerprint: reuse each unmoved entity's prior level;
//     recompute the rest via the ambient oracle.
func (l *Lighting) Precompute(entities []Entity, positions *PositionSnapshot) (*LightLevels, LightingDiag) {
	var diag LightingDiag
	if l == nil || l.ambient == nil || l.env == nil || positions == nil {
		return nil, diag
	}
	force := l.ForceFreshActive()
	diag.Changed = force

	fineKeys := positions.FineKeys()
	if !force && l.prev != nil && time.Since(l.prev.builtAt) < l.burst && sameKeys(l.prev.fineKeys, fineKeys) {
		diag.FastPath = true
		diag.Reused = len(l.prev.levels)
		return l.prev, diag
	}

	fp := l.fingerprintNow(force)
	changed := force || l.prev == nil || fp != l.prev.fingerprint
	diag.Changed = changed

	next := &LightLevels{
		levels:      make(map[string]float64, len(entities)),
		fineKeys:    fineKeys,
		fingerprint: fp,
		builtAt:     time.Now(),
	}
	for _, e := range entities {
		id := e.ID()
		pos, ok := positions.Get(id)
		if !ok {
			continue
		}
		if !changed && l.prev != nil && l.prev.fineKeys[id] == fineKeys[id] {
			if lv, hit := l.prev.levels[id]; hit {
				next.levels[id] = lv
				diag.Reused++
				continue
			}
		}
		lv, ok := l.ambient(pos)
		if !ok {
			continue // unresolvable, grader falls back on demand
		}
		next.levels[id] = lv
		diag.Recomputed++
	}
	l.prev = next
	return next, diag
}

// fingerprintNow returns the environment fingerprint, memoized for a very
// short window so repeated invocations within one logical event do not
// re-enumerate the scene.
func (l *Lighting) fingerprintNow(force bool) string {
	if !force && l.lastFP != "" && time.Since(l.lastFPAt) < l.fpWindow {
		return l.lastFP
	}
	fp := FingerprintEnvironment(l.env())
	l.lastFP = fp
	l.lastFPAt = time.Now()
	return fp
}

// FingerprintEnvironment hashes every lighting-affecting piece of scene
// state into a deterministic summary string.
func FingerprintEnvironment(env Environment) string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	writeF := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	writeB := func(b bool) {
		if b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	writeF(env.Darkness)

	sources := make([]EnvSource, len(env.Sources))
	copy(sources, env.Sources)
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	for _, s := range sources {
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		writeF(s.X)
		writeF(s.Y)
		writeF(s.Bright)
		writeF(s.Dim)
		writeF(s.Rotation)
		writeB(s.Negative)
		writeB(s.Hidden)
	}

	regions := make([]EnvRegion, len(env.Regions))
	copy(regions, env.Regions)
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	for _, r := range regions {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		writeF(r.X1)
		writeF(r.Y1)
		writeF(r.X2)
		writeF(r.Y2)
		writeF(r.Darkness)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func sameKeys(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
