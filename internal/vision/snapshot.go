package vision

import (
	"math"
	"strconv"
	"strings"
)

// Position cache keys come in two granularities. The fine key quantizes to
// half a grid cell and keys graded-visibility caching; the coarse key
// quantizes to a full cell and keys line-of-sight caching, which is
// geometrically more stable and tolerates larger jitter. Raw float
// coordinates never appear in a cache key.

func quantKey(p Pos, step float64) string {
	var b strings.Builder
	b.Grow(24)
	b.WriteString(strconv.FormatInt(int64(math.Round(p.X/step)), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(int64(math.Round(p.Y/step)), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(int64(math.Round(p.Elevation)), 10))
	return b.String()
}

// FineKey returns the half-cell quantized key for a position.
func FineKey(p Pos, cellSize float64) string {
	return quantKey(p, cellSize/2)
}

// CoarseKey returns the full-cell quantized key for a position.
func CoarseKey(p Pos, cellSize float64) string {
	return quantKey(p, cellSize)
}

type snapEntry struct {
	pos    Pos
	fine   string
	coarse string
}

// PositionSnapshot caches position + derived keys for every entity of one
// invocation, avoiding O(pairs) redundant position lookups. Best-effort:
// an entity whose position cannot be resolved is simply omitted, and
// callers fall back to the live position source.
type PositionSnapshot struct {
	cellSize float64
	entries  map[string]snapEntry
}

// BuildPositionSnapshot resolves every entity once.
func BuildPositionSnapshot(entities []Entity, position PositionFunc, cellSize float64) *PositionSnapshot {
	s := &PositionSnapshot{
		cellSize: cellSize,
		entries:  make(map[string]snapEntry, len(entities)),
	}
	for _, e := range entities {
		pos, ok := position(e)
		if !ok {
			continue
		}
		s.entries[e.ID()] = snapEntry{
			pos:    pos,
			fine:   FineKey(pos, cellSize),
			coarse: CoarseKey(pos, cellSize),
		}
	}
	return s
}

// Get returns the snapshotted position for an entity id.
func (s *PositionSnapshot) Get(id string) (Pos, bool) {
	e, ok := s.entries[id]
	return e.pos, ok
}

// Fine returns the fine position key, or "" when the entity was not in
// the snapshot.
func (s *PositionSnapshot) Fine(id string) string {
	return s.entries[id].fine
}

// Coarse returns the coarse position key, or "" when absent.
func (s *PositionSnapshot) Coarse(id string) string {
	return s.entries[id].coarse
}

// Len returns the number of snapshotted entities.
func (s *PositionSnapshot) Len() int { return len(s.entries) }

// FineKeys returns a copy of id → fine key, used by the lighting layer to
// detect per-entity movement between invocations.
func (s *PositionSnapshot) FineKeys() map[string]string {
	out := make(map[string]string, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.fine
	}
	return out
}

// dirPairKey builds the directional visibility cache key from observer and
// target identity plus their fine position keys.
func dirPairKey(observer, obsFine, target, tgtFine string) string {
	var b strings.Builder
	b.Grow(len(observer) + len(obsFine) + len(target) + len(tgtFine) + 3)
	b.WriteString(observer)
	b.WriteByte('@')
	b.WriteString(obsFine)
	b.WriteByte('>')
	b.WriteString(target)
	b.WriteByte('@')
	b.WriteString(tgtFine)
	return b.String()
}

// losPairKey builds the undirected line-of-sight cache key from coarse
// position keys. Line of sight is symmetric, so the smaller id goes first.
func losPairKey(a, aCoarse, b, bCoarse string) string {
	if b < a {
		a, b = b, a
		aCoarse, bCoarse = bCoarse, aCoarse
	}
	var sb strings.Builder
	sb.Grow(len(a) + len(aCoarse) + len(b) + len(bCoarse) + 3)
	sb.WriteString(a)
	sb.WriteByte('@')
	sb.WriteString(aCoarse)
	sb.WriteByte('|')
	sb.WriteString(b)
	sb.WriteByte('@')
	sb.WriteString(bCoarse)
	return sb.String()
}
