package vision

import "math"

// SpatialIndex is a uniform-grid bucket map over entity positions, rebuilt
// per entity set and queried once per changed entity. Cell size is one
// scene grid cell. Accessed only from the invoking goroutine, no locks.
type SpatialIndex struct {
	cellSize float64
	cells    map[cellKey][]indexEntry
	count    int
}

type cellKey struct {
	cx int32
	cy int32
}

type indexEntry struct {
	id  string
	pos Pos
}

// Rect is an axis-aligned query rectangle (inclusive bounds).
type Rect struct {
	X1, Y1, X2, Y2 float64
}

func NewSpatialIndex(cellSize float64) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = 100
	}
	return &SpatialIndex{
		cellSize: cellSize,
		cells:    make(map[cellKey][]indexEntry),
	}
}

func (idx *SpatialIndex) toCell(v float64) int32 {
	return int32(math.Floor(v / idx.cellSize))
}

// Build clears the index and repopulates it from the given entities.
// Entities whose position cannot be resolved are silently excluded.
func (idx *SpatialIndex) Build(entities []Entity, position PositionFunc) {
	idx.cells = make(map[cellKey][]indexEntry, len(idx.cells))
	idx.count = 0
	for _, e := range entities {
		pos, ok := position(e)
		if !ok {
			continue
		}
		k := cellKey{cx: idx.toCell(pos.X), cy: idx.toCell(pos.Y)}
		idx.cells[k] = append(idx.cells[k], indexEntry{id: e.ID(), pos: pos})
		idx.count++
	}
}

// Len returns the number of indexed entities.
func (idx *SpatialIndex) Len() int { return idx.count }

// QueryRect returns the ids of all entities whose stored point lies within
// the rectangle, bounds inclusive. Result set must match a brute-force
// scan over the same input.
func (idx *SpatialIndex) QueryRect(r Rect) []string {
	if r.X2 < r.X1 || r.Y2 < r.Y1 {
		return nil
	}
	minCX, maxCX := idx.toCell(r.X1), idx.toCell(r.X2)
	minCY, maxCY := idx.toCell(r.Y1), idx.toCell(r.Y2)
	var result []string
	for cx := minCX; cx <= maxCX; cx++ {
		for cy := minCY; cy <= maxCY; cy++ {
			for _, ent := range idx.cells[cellKey{cx: cx, cy: cy}] {
				if ent.pos.X >= r.X1 && ent.pos.X <= r.X2 &&
					ent.pos.Y >= r.Y1 && ent.pos.Y <= r.Y2 {
					result = append(result, ent.id)
				}
			}
		}
	}
	return result
}

// QueryCircle returns the ids of all entities within radius r of (cx, cy):
// bounding-box cell walk, then squared-distance filter.
func (idx *SpatialIndex) QueryCircle(cx, cy, r float64) []string {
	if r < 0 {
		return nil
	}
	minCX, maxCX := idx.toCell(cx-r), idx.toCell(cx+r)
	minCY, maxCY := idx.toCell(cy-r), idx.toCell(cy+r)
	r2 := r * r
	var result []string
	for icx := minCX; icx <= maxCX; icx++ {
		for icy := minCY; icy <= maxCY; icy++ {
			for _, ent := range idx.cells[cellKey{cx: icx, cy: icy}] {
				dx := ent.pos.X - cx
				dy := ent.pos.Y - cy
				if dx*dx+dy*dy <= r2 {
					result = append(result, ent.id)
				}
			}
		}
	}
	return result
}
