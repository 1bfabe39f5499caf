package vision

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntity struct {
	id         string
	pos        Pos
	hasPos     bool
	suppressed bool
}

func (e *testEntity) ID() string { return e.id }

func (e *testEntity) VisibilitySuppressed() bool { return e.suppressed }

func testPositions(e Entity) (Pos, bool) {
	t := e.(*testEntity)
	return t.pos, t.hasPos
}

func placed(id string, x, y float64) *testEntity {
	return &testEntity{id: id, pos: Pos{X: x, Y: y}, hasPos: true}
}

func TestSpatialIndexQueryRect(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Build([]Entity{
		placed("a", 10, 10),
		placed("b", 150, 150),
		placed("c", 250, 10),
		placed("edge", 200, 200),
	}, testPositions)
	require.Equal(t, 4, idx.Len())

	assert.ElementsMatch(t, []string{"a", "b", "edge"}, idx.QueryRect(Rect{X1: 0, Y1: 0, X2: 200, Y2: 200}))
	assert.ElementsMatch(t, []string{"a"}, idx.QueryRect(Rect{X1: 0, Y1: 0, X2: 99, Y2: 99}))
	assert.Empty(t, idx.QueryRect(Rect{X1: 500, Y1: 500, X2: 600, Y2: 600}))
	assert.Empty(t, idx.QueryRect(Rect{X1: 100, Y1: 100, X2: 0, Y2: 0}), "inverted rect yields nothing")
}

func TestSpatialIndexRectBoundsInclusive(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Build([]Entity{placed("corner", 200, 200)}, testPositions)
	assert.Equal(t, []string{"corner"}, idx.QueryRect(Rect{X1: 200, Y1: 200, X2: 200, Y2: 200}))
}

func TestSpatialIndexExcludesUnplaced(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Build([]Entity{
		placed("a", 10, 10),
		&testEntity{id: "ghost"},
	}, testPositions)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, []string{"a"}, idx.QueryRect(Rect{X1: -1000, Y1: -1000, X2: 1000, Y2: 1000}))
}

func TestSpatialIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var entities []Entity
	for i := 0; i < 400; i++ {
		entities = append(entities, placed(
			fmt.Sprintf("e%03d", i),
			rng.Float64()*4000-2000,
			rng.Float64()*4000-2000,
		))
	}
	idx := NewSpatialIndex(100)
	idx.Build(entities, testPositions)

	for trial := 0; trial < 50; trial++ {
		r := Rect{
			X1: rng.Float64()*3000 - 1500,
			Y1: rng.Float64()*3000 - 1500,
		}
		r.X2 = r.X1 + rng.Float64()*800
		r.Y2 = r.Y1 + rng.Float64()*800

		var want []string
		for _, e := range entities {
			p := e.(*testEntity).pos
			if p.X >= r.X1 && p.X <= r.X2 && p.Y >= r.Y1 && p.Y <= r.Y2 {
				want = append(want, e.ID())
			}
		}
		assert.ElementsMatch(t, want, idx.QueryRect(r))
	}

	for trial := 0; trial < 50; trial++ {
		cx := rng.Float64()*3000 - 1500
		cy := rng.Float64()*3000 - 1500
		radius := rng.Float64() * 600

		var want []string
		for _, e := range entities {
			p := e.(*testEntity).pos
			dx, dy := p.X-cx, p.Y-cy
			if dx*dx+dy*dy <= radius*radius {
				want = append(want, e.ID())
			}
		}
		assert.ElementsMatch(t, want, idx.QueryCircle(cx, cy, radius))
	}
}

func TestSpatialIndexNegativeCoordinates(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Build([]Entity{
		placed("neg", -150, -150),
		placed("origin", 0, 0),
	}, testPositions)
	assert.ElementsMatch(t, []string{"neg"}, idx.QueryRect(Rect{X1: -200, Y1: -200, X2: -100, Y2: -100}))
	assert.ElementsMatch(t, []string{"neg", "origin"}, idx.QueryCircle(-75, -75, 200))
}

func TestSpatialIndexRebuild(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Build([]Entity{placed("a", 10, 10)}, testPositions)
	idx.Build([]Entity{placed("b", 500, 500)}, testPositions)
	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.QueryCircle(10, 10, 50))
	assert.Equal(t, []string{"b"}, idx.QueryCircle(500, 500, 50))
}
