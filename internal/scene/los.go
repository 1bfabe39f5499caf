package scene

import "github.com/umbragrid/server/internal/vision"

// LineOfSight reports whether the segment between two positions crosses
// any currently occluding wall.
func (s *Scene) LineOfSight(a, b vision.Pos) bool {
	for i := range s.Walls {
		w := &s.Walls[i]
		if !w.BlocksSight() {
			continue
		}
		if segmentsIntersect(a.X, a.Y, b.X, b.Y, w.X1, w.Y1, w.X2, w.Y2) {
			return false
		}
	}
	return true
}

// orientation of the ordered triplet (ax,ay) (bx,by) (cx,cy):
// 0 collinear, 1 clockwise, 2 counterclockwise.
func orientation(ax, ay, bx, by, cx, cy float64) int {
	v := (by-ay)*(cx-bx) - (bx-ax)*(cy-by)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return 2
	}
	return 0
}

func onSegment(ax, ay, bx, by, px, py float64) bool {
	return px >= min(ax, bx) && px <= max(ax, bx) &&
		py >= min(ay, by) && py <= max(ay, by)
}

func segmentsIntersect(p1x, p1y, p2x, p2y, q1x, q1y, q2x, q2y float64) bool {
	o1 := orientation(p1x, p1y, p2x, p2y, q1x, q1y)
	o2 := orientation(p1x, p1y, p2x, p2y, q2x, q2y)
	o3 := orientation(q1x, q1y, q2x, q2y, p1x, p1y)
	o4 := orientation(q1x, q1y, q2x, q2y, p2x, p2y)

	if o1 != o2 && o3 != o4 {
		return true
	}

	// collinear touches
	if o1 == 0 && onSegment(p1x, p1y, p2x, p2y, q1x, q1y) {
		return true
	}
	if o2 == 0 && onSegment(p1x, p1y, p2x, p2y, q2x, q2y) {
		return true
	}
	if o3 == 0 && onSegment(q1x, q1y, q2x, q2y, p1x, p1y) {
		return true
	}
	if o4 == 0 && onSegment(q1x, q1y, q2x, q2y, p2x, p2y) {
		return true
	}
	return false
}
