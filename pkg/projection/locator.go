package projection

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a point position that remembers where it came from.
type indexedPoint struct {
	X, Y, Z float64
	Index   int
}

// Compare implements the kdtree.Comparable interface
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(plane{indexedPoints: p, Dim: d}, 100))
}

// plane implements sort.Interface and kdtree.SortSlicer for indexedPoints
type plane struct {
	indexedPoints
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	case 2:
		return p.indexedPoints[i].Z < p.indexedPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// Locator answers nearest-point queries in normalized coordinates, for
// picking a voxel under the cursor.
type Locator struct {
	points []Point
	tree   *kdtree.Tree
	count  int
}

// NewLocator indexes the points accepted by keep, or all points when keep is
// nil.
func NewLocator(points []Point, keep func(Point) bool) *Locator {
	idx := make(indexedPoints, 0, len(points))
	for i, p := range points {
		if keep != nil && !keep(p) {
			continue
		}
		idx = append(idx, indexedPoint{X: p.Pos[0], Y: p.Pos[1], Z: p.Pos[2], Index: i})
	}
	l := &Locator{points: points, count: len(idx)}
	if len(idx) > 0 {
		l.tree = kdtree.New(idx, false)
	}
	return l
}

// Len returns the number of indexed points.
func (l *Locator) Len() int { return l.count }

// Nearest returns the indexed point closest to (x, y, z), its index in the
// original sequence and its Euclidean distance.
func (l *Locator) Nearest(x, y, z float64) (p Point, index int, dist float64, ok bool) {
	if l.tree == nil {
		return Point{}, -1, 0, false
	}
	c, d := l.tree.Nearest(indexedPoint{X: x, Y: y, Z: z})
	if c == nil {
		return Point{}, -1, 0, false
	}
	hit := c.(indexedPoint)
	return l.points[hit.Index], hit.Index, math.Sqrt(d), true
}

// Within returns the indices of the indexed points at most r away from
// (x, y, z).
func (l *Locator) Within(x, y, z, r float64) []int {
	if l.tree == nil {
		return nil
	}
	keeper := kdtree.NewDistKeeper(r * r)
	l.tree.NearestSet(keeper, indexedPoint{X: x, Y: y, Z: z})
	out := make([]int, 0, keeper.Len())
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		out = append(out, item.Comparable.(indexedPoint).Index)
	}
	return out
}
