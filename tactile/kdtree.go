package tactile

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// kdPoint is an indexed point of any dimension stored in a kdtree.
type kdPoint struct {
	idx    int
	coords []float64
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(kdPoint).coords[d]
}

func (p kdPoint) Dims() int { return len(p.coords) }

// Distance returns the squared Euclidean distance.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	var sum float64
	for i, v := range p.coords {
		d := v - q.coords[i]
		sum += d * d
	}
	return sum
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{points: p, Dim: d}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type kdPlane struct {
	kdtree.Dim
	points kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return p.points[i].coords[p.Dim] < p.points[j].coords[p.Dim]
}
func (p kdPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p kdPlane) Len() int { return len(p.points) }
func (p kdPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// neighbor is a search hit: the index into the indexed set and the squared distance.
type neighbor struct {
	Index  int
	DistSq float64
}

// pointIndex answers nearest neighbour queries over a fixed point set.
// Queries are read-only and safe for concurrent use.
type pointIndex struct {
	tree *kdtree.Tree
	size int
}

func newPointIndex(coords [][]float64) *pointIndex {
	pts := make(kdPoints, len(coords))
	for i, c := range coords {
		pts[i] = kdPoint{idx: i, coords: c}
	}
	return &pointIndex{tree: kdtree.New(pts, false), size: len(pts)}
}

func newPointIndex3(points []r3.Vector) *pointIndex {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.X, p.Y, p.Z}
	}
	return newPointIndex(coords)
}

// Nearest returns the closest indexed point to q.
func (x *pointIndex) Nearest(q []float64) (neighbor, bool) {
	if x.size == 0 {
		return neighbor{}, false
	}
	c, d := x.tree.Nearest(kdPoint{idx: -1, coords: q})
	if c == nil {
		return neighbor{}, false
	}
	return neighbor{Index: c.(kdPoint).idx, DistSq: d}, true
}

// KNearest returns up to k closest points in ascending distance order.
func (x *pointIndex) KNearest(q []float64, k int) []neighbor {
	if x.size == 0 || k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	x.tree.NearestSet(keep, kdPoint{idx: -1, coords: q})
	return collect(keep.Heap)
}

// HybridRadius returns at most maxNN points within r of q, closest first.
func (x *pointIndex) HybridRadius(q []float64, r float64, maxNN int) []neighbor {
	hits := x.KNearest(q, maxNN)
	r2 := r * r
	out := hits[:0]
	for _, h := range hits {
		if h.DistSq <= r2 {
			out = append(out, h)
		}
	}
	return out
}

func collect(h kdtree.Heap) []neighbor {
	out := make([]neighbor, 0, len(h))
	for _, c := range h {
		if c.Comparable == nil {
			continue
		}
		out = append(out, neighbor{Index: c.Comparable.(kdPoint).idx, DistSq: c.Dist})
	}
	return out
}
