package extinction

import "gonum.org/v1/gonum/spatial/kdtree"

// vertexPoint carries a transverse grid vertex and its row index through the
// nearest-neighbor tree. Dimensionality follows the feature space.
type vertexPoint struct {
	coords []float64
	index  int
}

// Compare implements the kdtree.Comparable method
func (p vertexPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(vertexPoint)
	return p.coords[d] - q.coords[d]
}

// Dims implements the kdtree.Comparable method
func (p vertexPoint) Dims() int { return len(p.coords) }

// Distance implements the kdtree.Comparable method returning the squared
// Euclidean distance
func (p vertexPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(vertexPoint)
	var sum float64
	for i := range p.coords {
		d := p.coords[i] - q.coords[i]
		sum += d * d
	}
	return sum
}

// vertexPoints implements the kdtree.Interface for a vertex list
type vertexPoints []vertexPoint

func (p vertexPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p vertexPoints) Len() int                              { return len(p) }
func (p vertexPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p vertexPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(vertexPlane{vertexPoints: p, Dim: d}, kdtree.MedianOfRandoms(vertexPlane{vertexPoints: p, Dim: d}, 100))
}

// vertexPlane implements sort.Interface and kdtree.SortSlicer for vertexPoints
type vertexPlane struct {
	vertexPoints
	kdtree.Dim
}

func (p vertexPlane) Less(i, j int) bool {
	return p.vertexPoints[i].coords[p.Dim] < p.vertexPoints[j].coords[p.Dim]
}

func (p vertexPlane) Slice(start, end int) kdtree.SortSlicer {
	return vertexPlane{vertexPoints: p.vertexPoints[start:end], Dim: p.Dim}
}

func (p vertexPlane) Swap(i, j int) {
	p.vertexPoints[i], p.vertexPoints[j] = p.vertexPoints[j], p.vertexPoints[i]
}

// nearestVertices maps every query point to the index of its nearest vertex.
func nearestVertices(vertices, queries [][]float64) []int {
	pts := make(vertexPoints, len(vertices))
	for i, v := range vertices {
		pts[i] = vertexPoint{coords: v, index: i}
	}
	tree := kdtree.New(pts, true)

	out := make([]int, len(queries))
	for i, q := range queries {
		got, _ := tree.Nearest(vertexPoint{coords: q})
		out[i] = got.(vertexPoint).index
	}
	return out
}
