package photometry

import (
	"encoding/binary"
	"math"
)

// RoundPartial quantizes x to the nearest multiple of precision. Negative
// zero folds into zero so quantized values compare bitwise.
func RoundPartial(x, precision float64) float64 {
	r := math.Round(x/precision) * precision
	if r == 0 {
		return 0
	}
	return r
}

// BuildGrid quantizes the given points to the precision and returns the
// distinct quantized points in first-occurrence order. Rows are points;
// applying BuildGrid to its own output returns the same grid.
func BuildGrid(points [][]float64, precision float64) [][]float64 {
	seen := make(map[string]struct{}, len(points))
	grid := make([][]float64, 0, len(points))
	for _, p := range points {
		q := make([]float64, len(p))
		for i, v := range p {
			q[i] = RoundPartial(v, precision)
		}
		key := gridKey(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		grid = append(grid, q)
	}
	return grid
}

func gridKey(p []float64) string {
	b := make([]byte, 8*len(p))
	for i, v := range p {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return string(b)
}
