package visualization

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"dustmap/pkg/extmap"
	"dustmap/pkg/skygrid"
)

// ErrMapRequired reports a nil extinction map.
var ErrMapRequired = errors.New("visualization: extinction map is required")

// Renderer turns the planes of an extinction map into grayscale images.
// Values are normalized to the finite range of each plane; pixels without a
// finite value render black, and row zero renders at the bottom.
type Renderer struct {
	m *extmap.ExtinctionMap
}

// NewRenderer creates a renderer for the given map.
func NewRenderer(m *extmap.ExtinctionMap) (*Renderer, error) {
	if m == nil {
		return nil, ErrMapRequired
	}
	return &Renderer{m: m}, nil
}

// RenderExtinction renders the extinction plane.
func (r *Renderer) RenderExtinction() image.Image {
	return renderPlane(r.m.Ext)
}

// RenderError renders the extinction error plane.
func (r *Renderer) RenderError() image.Image {
	return renderPlane(r.m.Err)
}

// RenderCounts renders the source count plane.
func (r *Renderer) RenderCounts() image.Image {
	rows := len(r.m.Num)
	plane := make([][]float64, rows)
	for y, row := range r.m.Num {
		plane[y] = make([]float64, len(row))
		for x, n := range row {
			plane[y][x] = float64(n)
		}
	}
	return renderPlane(plane)
}

// ExportAll renders the extinction, error and count planes, saves them as
// PNG files in the output directory and writes the map as a CSV table next
// to them.
func (r *Renderer) ExportAll(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	planes := []struct {
		name string
		img  image.Image
	}{
		{name: "extinction.png", img: r.RenderExtinction()},
		{name: "extinction_error.png", img: r.RenderError()},
		{name: "source_count.png", img: r.RenderCounts()},
	}
	for _, p := range planes {
		if err := SaveImage(p.img, filepath.Join(outputDir, p.name)); err != nil {
			return fmt.Errorf("saving %s: %w", p.name, err)
		}
	}
	if err := r.ExportCSV(filepath.Join(outputDir, "extinction_map.csv")); err != nil {
		return fmt.Errorf("saving extinction_map.csv: %w", err)
	}
	return nil
}

// ExportCSV writes the map as a table with one row per pixel. Each row
// carries the pixel center coordinates next to the extinction, error and
// source count planes. Non-finite values become empty fields.
func (r *Renderer) ExportCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating map table: %w", err)
	}
	defer f.Close()

	grid := skygrid.Grid{Header: r.m.Header}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"lon", "lat", "extinction", "extinction_err", "sources"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for y, row := range r.m.Ext {
		for x := range row {
			lon, lat := grid.PixelToWorld(float64(x), float64(y))
			record := []string{
				field(lon),
				field(lat),
				field(r.m.Ext[y][x]),
				field(r.m.Err[y][x]),
				strconv.Itoa(r.m.Num[y][x]),
			}
			if err := w.Write(record); err != nil {
				return fmt.Errorf("writing pixel (%d, %d): %w", x, y, err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing map table: %w", err)
	}
	return nil
}

// SaveImage saves an image as a PNG file.
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

func renderPlane(plane [][]float64) *image.Gray16 {
	rows := len(plane)
	cols := 0
	if rows > 0 {
		cols = len(plane[0])
	}
	img := image.NewGray16(image.Rect(0, 0, cols, rows))

	min := math.Inf(1)
	max := math.Inf(-1)
	for _, row := range plane {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	span := max - min

	for y, row := range plane {
		for x, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			// A flat plane renders white against the missing-value black.
			norm := 1.0
			if span > 0 {
				norm = (v - min) / span
			}
			value := uint16(math.Max(0, math.Min(65535, norm*65535)))
			img.SetGray16(x, rows-1-y, color.Gray16{Y: value})
		}
	}
	return img
}

func field(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
