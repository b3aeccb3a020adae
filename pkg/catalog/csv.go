// Package catalog reads photometric source catalogs and writes extinction
// results as CSV tables.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"dustmap/internal/models"
)

var (
	// ErrNoBands reports a read request without any photometric bands.
	ErrNoBands = errors.New("catalog: at least one band is required")

	// ErrLengthMismatch reports output columns of unequal length.
	ErrLengthMismatch = errors.New("catalog: output columns must share one length")
)

// Columns names the catalog columns to read. Each band b takes magnitudes
// from column b and uncertainties from column b_err.
type Columns struct {
	Lon   string
	Lat   string
	Bands []string
}

// ReadCSV loads a source catalog from a CSV table with a header row. Empty
// or unparseable cells become NaN so that missing photometry masks the
// source instead of failing the load.
func ReadCSV(path string, cols Columns) (*models.Catalog, error) {
	if len(cols.Bands) == 0 {
		return nil, ErrNoBands
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("catalog %s: empty file", path)
	}

	header := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		header[strings.TrimSpace(name)] = i
	}

	lonIdx, err := column(header, cols.Lon, path)
	if err != nil {
		return nil, err
	}
	latIdx, err := column(header, cols.Lat, path)
	if err != nil {
		return nil, err
	}
	magIdx := make([]int, len(cols.Bands))
	errIdx := make([]int, len(cols.Bands))
	for i, band := range cols.Bands {
		if magIdx[i], err = column(header, band, path); err != nil {
			return nil, err
		}
		if errIdx[i], err = column(header, band+"_err", path); err != nil {
			return nil, err
		}
	}

	n := len(rows) - 1
	cat := &models.Catalog{
		Lon:   make([]float64, n),
		Lat:   make([]float64, n),
		Bands: make([]models.Band, len(cols.Bands)),
	}
	for i, band := range cols.Bands {
		cat.Bands[i] = models.Band{
			Name: band,
			Mag:  make([]float64, n),
			Err:  make([]float64, n),
		}
	}

	for i, row := range rows[1:] {
		cat.Lon[i] = cell(row[lonIdx])
		cat.Lat[i] = cell(row[latIdx])
		for b := range cols.Bands {
			cat.Bands[b].Mag[i] = cell(row[magIdx[b]])
			cat.Bands[b].Err[i] = cell(row[errIdx[b]])
		}
	}
	return cat, nil
}

// WriteExtinctionCSV writes per-source extinction estimates next to their
// sky coordinates. Non-finite values become empty fields.
func WriteExtinctionCSV(path string, lon, lat, ext, extErr []float64) error {
	n := len(lon)
	if len(lat) != n || len(ext) != n || len(extErr) != n {
		return fmt.Errorf("%w: %d, %d, %d and %d", ErrLengthMismatch, n, len(lat), len(ext), len(extErr))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"lon", "lat", "extinction", "extinction_err"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i := 0; i < n; i++ {
		record := []string{field(lon[i]), field(lat[i]), field(ext[i]), field(extErr[i])}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	return nil
}

func column(header map[string]int, name, path string) (int, error) {
	idx, ok := header[name]
	if !ok {
		return 0, fmt.Errorf("catalog %s: missing column %q", path, name)
	}
	return idx, nil
}

// cell parses one field, mapping empty and malformed values to NaN.
func cell(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func field(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
