package models

// Band holds one photometric passband of a catalog: apparent magnitudes and
// their measurement errors, aligned with the catalog's source list. Missing
// measurements are NaN.
type Band struct {
	// Name identifies the passband (e.g. "J", "H", "Ks").
	Name string

	// Mag contains the apparent magnitude of each source.
	Mag []float64

	// Err contains the magnitude measurement error of each source.
	Err []float64
}

// Catalog is a photometric source catalog with sky coordinates. All per-source
// slices share the same length and ordering.
type Catalog struct {
	// Lon and Lat are source coordinates in degrees.
	Lon []float64
	Lat []float64

	// Frame names the coordinate frame of Lon/Lat ("galactic" or "equatorial").
	Frame string

	// Bands holds the photometric measurements, one entry per passband.
	Bands []Band
}

// NumSources returns the number of catalog rows.
func (c *Catalog) NumSources() int {
	return len(c.Lon)
}

// BandNames returns the passband names in catalog order.
func (c *Catalog) BandNames() []string {
	names := make([]string, len(c.Bands))
	for i, b := range c.Bands {
		names[i] = b.Name
	}
	return names
}

// Mags returns the per-band magnitude slices in catalog order. The slices are
// the catalog's own backing arrays, not copies.
func (c *Catalog) Mags() [][]float64 {
	mags := make([][]float64, len(c.Bands))
	for i, b := range c.Bands {
		mags[i] = b.Mag
	}
	return mags
}

// Errs returns the per-band magnitude error slices in catalog order. The
// slices are the catalog's own backing arrays, not copies.
func (c *Catalog) Errs() [][]float64 {
	errs := make([][]float64, len(c.Bands))
	for i, b := range c.Bands {
		errs[i] = b.Err
	}
	return errs
}
