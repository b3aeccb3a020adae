// Package skygrid builds conic equal-area pixel grids over sky coordinates
// for extinction mapping.
package skygrid

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// DefaultPixelSize is the fallback pixel scale in degrees.
const DefaultPixelSize = 10.0 / 60.0

var (
	// ErrUnknownFrame reports a coordinate frame outside the supported set.
	ErrUnknownFrame = errors.New(`skygrid: frame must be "galactic" or "equatorial"`)

	// ErrPixelSize reports a non-positive pixel scale.
	ErrPixelSize = errors.New("skygrid: pixel size must be positive")

	// ErrCoordinateMismatch reports longitude and latitude arrays of unequal
	// length.
	ErrCoordinateMismatch = errors.New("skygrid: longitude and latitude lengths differ")

	// ErrNoCoordinates reports input without a single finite coordinate pair.
	ErrNoCoordinates = errors.New("skygrid: no finite coordinates")

	// ErrDegenerateParallel reports a standard parallel of zero, where the
	// conic projection collapses.
	ErrDegenerateParallel = errors.New("skygrid: standard parallel must not be zero")
)

// Frame names the coordinate frame of a grid.
type Frame string

const (
	// FrameGalactic uses galactic longitude and latitude.
	FrameGalactic Frame = "galactic"
	// FrameEquatorial uses right ascension and declination.
	FrameEquatorial Frame = "equatorial"
)

// ParseFrame validates a frame name.
func ParseFrame(name string) (Frame, error) {
	switch Frame(name) {
	case FrameGalactic, FrameEquatorial:
		return Frame(name), nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrUnknownFrame, name)
	}
}

// Header describes the conic equal-area projection of a pixel grid.
type Header struct {
	Frame            Frame
	NAxis1, NAxis2   int
	CRPix1, CRPix2   float64
	CRVal1, CRVal2   float64
	CDelt1, CDelt2   float64
	StandardParallel float64
}

// AxisTypes returns the axis type names of the frame.
func (h Header) AxisTypes() (string, string) {
	if h.Frame == FrameEquatorial {
		return "RA---COE", "DEC--COE"
	}
	return "GLON-COE", "GLAT-COE"
}

// Grid holds the pixel-center sky coordinates of a conic equal-area
// projection, indexed [row][column].
type Grid struct {
	Header Header
	Lon    [][]float64
	Lat    [][]float64
}

// Build constructs a pixel grid covering the given coordinates. Spans are
// padded outward to multiples of 0.2 degrees, the reference value sits at the
// span midpoints, and the standard parallel is the median latitude rounded to
// one decimal. Non-finite coordinate pairs are ignored.
func Build(lon, lat []float64, frame Frame, pixelSize float64) (*Grid, error) {
	if _, err := ParseFrame(string(frame)); err != nil {
		return nil, err
	}
	if !(pixelSize > 0) {
		return nil, fmt.Errorf("%w: got %g", ErrPixelSize, pixelSize)
	}
	if len(lon) != len(lat) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrCoordinateMismatch, len(lon), len(lat))
	}

	var finiteLon, finiteLat []float64
	for i := range lon {
		if isFinite(lon[i]) && isFinite(lat[i]) {
			finiteLon = append(finiteLon, lon[i])
			finiteLat = append(finiteLat, lat[i])
		}
	}
	if len(finiteLon) == 0 {
		return nil, ErrNoCoordinates
	}

	lonLo := math.Floor(floats.Min(finiteLon)*5) / 5
	lonHi := math.Ceil(floats.Max(finiteLon)*5) / 5
	latLo := math.Floor(floats.Min(finiteLat)*5) / 5
	latHi := math.Ceil(floats.Max(finiteLat)*5) / 5

	naxis1 := int(math.Ceil((lonHi - lonLo) / pixelSize))
	naxis2 := int(math.Ceil((latHi - latLo) / pixelSize))
	if naxis1 < 1 {
		naxis1 = 1
	}
	if naxis2 < 1 {
		naxis2 = 1
	}

	parallel := math.Round(median(finiteLat)*10) / 10
	if parallel == 0 {
		return nil, ErrDegenerateParallel
	}

	header := Header{
		Frame:            frame,
		NAxis1:           naxis1,
		NAxis2:           naxis2,
		CRPix1:           float64(naxis1) / 2,
		CRPix2:           float64(naxis2) / 2,
		CRVal1:           (lonLo + lonHi) / 2,
		CRVal2:           (latLo + latHi) / 2,
		CDelt1:           -pixelSize,
		CDelt2:           pixelSize,
		StandardParallel: parallel,
	}

	proj := newConic(header)
	gridLon := make([][]float64, naxis2)
	gridLat := make([][]float64, naxis2)
	for y := 0; y < naxis2; y++ {
		rowLon := make([]float64, naxis1)
		rowLat := make([]float64, naxis1)
		for x := 0; x < naxis1; x++ {
			rowLon[x], rowLat[x] = proj.pixelToWorld(float64(x), float64(y))
		}
		gridLon[y] = rowLon
		gridLat[y] = rowLat
	}

	return &Grid{Header: header, Lon: gridLon, Lat: gridLat}, nil
}

// PixelToWorld maps zero-based pixel coordinates to sky coordinates in
// degrees. Pixels outside the projection domain yield NaN latitude.
func (g *Grid) PixelToWorld(x, y float64) (float64, float64) {
	return newConic(g.Header).pixelToWorld(x, y)
}

// WorldToPixel maps sky coordinates in degrees to zero-based pixel
// coordinates.
func (g *Grid) WorldToPixel(lon, lat float64) (float64, float64) {
	return newConic(g.Header).worldToPixel(lon, lat)
}

// AngularDistance returns the great-circle distance between two points in
// degrees, by the spherical law of cosines.
func AngularDistance(lon1, lat1, lon2, lat2 float64) float64 {
	c := math.Sin(lat1*degToRad)*math.Sin(lat2*degToRad) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Cos((lon1-lon2)*degToRad)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c) * radToDeg
}

// conic is a single-standard-parallel equal-area conic projection centered
// on the grid reference point. Radii are kept in degrees.
type conic struct {
	n              float64
	c              float64
	rho0           float64
	lon0, lat0     float64
	crpix1, crpix2 float64
	cdelt1, cdelt2 float64
}

func newConic(h Header) conic {
	theta := h.StandardParallel * degToRad
	sin, cos := math.Sincos(theta)
	p := conic{
		n:      sin,
		c:      cos*cos + 2*sin*sin,
		lon0:   h.CRVal1,
		lat0:   h.CRVal2,
		crpix1: h.CRPix1,
		crpix2: h.CRPix2,
		cdelt1: h.CDelt1,
		cdelt2: h.CDelt2,
	}
	p.rho0 = p.radius(h.CRVal2)
	return p
}

func (p conic) radius(latDeg float64) float64 {
	return math.Sqrt(p.c-2*p.n*math.Sin(latDeg*degToRad)) / p.n * radToDeg
}

func (p conic) forward(lon, lat float64) (float64, float64) {
	rho := p.radius(lat)
	a := p.n * (lon - p.lon0) * degToRad
	return rho * math.Sin(a), p.rho0 - rho*math.Cos(a)
}

func (p conic) inverse(u, v float64) (float64, float64) {
	rho := math.Hypot(u, p.rho0-v)
	a := math.Atan2(u, p.rho0-v)
	if p.n < 0 {
		rho = -rho
		a = math.Atan2(-u, v-p.rho0)
	}
	lon := p.lon0 + a/p.n*radToDeg
	rhoRad := rho * degToRad
	sinLat := (p.c - rhoRad*rhoRad*p.n*p.n) / (2 * p.n)
	lat := math.Asin(sinLat) * radToDeg
	return lon, lat
}

func (p conic) pixelToWorld(x, y float64) (float64, float64) {
	u := p.cdelt1 * (x + 1 - p.crpix1)
	v := p.cdelt2 * (y + 1 - p.crpix2)
	return p.inverse(u, v)
}

func (p conic) worldToPixel(lon, lat float64) (float64, float64) {
	u, v := p.forward(lon, lat)
	return u/p.cdelt1 + p.crpix1 - 1, v/p.cdelt2 + p.crpix2 - 1
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
