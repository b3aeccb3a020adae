package extinction

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"dustmap/pkg/photometry"
)

// covarianceSentinel replaces non-finite entries of the per-source error
// covariance so missing measurements are downweighted instead of poisoning
// the inversion.
const covarianceSentinel = 1e10

// Nicer implements the closed-form minimum-variance color-excess estimator,
// generalized to any number of bands. Extinction follows from the adjacent
// band colors weighted by the inverse of the summed intrinsic and
// measurement color covariance.
type Nicer struct {
	logger *zap.Logger
}

// NewNicer returns a Nicer estimator. A nil logger discards everything.
func NewNicer(logger *zap.Logger) *Nicer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nicer{logger: logger}
}

// Estimate derives extinction for every science source. Both spaces must be
// magnitude spaces with equal band counts; the control field provides the
// intrinsic color distribution.
func (n *Nicer) Estimate(science, control *photometry.FeatureSpace) (*Extinction, error) {
	if science == nil || control == nil {
		return nil, ErrSpaceRequired
	}
	if science.Space() != photometry.SpaceMagnitude || control.Space() != photometry.SpaceMagnitude {
		return nil, photometry.ErrMagnitudesRequired
	}
	if science.NumFeatures() != control.NumFeatures() {
		return nil, fmt.Errorf("%w: %d vs %d features", ErrSpaceMismatch, science.NumFeatures(), control.NumFeatures())
	}

	bands := science.NumFeatures()
	colors := bands - 1

	// Color reddening from the extinction-law differences.
	coeffs := science.Vector().Coefficients()
	k := make([]float64, colors)
	for i := 0; i < colors; i++ {
		k[i] = coeffs[i] - coeffs[i+1]
	}
	kVec := mat.NewVecDense(colors, k)

	intrinsicCov, color0 := controlColorStatistics(control)

	nSrc := science.NumSources()
	values := make([]float64, nSrc)
	errsOut := make([]float64, nSrc)

	cov := mat.NewDense(colors, colors, nil)
	b := make([]float64, colors)
	bVec := mat.NewVecDense(colors, b)
	var inv mat.Dense
	var upper, covB mat.VecDense

	for s := 0; s < nSrc; s++ {
		for i := 0; i < colors; i++ {
			for j := 0; j < colors; j++ {
				cov.Set(i, j, intrinsicCov[i][j]+errorCovariance(science, s, i, j))
			}
		}

		if err := inv.Inverse(cov); err != nil {
			return nil, fmt.Errorf("extinction: singular covariance for source %d: %w", s, err)
		}

		// b = C⁻¹k / (kᵀC⁻¹k)
		upper.MulVec(&inv, kVec)
		denom := mat.Dot(&upper, kVec)
		for i := 0; i < colors; i++ {
			b[i] = upper.AtVec(i) / denom
		}

		// Missing colors enter as zero and are suppressed by their inflated
		// covariance; sources missing every color carry no estimate.
		allMissing := true
		var ext float64
		for i := 0; i < colors; i++ {
			c := science.Feature(i)[s] - science.Feature(i+1)[s]
			if isFinite(c) {
				allMissing = false
			} else {
				c = 0
			}
			ext += b[i] * (c - color0[i])
		}
		if allMissing {
			values[s] = math.NaN()
		} else {
			values[s] = ext
		}

		covB.MulVec(cov, bVec)
		errsOut[s] = math.Sqrt(mat.Dot(&covB, bVec))
	}

	out, err := NewExtinction(science, values, errsOut)
	if err != nil {
		return nil, err
	}

	n.logger.Info("nicer estimation finished",
		zap.Int("sources", out.NumSources()),
		zap.Int("finite", out.NumFinite()),
		zap.Int("bands", bands),
	)
	return out, nil
}

// controlColorStatistics returns the covariance matrix and mean of the
// control field's adjacent-band colors. Covariance entries use the sources
// finite in both colors, each color demeaned by its own finite-sample mean
// and normalized by the joint count minus one; entries with fewer than two
// joint sources are zero.
func controlColorStatistics(control *photometry.FeatureSpace) ([][]float64, []float64) {
	bands := control.NumFeatures()
	colors := bands - 1
	nSrc := control.NumSources()

	colorValues := make([][]float64, colors)
	for i := 0; i < colors; i++ {
		a, b := control.Feature(i), control.Feature(i+1)
		cv := make([]float64, nSrc)
		for s := 0; s < nSrc; s++ {
			cv[s] = a[s] - b[s]
		}
		colorValues[i] = cv
	}

	means := make([]float64, colors)
	for i, cv := range colorValues {
		var sum float64
		var count int
		for _, v := range cv {
			if !isFinite(v) {
				continue
			}
			sum += v
			count++
		}
		means[i] = sum / float64(count)
	}

	cov := make([][]float64, colors)
	for i := range cov {
		cov[i] = make([]float64, colors)
	}
	for i := 0; i < colors; i++ {
		for j := i; j < colors; j++ {
			var sum float64
			var count int
			for s := 0; s < nSrc; s++ {
				ci, cj := colorValues[i][s], colorValues[j][s]
				if !isFinite(ci) || !isFinite(cj) {
					continue
				}
				sum += (ci - means[i]) * (cj - means[j])
				count++
			}
			var c float64
			if count > 1 {
				c = sum / float64(count-1)
			}
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov, means
}

// errorCovariance returns entry (i, j) of the per-source measurement color
// covariance: adjacent colors share a band, so the matrix is tridiagonal.
// Non-finite entries become the sentinel.
func errorCovariance(space *photometry.FeatureSpace, s, i, j int) float64 {
	var v float64
	switch {
	case i == j:
		ei := space.FeatureErr(i)[s]
		ej := space.FeatureErr(i + 1)[s]
		v = ei*ei + ej*ej
	case i == j+1:
		e := space.FeatureErr(i)[s]
		v = -e * e
	case j == i+1:
		e := space.FeatureErr(j)[s]
		v = -e * e
	default:
		return 0
	}
	if !isFinite(v) {
		return covarianceSentinel
	}
	return v
}
