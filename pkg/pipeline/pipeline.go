// Package pipeline runs the full extinction workflow from photometric
// catalogs to rendered dust maps.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"dustmap/internal/models"
	"dustmap/pkg/catalog"
	"dustmap/pkg/config"
	"dustmap/pkg/density"
	"dustmap/pkg/extinction"
	"dustmap/pkg/extmap"
	"dustmap/pkg/photometry"
	"dustmap/pkg/skygrid"
	"dustmap/pkg/visualization"
)

// ErrConfigRequired reports a nil configuration.
var ErrConfigRequired = errors.New("pipeline: configuration is required")

// ExtinctionTableName is the file name of the per-source extinction table
// written into the output directory.
const ExtinctionTableName = "extinction.csv"

// Summary holds the headline numbers of one pipeline run.
type Summary struct {
	// Sources is the number of science field sources.
	Sources int

	// FiniteExtinction counts sources with a finite extinction estimate.
	FiniteExtinction int

	// MeanExtinction and StdExtinction describe the finite estimates.
	MeanExtinction float64
	StdExtinction  float64

	// MeanError is the mean of the finite extinction errors.
	MeanError float64

	// MapPixels and MapFinitePixels describe the extinction map.
	MapPixels       int
	MapFinitePixels int
}

// Pipeline wires catalogs, extinction estimators and the map builder
// together according to one configuration.
//
// The workflow consists of several steps:
// 1. Reading the science and control catalogs
// 2. Building the photometric feature spaces
// 3. Estimating per-source extinction
// 4. Writing the extinction table
// 5. Building the extinction map
// 6. Rendering the map planes
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger

	result  *extinction.Extinction
	emap    *extmap.ExtinctionMap
	summary Summary
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline for the given configuration.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes the complete workflow and stores the results for the
// accessors.
func (p *Pipeline) Run() error {
	cfg := p.cfg

	p.logger.Info("step 1: reading catalogs",
		zap.String("science", cfg.Input.ScienceCatalog),
		zap.String("control", cfg.Input.ControlCatalog))
	science, control, err := p.readCatalogs()
	if err != nil {
		return fmt.Errorf("failed to read catalogs: %w", err)
	}

	p.logger.Info("step 2: building feature spaces",
		zap.Strings("bands", cfg.Input.Bands),
		zap.Int("scienceSources", science.NumSources()),
		zap.Int("controlSources", control.NumSources()))
	scienceSpace, err := p.buildSpace(science)
	if err != nil {
		return fmt.Errorf("failed to build science feature space: %w", err)
	}
	controlSpace, err := p.buildSpace(control)
	if err != nil {
		return fmt.Errorf("failed to build control feature space: %w", err)
	}

	p.logger.Info("step 3: estimating extinction",
		zap.String("method", cfg.Estimator.Method))
	result, err := p.estimate(scienceSpace, controlSpace)
	if err != nil {
		return fmt.Errorf("failed to estimate extinction: %w", err)
	}
	p.result = result

	p.logger.Info("step 4: writing extinction table",
		zap.String("directory", cfg.Output.Directory))
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tablePath := filepath.Join(cfg.Output.Directory, ExtinctionTableName)
	space := result.Space()
	if err := catalog.WriteExtinctionCSV(tablePath, space.Lon(), space.Lat(), result.Values(), result.Errors()); err != nil {
		return fmt.Errorf("failed to write extinction table: %w", err)
	}

	p.logger.Info("step 5: building extinction map",
		zap.Float64("bandwidth", cfg.Map.Bandwidth),
		zap.String("method", cfg.Map.Method))
	emap, err := p.buildMap(result)
	if err != nil {
		return fmt.Errorf("failed to build extinction map: %w", err)
	}
	p.emap = emap

	p.logger.Info("step 6: rendering maps")
	renderer, err := visualization.NewRenderer(emap)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	if err := renderer.ExportAll(cfg.Output.Directory); err != nil {
		return fmt.Errorf("failed to render maps: %w", err)
	}

	p.summary = summarize(result, emap)
	p.logger.Info("pipeline complete",
		zap.Int("sources", p.summary.Sources),
		zap.Int("finiteExtinction", p.summary.FiniteExtinction),
		zap.Float64("meanExtinction", p.summary.MeanExtinction),
		zap.Int("mapFinitePixels", p.summary.MapFinitePixels))
	return nil
}

// Result returns the per-source estimates of the last run.
func (p *Pipeline) Result() *extinction.Extinction {
	return p.result
}

// Map returns the extinction map of the last run.
func (p *Pipeline) Map() *extmap.ExtinctionMap {
	return p.emap
}

// Summary returns the headline numbers of the last run.
func (p *Pipeline) Summary() Summary {
	return p.summary
}

func (p *Pipeline) readCatalogs() (*models.Catalog, *models.Catalog, error) {
	cols := catalog.Columns{
		Lon:   p.cfg.Input.LonColumn,
		Lat:   p.cfg.Input.LatColumn,
		Bands: p.cfg.Input.Bands,
	}

	science, err := catalog.ReadCSV(p.cfg.Input.ScienceCatalog, cols)
	if err != nil {
		return nil, nil, fmt.Errorf("science catalog: %w", err)
	}
	science.Frame = p.cfg.Input.Frame

	control, err := catalog.ReadCSV(p.cfg.Input.ControlCatalog, cols)
	if err != nil {
		return nil, nil, fmt.Errorf("control catalog: %w", err)
	}
	control.Frame = p.cfg.Input.Frame

	return science, control, nil
}

func (p *Pipeline) buildSpace(cat *models.Catalog) (*photometry.FeatureSpace, error) {
	return photometry.NewMagnitudes(cat.Mags(), cat.Errs(), p.cfg.Input.ExtinctionVector,
		photometry.WithNames(cat.BandNames()),
		photometry.WithCoordinates(cat.Lon, cat.Lat))
}

func (p *Pipeline) estimate(science, control *photometry.FeatureSpace) (*extinction.Extinction, error) {
	if p.cfg.Estimator.Method == "nicer" {
		return extinction.NewNicer(p.logger).Estimate(science, control)
	}

	kernel, err := density.ParseKernel(p.cfg.Estimator.Kernel)
	if err != nil {
		return nil, err
	}
	pnicer := extinction.NewPnicer(
		extinction.WithSampling(p.cfg.Estimator.Sampling),
		extinction.WithKernel(kernel),
		extinction.WithColors(p.cfg.Estimator.UseColors),
		extinction.WithWorkers(p.cfg.Estimator.Workers),
		extinction.WithLogger(p.logger))
	return pnicer.Estimate(science, control)
}

func (p *Pipeline) buildMap(result *extinction.Extinction) (*extmap.ExtinctionMap, error) {
	method, err := extmap.ParseMethod(p.cfg.Map.Method)
	if err != nil {
		return nil, err
	}
	builder, err := extmap.NewBuilder(p.cfg.Map.Bandwidth, method,
		extmap.WithNicest(p.cfg.Map.Nicest),
		extmap.WithFWHM(p.cfg.Map.UseFWHM),
		extmap.WithSampling(p.cfg.Map.Sampling),
		extmap.WithWorkers(p.cfg.Estimator.Workers),
		extmap.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	return builder.BuildAuto(result, skygrid.Frame(p.cfg.Input.Frame))
}

func summarize(result *extinction.Extinction, emap *extmap.ExtinctionMap) Summary {
	s := Summary{
		Sources:        result.NumSources(),
		MeanExtinction: math.NaN(),
		StdExtinction:  math.NaN(),
		MeanError:      math.NaN(),
	}

	var finiteValues, finiteErrors []float64
	for _, v := range result.Values() {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finiteValues = append(finiteValues, v)
		}
	}
	for _, e := range result.Errors() {
		if !math.IsNaN(e) && !math.IsInf(e, 0) {
			finiteErrors = append(finiteErrors, e)
		}
	}

	s.FiniteExtinction = len(finiteValues)
	if len(finiteValues) > 0 {
		s.MeanExtinction, s.StdExtinction = stat.MeanStdDev(finiteValues, nil)
	}
	if len(finiteErrors) > 0 {
		s.MeanError = stat.Mean(finiteErrors, nil)
	}

	rows, cols := emap.Shape()
	s.MapPixels = rows * cols
	s.MapFinitePixels = emap.FinitePixels()
	return s
}
