package pipeline

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dustmap/pkg/config"
)

func TestNewValidatesConfiguration(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigRequired)

	cfg := config.DefaultConfig()
	cfg.Estimator.Method = "bayesian"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestRunFailsOnMissingCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Input.ScienceCatalog = filepath.Join(dir, "missing.csv")

	p, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, p.Run())
}

func TestRunNicerEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticCatalogs(t, dir, 800, 31)

	cfg := testConfig(dir)
	cfg.Estimator.Method = "nicer"

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run())

	require.NotNil(t, p.Result())
	require.NotNil(t, p.Map())

	s := p.Summary()
	assert.Equal(t, 800, s.Sources)
	assert.Equal(t, 800, s.FiniteExtinction)
	assert.InDelta(t, 0.75, s.MeanExtinction, 0.15)
	assert.Greater(t, s.MeanError, 0.0)
	assert.Greater(t, s.MapPixels, 0)
	assert.Greater(t, s.MapFinitePixels, 0)

	for _, name := range []string{
		ExtinctionTableName,
		"extinction.png",
		"extinction_error.png",
		"source_count.png",
		"extinction_map.csv",
	} {
		_, err := os.Stat(filepath.Join(cfg.Output.Directory, name))
		assert.NoError(t, err, name)
	}

	table, err := os.ReadFile(filepath.Join(cfg.Output.Directory, ExtinctionTableName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(table)), "\n")
	assert.Len(t, lines, 801)
	assert.Equal(t, "lon,lat,extinction,extinction_err", lines[0])
}

func TestRunPnicerEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline run in short mode")
	}

	dir := t.TempDir()
	writeSyntheticCatalogs(t, dir, 600, 47)

	cfg := testConfig(dir)
	cfg.Estimator.Method = "pnicer"

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run())

	s := p.Summary()
	assert.Equal(t, 600, s.Sources)
	assert.Greater(t, s.FiniteExtinction, 500)
	assert.InDelta(t, 0.75, s.MeanExtinction, 0.2)
	assert.Greater(t, s.MapFinitePixels, 0)
}

// Helper functions for tests

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Input.ScienceCatalog = filepath.Join(dir, "science.csv")
	cfg.Input.ControlCatalog = filepath.Join(dir, "control.csv")
	cfg.Input.Bands = []string{"J", "H"}
	cfg.Input.ExtinctionVector = []float64{2.5, 1.55}
	cfg.Map.Bandwidth = 0.3
	cfg.Map.Method = "uniform"
	cfg.Output.Directory = filepath.Join(dir, "out")
	cfg.Output.Verbose = false
	return cfg
}

// writeSyntheticCatalogs writes a reddened science field and a clean control
// field with shared intrinsic colors.
func writeSyntheticCatalogs(t *testing.T, dir string, n int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	writeCatalog := func(name string, reddened bool) {
		var sb strings.Builder
		sb.WriteString("lon,lat,J,J_err,H,H_err\n")
		for i := 0; i < n; i++ {
			lon := 10 + rng.Float64()
			lat := -30.5 + rng.Float64()
			j := 12 + 0.3*rng.NormFloat64()
			h := j - 0.5 - 0.1*rng.NormFloat64()
			if reddened {
				a := 1.5 * rng.Float64()
				j += 2.5 * a
				h += 1.55 * a
			}
			j += 0.05 * rng.NormFloat64()
			h += 0.05 * rng.NormFloat64()
			sb.WriteString(fmt.Sprintf("%.6f,%.6f,%.4f,0.05,%.4f,0.05\n", lon, lat, j, h))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sb.String()), 0o644))
	}

	writeCatalog("science.csv", true)
	writeCatalog("control.csv", false)
}
