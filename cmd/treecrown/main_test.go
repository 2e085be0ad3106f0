package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/treecrown/internal/canopy/adapters"
	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/pipeline"
	"github.com/banshee-data/treecrown/internal/testutil"
)

const twoStems = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"Point","coordinates":[0.5,3.5]},"properties":{"tree_id":"%s-1"}},
 {"type":"Feature","geometry":{"type":"Point","coordinates":[4.5,1.5]},"properties":{"tree_id":"%s-2"}}]}`

func writeGrid(t *testing.T, path string, g l1grid.Grid) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, adapters.WriteASCIIGrid(f, g))
	require.NoError(t, f.Close())
}

// writeUnit lays out one two-peak unit directory.
func writeUnit(t *testing.T, input, code string, withStems bool) {
	t.Helper()
	dir := filepath.Join(input, code)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeGrid(t, filepath.Join(dir, "chm.asc"), testutil.TwoPeaks())
	writeGrid(t, filepath.Join(dir, "dtm.asc"), testutil.FlatGrid(5, 5, testutil.UnitGeo(5), 120))
	if withStems {
		body := strings.ReplaceAll(twoStems, "%s", code)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stems.geojson"), []byte(body), 0o644))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging("diag", io.Discard))
	assert.NoError(t, setupLogging("off", io.Discard))
	assert.Error(t, setupLogging("loud", io.Discard))
}

func TestDiscoverUnits(t *testing.T) {
	input := t.TempDir()
	writeUnit(t, input, "B", false)
	writeUnit(t, input, "A", false)
	require.NoError(t, os.WriteFile(filepath.Join(input, "README"), nil, 0o644))

	units, err := discoverUnits(input)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, units)
}

func TestUnitLoader(t *testing.T) {
	input := t.TempDir()
	writeUnit(t, input, "U1", true)
	writeUnit(t, input, "U2", false)
	shared, err := adapters.ReadStems(strings.NewReader(strings.ReplaceAll(twoStems, "%s", "shared")), "tree_id")
	require.NoError(t, err)

	l := &unitLoader{dir: input, crs: "EPSG:25832", cellSize: 1, idProperty: "tree_id", shared: shared}
	u, err := l.Load(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", u.Config.Code)
	assert.Equal(t, 25, u.CHM.Len())
	assert.Equal(t, 25, u.DTM.Len())
	require.Len(t, u.Stems, 2)
	assert.Equal(t, "U1-1", u.Stems[0].TreeID)
	assert.Empty(t, u.Mask)

	mask := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[5,0],[5,1],[0,1],[0,0]]]},"properties":{}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(input, "U2", "mask.geojson"), []byte(mask), 0o644))
	u, err = l.Load(context.Background(), "U2")
	require.NoError(t, err)
	require.Len(t, u.Stems, 2, "shared stems inside the extent")
	assert.Equal(t, "shared-1", u.Stems[0].TreeID)
	require.Len(t, u.Mask, 1)
	assert.Equal(t, orb.Point{5, 1}, u.Mask[0][0][2])

	require.NoError(t, os.WriteFile(filepath.Join(input, "U2", "mask.geojson"), []byte(`{"type":`), 0o644))
	_, err = l.Load(context.Background(), "U2")
	assert.Error(t, err)

	_, err = l.Load(context.Background(), "U3")
	assert.True(t, errors.Is(err, pipeline.ErrInputMissing), "got %v", err)
	_, err = l.Load(context.Background(), "../U1")
	assert.Error(t, err)
}

func TestRunStatusReport(t *testing.T) {
	input := t.TempDir()
	writeUnit(t, input, "U1", true)
	writeUnit(t, input, "U2", true)
	require.NoError(t, os.MkdirAll(filepath.Join(input, "U3"), 0o755))

	work := t.TempDir()
	db := filepath.Join(work, "treecrown.db")
	cfg := filepath.Join(work, "tuning.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("cell_size: 1\nworkers: 2\n"), 0o644))
	metrics := filepath.Join(work, "treecrown.prom")

	out, err := execute(t, "run", "--db", db, "--config", cfg, "--log-level", "off",
		"--input", input, "--metrics-file", metrics, "--force=false")
	require.Error(t, err, "U3 has no CHM")
	assert.Contains(t, err.Error(), "1 of 3 units failed")
	assert.Contains(t, out, "U1")
	assert.Contains(t, out, "failed")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `treecrown_units_total{status="ok"} 2`)

	out, err = execute(t, "run", "--db", db, "--config", cfg, "--log-level", "off",
		"--input", input, "--force=false", "U1", "U2")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "skipped"))

	out, err = execute(t, "status", "--db", db, "--log-level", "off", "--format", "json")
	require.NoError(t, err)
	var status struct {
		Runs     []map[string]any `json:"runs"`
		Manifest []map[string]any `json:"manifest"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Len(t, status.Runs, 2)
	assert.Len(t, status.Manifest, 3)

	reportDir := filepath.Join(work, "report")
	_, err = execute(t, "report", "--db", db, "--log-level", "off", "--out", reportDir, "--no-maps=false", "U1")
	require.NoError(t, err)
	for _, name := range []string{"tabulation.csv", "cases.html", "U1_crowns.geojson", "U1_tops.geojson", "U1_relations.csv", "U1_map.png"} {
		_, err := os.Stat(filepath.Join(reportDir, name))
		assert.NoError(t, err, name)
	}
	tab, err := os.ReadFile(filepath.Join(reportDir, "tabulation.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(tab), "TOTAL,stem,Case1,4")
}

func TestMigrateAndVersion(t *testing.T) {
	db := filepath.Join(t.TempDir(), "treecrown.db")
	out, err := execute(t, "migrate", "version", "--db", db, "--log-level", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 3 of 3")

	out, err = execute(t, "version", "--log-level", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "treecrown dev")
}
