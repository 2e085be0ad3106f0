package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/treecrown/internal/canopy/adapters"
	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/canopy/pipeline"
	"github.com/banshee-data/treecrown/internal/config"
	"github.com/banshee-data/treecrown/internal/security"
)

// unitLoader reads one unit directory:
//
//	<input>/<unit>/chm.asc|chm.tif     required
//	<input>/<unit>/dtm.asc|dtm.tif     optional
//	<input>/<unit>/stems.geojson       optional, else the shared stems
//	<input>/<unit>/boundary.geojson    optional unit polygon
//	<input>/<unit>/mask.geojson        optional road polygons for the false-positive filter
type unitLoader struct {
	dir        string
	crs        string
	cellSize   float64
	noData     float64
	idProperty string
	shared     []l5relation.Stem
}

func (l *unitLoader) Load(ctx context.Context, code string) (pipeline.Unit, error) {
	udir := filepath.Join(l.dir, code)
	if err := security.ValidatePathWithinDirectory(udir, l.dir); err != nil {
		return pipeline.Unit{}, err
	}
	chmPath, ok := findGrid(udir, "chm")
	if !ok {
		return pipeline.Unit{}, fmt.Errorf("%w: %s has no chm.asc or chm.tif", pipeline.ErrInputMissing, udir)
	}
	chm, err := adapters.LoadGrid(chmPath, l.noData)
	if err != nil {
		return pipeline.Unit{}, inputErr(err)
	}
	var dtm l1grid.Grid
	if p, ok := findGrid(udir, "dtm"); ok {
		if dtm, err = adapters.LoadGrid(p, l.noData); err != nil {
			return pipeline.Unit{}, inputErr(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Unit{}, err
	}

	u := pipeline.Unit{
		Config: config.UnitConfig{Code: code, CRS: l.crs, CellSize: l.cellSize, Extent: chm.Bound()},
		CHM:    chm,
		DTM:    dtm,
	}
	if b, err := readBoundary(filepath.Join(udir, "boundary.geojson")); err == nil {
		u.Config.Boundary = b
	} else if !errors.Is(err, fs.ErrNotExist) {
		return pipeline.Unit{}, err
	}

	if u.Mask, err = readMask(filepath.Join(udir, "mask.geojson")); err != nil {
		return pipeline.Unit{}, err
	}

	f, err := os.Open(filepath.Join(udir, "stems.geojson"))
	switch {
	case err == nil:
		defer f.Close()
		if u.Stems, err = adapters.ReadStems(f, l.idProperty); err != nil {
			return pipeline.Unit{}, err
		}
	case errors.Is(err, fs.ErrNotExist):
		u.Stems = stemsWithin(l.shared, u.Config)
	default:
		return pipeline.Unit{}, err
	}
	return u, nil
}

func inputErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", pipeline.ErrInputMissing, err)
	}
	return err
}

func findGrid(dir, name string) (string, bool) {
	for _, ext := range []string{".asc", ".tif", ".tiff"} {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// readBoundary takes the first polygon of a GeoJSON file.
func readBoundary(path string) (orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			return g, nil
		case orb.MultiPolygon:
			if len(g) > 0 {
				return g[0], nil
			}
		}
	}
	return nil, fmt.Errorf("%s: no polygon feature", path)
}

// readMask reads every polygon of a mask file. A missing file is no mask.
func readMask(path string) ([]orb.Polygon, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	polys, err := adapters.ReadPolygons(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return polys, nil
}

// stemsWithin keeps the shared stems inside the unit boundary, or inside
// the raster extent when the unit has none.
func stemsWithin(stems []l5relation.Stem, u config.UnitConfig) []l5relation.Stem {
	var out []l5relation.Stem
	for _, s := range stems {
		if len(u.Boundary) > 0 {
			if planar.PolygonContains(u.Boundary, s.Point) {
				out = append(out, s)
			}
		} else if u.Extent.Contains(s.Point) {
			out = append(out, s)
		}
	}
	return out
}

// discoverUnits lists the unit directories under dir.
func discoverUnits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var units []string
	for _, e := range entries {
		if e.IsDir() {
			units = append(units, e.Name())
		}
	}
	sort.Strings(units)
	return units, nil
}

func readStemsFile(path, idProperty string) ([]l5relation.Stem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return adapters.ReadStems(f, idProperty)
}
