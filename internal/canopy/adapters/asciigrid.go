package adapters

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

// ReadASCIIGrid parses an ESRI ASCII raster. Both corner and centre
// registration are accepted; NODATA_value defaults to l1grid.DefaultNoData.
func ReadASCIIGrid(r io.Reader) (l1grid.Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64, 6)
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if !isHeaderKey(key) {
			first = sc.Text()
			break
		}
		if !sc.Scan() {
			return l1grid.Grid{}, fmt.Errorf("%w: header %s has no value", l1grid.ErrMalformedGrid, key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return l1grid.Grid{}, fmt.Errorf("%w: header %s: %v", l1grid.ErrMalformedGrid, key, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return l1grid.Grid{}, fmt.Errorf("read ascii grid: %w", err)
	}

	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[k]; !ok {
			return l1grid.Grid{}, fmt.Errorf("%w: missing %s", l1grid.ErrMalformedGrid, k)
		}
	}
	cols, rows, cell := int(header["ncols"]), int(header["nrows"]), header["cellsize"]
	x, okX := header["xllcorner"]
	y, okY := header["yllcorner"]
	if cx, ok := header["xllcenter"]; ok && !okX {
		x, okX = cx-cell/2, true
	}
	if cy, ok := header["yllcenter"]; ok && !okY {
		y, okY = cy-cell/2, true
	}
	if !okX || !okY {
		return l1grid.Grid{}, fmt.Errorf("%w: missing lower-left corner", l1grid.ErrMalformedGrid)
	}
	noData := l1grid.DefaultNoData
	if v, ok := header["nodata_value"]; ok {
		noData = v
	}
	if rows <= 0 || cols <= 0 {
		return l1grid.Grid{}, fmt.Errorf("%w: %dx%d cells", l1grid.ErrMalformedGrid, rows, cols)
	}

	vals := make([]float64, 0, rows*cols)
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("%w: cell %d: %v", l1grid.ErrMalformedGrid, len(vals), err)
		}
		vals = append(vals, v)
		return nil
	}
	if first != "" {
		if err := parse(first); err != nil {
			return l1grid.Grid{}, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return l1grid.Grid{}, err
		}
	}
	if err := sc.Err(); err != nil {
		return l1grid.Grid{}, fmt.Errorf("read ascii grid: %w", err)
	}

	geo := l1grid.Geotransform{OriginX: x, OriginY: y + float64(rows)*cell, CellSize: cell}
	g, err := l1grid.New(rows, cols, geo, noData, vals)
	if err != nil {
		return l1grid.Grid{}, err
	}
	diagf("ascii grid %dx%d, cell %.3f, %d valid cells", rows, cols, cell, g.ValidCount())
	return g, nil
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

// LoadASCIIGrid reads an ESRI ASCII raster from path.
func LoadASCIIGrid(path string) (l1grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return l1grid.Grid{}, err
	}
	defer f.Close()
	g, err := ReadASCIIGrid(f)
	if err != nil {
		return l1grid.Grid{}, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// WriteASCIIGrid writes g as a corner-registered ESRI ASCII raster. NaN
// cells are written as the grid's NoData value.
func WriteASCIIGrid(w io.Writer, g l1grid.Grid) error {
	bw := bufio.NewWriter(w)
	geo := g.Geo()
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Cols(), g.Rows())
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", ftoa(geo.OriginX), ftoa(geo.OriginY-float64(g.Rows())*geo.CellSize))
	fmt.Fprintf(bw, "cellsize %s\nNODATA_value %s\n", ftoa(geo.CellSize), ftoa(g.NoData()))
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			v := g.At(r, c)
			if math.IsNaN(v) {
				v = g.NoData()
			}
			bw.WriteString(ftoa(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
