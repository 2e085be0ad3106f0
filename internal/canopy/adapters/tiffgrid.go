package adapters

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

// ReadWorldFile parses a six-line ESRI world file (.tfw). Rotated or
// non-square rasters are rejected.
func ReadWorldFile(r io.Reader) (l1grid.Geotransform, error) {
	sc := bufio.NewScanner(r)
	var p []float64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return l1grid.Geotransform{}, fmt.Errorf("%w: world file line %d: %v", l1grid.ErrMalformedGrid, len(p)+1, err)
		}
		p = append(p, v)
	}
	if err := sc.Err(); err != nil {
		return l1grid.Geotransform{}, err
	}
	if len(p) != 6 {
		return l1grid.Geotransform{}, fmt.Errorf("%w: world file has %d values, want 6", l1grid.ErrMalformedGrid, len(p))
	}
	a, d, b, e, c, f := p[0], p[1], p[2], p[3], p[4], p[5]
	if d != 0 || b != 0 {
		return l1grid.Geotransform{}, fmt.Errorf("%w: rotated rasters are not supported", l1grid.ErrMalformedGrid)
	}
	if a <= 0 || math.Abs(a+e) > 1e-9*a {
		return l1grid.Geotransform{}, fmt.Errorf("%w: cells must be square and north-up, got %v x %v", l1grid.ErrMalformedGrid, a, e)
	}
	// C and F locate the centre of the upper-left cell.
	return l1grid.Geotransform{OriginX: c - a/2, OriginY: f + a/2, CellSize: a}, nil
}

// ReadTIFFGrid decodes a single-band 8 or 16 bit TIFF into a grid. Values
// are the raw integers, so height rasters stored in centimetres need the
// scaled-input option downstream.
func ReadTIFFGrid(r io.Reader, geo l1grid.Geotransform, noData float64) (l1grid.Grid, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return l1grid.Grid{}, fmt.Errorf("%w: %v", l1grid.ErrMalformedGrid, err)
	}
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	vals := make([]float64, 0, rows*cols)
	switch m := img.(type) {
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				vals = append(vals, float64(m.Gray16At(x, y).Y))
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				vals = append(vals, float64(m.GrayAt(x, y).Y))
			}
		}
	default:
		return l1grid.Grid{}, fmt.Errorf("%w: unsupported TIFF pixel type %T", l1grid.ErrMalformedGrid, img)
	}
	return l1grid.New(rows, cols, geo, noData, vals)
}

// LoadTIFFGrid reads path and its world file sidecar (.tfw, .tifw or .wld).
func LoadTIFFGrid(path string, noData float64) (l1grid.Grid, error) {
	geo, err := loadWorldFile(path)
	if err != nil {
		return l1grid.Grid{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return l1grid.Grid{}, err
	}
	defer f.Close()
	g, err := ReadTIFFGrid(f, geo, noData)
	if err != nil {
		return l1grid.Grid{}, fmt.Errorf("%s: %w", path, err)
	}
	diagf("tiff grid %s: %dx%d, cell %.3f", filepath.Base(path), g.Rows(), g.Cols(), geo.CellSize)
	return g, nil
}

func loadWorldFile(path string) (l1grid.Geotransform, error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".tfw", ".tifw", ".wld"} {
		f, err := os.Open(base + ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return l1grid.Geotransform{}, err
		}
		geo, err := ReadWorldFile(f)
		f.Close()
		if err != nil {
			return l1grid.Geotransform{}, fmt.Errorf("%s: %w", base+ext, err)
		}
		return geo, nil
	}
	return l1grid.Geotransform{}, fmt.Errorf("%s: no world file: %w", path, fs.ErrNotExist)
}

// IsTIFF reports whether path names a TIFF raster.
func IsTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// LoadGrid reads a TIFF or ESRI ASCII raster depending on the extension.
func LoadGrid(path string, noData float64) (l1grid.Grid, error) {
	if IsTIFF(path) {
		return LoadTIFFGrid(path, noData)
	}
	return LoadASCIIGrid(path)
}
