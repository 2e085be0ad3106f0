package report

import (
	"fmt"
	"image/color"
	"io"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

// MapSize is the edge length of a rendered crown map.
const MapSize = 8 * vg.Inch

// MapInput is everything drawn on one unit map. Cases is keyed by crown id
// and tree id; missing entries draw as unclassified.
type MapInput struct {
	Title  string
	Crowns []l4trees.Crown
	Tops   []l4trees.Top
	Stems  []l5relation.Stem
	Cases  map[string]l5relation.Case
}

// CrownMap plots crown outlines coloured by case, tops as triangles and
// stems as case-coloured dots.
func CrownMap(in MapInput) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = in.Title
	p.X.Label.Text = "Easting (m)"
	p.Y.Label.Text = "Northing (m)"
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	legend := make(map[l5relation.Case]bool)
	for _, c := range in.Crowns {
		cs := caseOf(in.Cases, c.ID)
		parts := append([]orb.Polygon{c.Polygon}, c.Extra...)
		for _, poly := range parts {
			for _, ring := range poly {
				line, err := plotter.NewLine(ringXYs(ring))
				if err != nil {
					return nil, fmt.Errorf("crown %s: %w", c.ID, err)
				}
				line.Color = caseColor(cs)
				line.Width = vg.Points(1)
				p.Add(line)
				if !legend[cs] {
					legend[cs] = true
					p.Legend.Add("crown "+string(cs), line)
				}
			}
		}
	}

	if len(in.Tops) > 0 {
		xys := make(plotter.XYs, len(in.Tops))
		for i, t := range in.Tops {
			xys[i] = plotter.XY{X: t.Point[0], Y: t.Point[1]}
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("tops: %w", err)
		}
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		sc.GlyphStyle.Color = color.Black
		sc.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(sc)
		p.Legend.Add("top", sc)
	}

	byCase := make(map[l5relation.Case]plotter.XYs)
	for _, s := range in.Stems {
		cs := caseOf(in.Cases, s.TreeID)
		byCase[cs] = append(byCase[cs], plotter.XY{X: s.Point[0], Y: s.Point[1]})
	}
	cases := make([]l5relation.Case, 0, len(byCase))
	for cs := range byCase {
		cases = append(cases, cs)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i] < cases[j] })
	for _, cs := range cases {
		sc, err := plotter.NewScatter(byCase[cs])
		if err != nil {
			return nil, fmt.Errorf("stems: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Color = caseColor(cs)
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("stem "+string(cs), sc)
	}
	tracef("crown map %q: %d crowns, %d tops, %d stems", in.Title, len(in.Crowns), len(in.Tops), len(in.Stems))
	return p, nil
}

// SaveCrownMap renders the map to path; the format follows the extension.
func SaveCrownMap(path string, in MapInput) error {
	p, err := CrownMap(in)
	if err != nil {
		return err
	}
	return p.Save(MapSize, MapSize, path)
}

// WriteCrownMapPNG renders the map as PNG to w.
func WriteCrownMapPNG(w io.Writer, in MapInput) error {
	p, err := CrownMap(in)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(MapSize, MapSize, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func ringXYs(ring orb.Ring) plotter.XYs {
	xys := make(plotter.XYs, len(ring))
	for i, pt := range ring {
		xys[i] = plotter.XY{X: pt[0], Y: pt[1]}
	}
	return xys
}

func caseOf(cases map[string]l5relation.Case, id string) l5relation.Case {
	if cs, ok := cases[id]; ok {
		return cs
	}
	return l5relation.Unclassified
}

func caseColor(cs l5relation.Case) color.Color {
	hex, ok := caseColors[cs]
	if !ok {
		hex = caseColors[l5relation.Unclassified]
	}
	var r, g, b uint8
	fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
