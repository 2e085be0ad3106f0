package l5relation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
)

// ErrGeometryDegenerate marks geometry that had to be merged or dropped.
var ErrGeometryDegenerate = errors.New("degenerate geometry")

// SplitOptions controls Voronoi splitting of multi-stem crowns.
type SplitOptions struct {
	// MinStemSeparation merges stems closer than this into one seed.
	MinStemSeparation float64
	// MinSubCrownArea removes seeds whose cell is smaller than this.
	MinSubCrownArea float64
	// AreaTolerance is the relative area mismatch tolerated between a
	// parent crown and the union of its children.
	AreaTolerance float64
}

// DefaultSplitOptions returns 5 cm stem merging and a 0.25 m² floor.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{MinStemSeparation: 0.05, MinSubCrownArea: 0.25, AreaTolerance: 1e-6}
}

// Child is one sub-crown of a split crown, linked to exactly one stem.
type Child struct {
	Crown         l4trees.Crown
	TreeID        string
	MergedTreeIDs []string
}

// Degenerate describes one merge or removal made while splitting.
type Degenerate struct {
	CrownID string
	Kind    string // "coincident", "small-cell" or "multi-part"
	TreeIDs []string
	Detail  string
}

// SplitResult holds the children of one crown and any degenerate events.
type SplitResult struct {
	Children   []Child
	Degenerate []Degenerate
}

type seed struct {
	treeID string
	point  orb.Point
	merged []string
}

// Split tessellates a crown into Voronoi cells around the given stems and
// intersects every cell with the crown. Coincident stems and cells below
// the minimum area are merged into a neighbouring seed rather than emitted
// as slivers. Children are numbered <crown>.1, <crown>.2, ... in tree id
// order of their seeds.
func Split(crown l4trees.Crown, stems []Stem, opts SplitOptions) (SplitResult, error) {
	var res SplitResult
	if len(stems) == 0 {
		return res, fmt.Errorf("split %s: no stems", crown.ID)
	}
	if len(crown.Polygon) == 0 || len(crown.Polygon[0]) < 4 {
		return res, fmt.Errorf("split %s: empty polygon: %w", crown.ID, ErrGeometryDegenerate)
	}

	// Work in a frame centred on the crown to keep map coordinates small.
	origin := crown.Polygon.Bound().Center()
	local := normalize(translate(crown.Polygon, -origin[0], -origin[1]))
	parentArea := math.Abs(planar.Area(local))

	sorted := append([]Stem(nil), stems...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TreeID < sorted[j].TreeID })
	var seeds []seed
	for _, s := range sorted {
		p := orb.Point{s.Point[0] - origin[0], s.Point[1] - origin[1]}
		merged := false
		for k := range seeds {
			if planar.Distance(seeds[k].point, p) < opts.MinStemSeparation {
				seeds[k].merged = append(seeds[k].merged, s.TreeID)
				res.Degenerate = append(res.Degenerate, Degenerate{
					CrownID: crown.ID,
					Kind:    "coincident",
					TreeIDs: []string{seeds[k].treeID, s.TreeID},
					Detail:  fmt.Sprintf("stems %.3f apart", planar.Distance(seeds[k].point, p)),
				})
				merged = true
				break
			}
		}
		if !merged {
			seeds = append(seeds, seed{treeID: s.TreeID, point: p})
		}
	}

	var cells []orb.MultiPolygon
	for {
		var err error
		cells, err = tessellate(local, seeds)
		if err != nil {
			return SplitResult{}, fmt.Errorf("split %s: %w", crown.ID, err)
		}
		if len(seeds) == 1 {
			break
		}
		smallest, smallArea := -1, 0.0
		for k, cell := range cells {
			a := multiArea(cell)
			if (a <= areaEpsilon || a < opts.MinSubCrownArea) && (smallest < 0 || a < smallArea) {
				smallest, smallArea = k, a
			}
		}
		if smallest < 0 {
			break
		}
		drop := seeds[smallest]
		seeds = append(seeds[:smallest:smallest], seeds[smallest+1:]...)
		host := nearestSeed(seeds, drop.point)
		seeds[host].merged = append(seeds[host].merged, drop.treeID)
		seeds[host].merged = append(seeds[host].merged, drop.merged...)
		res.Degenerate = append(res.Degenerate, Degenerate{
			CrownID: crown.ID,
			Kind:    "small-cell",
			TreeIDs: append([]string{drop.treeID}, drop.merged...),
			Detail:  fmt.Sprintf("cell area %.4f below %.4f, merged into %s", smallArea, opts.MinSubCrownArea, seeds[host].treeID),
		})
	}

	total := 0.0
	for k, cell := range cells {
		world := orb.MultiPolygon{}
		for _, p := range cell {
			world = append(world, translate(p, origin[0], origin[1]))
		}
		if len(world) == 0 {
			continue
		}
		area := multiArea(cell)
		total += area
		child := crown
		child.ID = l4trees.ChildID(crown.ID, k+1)
		child.ParentID = crown.ID
		child.Method = l4trees.MethodVoronoi
		child.TopID = ""
		child.Area = area
		child.Perimeter = planar.Length(world)
		lead := partContaining(world, seeds[k].point, origin)
		child.Polygon = world[lead]
		child.Extra = nil
		if len(world) > 1 {
			// The part holding the stem leads; the rest ride along.
			for i, part := range world {
				if i != lead {
					child.Extra = append(child.Extra, part)
				}
			}
			res.Degenerate = append(res.Degenerate, Degenerate{
				CrownID: crown.ID,
				Kind:    "multi-part",
				TreeIDs: []string{seeds[k].treeID},
				Detail:  fmt.Sprintf("cell cut into %d parts by the crown outline", len(world)),
			})
		}
		sort.Strings(seeds[k].merged)
		res.Children = append(res.Children, Child{
			Crown:         child,
			TreeID:        seeds[k].treeID,
			MergedTreeIDs: seeds[k].merged,
		})
	}

	if parentArea > 0 {
		if rel := math.Abs(total-parentArea) / parentArea; rel > opts.AreaTolerance {
			opsf("split %s: children cover %.6f of %.6f (relative error %.2e)", crown.ID, total, parentArea, rel)
		}
	}
	for _, d := range res.Degenerate {
		opsf("split %s: %v: %s %v: %s", d.CrownID, ErrGeometryDegenerate, d.Kind, d.TreeIDs, d.Detail)
	}
	tracef("split %s into %d children", crown.ID, len(res.Children))
	return res, nil
}

// tessellate clips the crown by every bisector of each seed.
func tessellate(crown orb.Polygon, seeds []seed) ([]orb.MultiPolygon, error) {
	cells := make([]orb.MultiPolygon, len(seeds))
	for i, s := range seeds {
		cell := orb.MultiPolygon{crown}
		for j, o := range seeds {
			if i == j {
				continue
			}
			h := bisector(s.point, o.point)
			var next orb.MultiPolygon
			for _, p := range cell {
				clipped, ok := clipPolygon(p, h)
				if !ok {
					return nil, fmt.Errorf("clip cell of %s against %s: %w", s.treeID, o.treeID, ErrGeometryDegenerate)
				}
				next = append(next, clipped...)
			}
			cell = next
		}
		cells[i] = cell
	}
	return cells, nil
}

func nearestSeed(seeds []seed, p orb.Point) int {
	best, bestD := 0, math.Inf(1)
	for k, s := range seeds {
		if d := planar.Distance(s.point, p); d < bestD {
			best, bestD = k, d
		}
	}
	return best
}

// partContaining returns the index of the part holding the seed, or of the
// largest part when the seed sits on a boundary.
func partContaining(world orb.MultiPolygon, localSeed, origin orb.Point) int {
	p := orb.Point{localSeed[0] + origin[0], localSeed[1] + origin[1]}
	for i, part := range world {
		if planar.PolygonContains(part, p) {
			return i
		}
	}
	best, bestA := 0, -1.0
	for i, part := range world {
		if a := math.Abs(planar.Area(part)); a > bestA {
			best, bestA = i, a
		}
	}
	return best
}
