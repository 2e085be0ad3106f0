package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"runtime/debug"
	"sort"

	"github.com/paulmach/orb"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l2watershed"
	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/config"
	"github.com/banshee-data/treecrown/internal/timeutil"
)

// Unit is everything one processing unit needs. DTM may be the zero Grid;
// Stems and Mask may be empty.
type Unit struct {
	Config config.UnitConfig
	CHM    l1grid.Grid
	DTM    l1grid.Grid
	Stems  []l5relation.Stem
	// Mask holds road polygons for the false-positive filter.
	Mask []orb.Polygon
}

// Output is the result of one unit.
type Output struct {
	Unit      string
	Digest    string
	Crowns    []l4trees.Crown
	Tops      []l4trees.Top
	Relation  l5relation.Relation
	Reconcile l4trees.Reconciled
	// FalsePositives are the crowns removed before the relation stage.
	FalsePositives []l4trees.FalsePositive
	Summary        Summary
}

// RunUnit runs every stage for one unit. The context is checked between
// stages; a panic in any stage is returned as a processing failure.
func RunUnit(ctx context.Context, u Unit, opts Options) (*Output, error) {
	return runUnit(ctx, u, opts, timeutil.RealClock{}, "")
}

// runUnit takes a precomputed digest when the caller already has one.
func runUnit(ctx context.Context, u Unit, opts Options, clock timeutil.Clock, digest string) (out *Output, err error) {
	code := u.Config.Code
	stage := StageValidate
	start := clock.Now()
	defer func() {
		if r := recover(); r != nil {
			opsf("unit %s: panic in %s: %v\n%s", code, stage, r, debug.Stack())
			out = nil
			err = &UnitError{Unit: code, Stage: stage, Err: fmt.Errorf("%w: panic: %v", ErrProcessingFailure, r)}
		}
	}()
	step := func(next string) error {
		if err := ctx.Err(); err != nil {
			return unitErr(code, stage, err)
		}
		tracef("unit %s: %s done after %v", code, stage, clock.Since(start))
		stage = next
		return nil
	}

	if err := validate(u); err != nil {
		return nil, unitErr(code, stage, err)
	}
	if digest == "" {
		if digest, err = Digest(u, opts); err != nil {
			return nil, unitErr(code, stage, err)
		}
	}

	if err := step(StagePrefilter); err != nil {
		return nil, err
	}
	height := prefilter(u.CHM, opts)

	if err := step(StageSegment); err != nil {
		return nil, err
	}
	seg, err := l2watershed.Segment(height, opts.Watershed)
	if err != nil {
		return nil, unitErr(code, stage, err)
	}
	crowns := l4trees.BuildCrowns(seg, code)

	if err := step(StageTops); err != nil {
		return nil, err
	}
	tops, err := l4trees.ExtractTops(seg, u.DTM, opts.Tops, code)
	if err != nil {
		return nil, unitErr(code, stage, err)
	}

	if err := step(StageReconcile); err != nil {
		return nil, err
	}
	rec := l4trees.Reconcile(crowns, tops)

	if err := step(StageOther); err != nil {
		return nil, err
	}
	otherCrowns, otherTops := l4trees.DetectOther(height, u.DTM, rec.Crowns,
		l4trees.OtherOptions{MinArea: opts.OtherMinArea, Tops: opts.Tops},
		code, len(crowns), len(tops))
	allCrowns := append(append([]l4trees.Crown(nil), rec.Crowns...), otherCrowns...)
	allTops := append(append([]l4trees.Top(nil), rec.Tops...), otherTops...)

	if err := step(StageClip); err != nil {
		return nil, err
	}
	allCrowns, allTops = l4trees.ClipToUnit(allCrowns, allTops, u.Config.Boundary)

	if err := step(StageFalsePositives); err != nil {
		return nil, err
	}
	var fps []l4trees.FalsePositive
	if opts.FalsePositives.Enabled {
		fpOpts := opts.FalsePositives
		fpOpts.Mask = u.Mask
		allCrowns, allTops, fps = l4trees.FilterFalsePositives(
			l4trees.WithAttributes(allCrowns, opts.Attributes), allTops, fpOpts)
	}

	if err := step(StageRelate); err != nil {
		return nil, err
	}
	rel := l5relation.Relate(allCrowns, allTops, u.Stems, opts.Split)

	if err := step(StageAttributes); err != nil {
		return nil, err
	}
	final := l4trees.WithAttributes(rel.Crowns, opts.Attributes)
	rel.Crowns = final
	byID := make(map[string]l4trees.Crown, len(final))
	for _, c := range final {
		byID[c.ID] = c
	}
	for i := range rel.Children {
		rel.Children[i].Crown = byID[rel.Children[i].Crown.ID]
	}

	out = &Output{
		Unit:           code,
		Digest:         digest,
		Crowns:         final,
		Tops:           rel.Tops,
		Relation:       rel,
		Reconcile:      rec,
		FalsePositives: fps,
	}
	out.Summary = Summarize(out, len(otherCrowns))
	out.Summary.Duration = clock.Since(start)
	diagf("unit %s: %d crowns, %d tops, %d stems in %v", code, len(final), len(rel.Tops), len(u.Stems), out.Summary.Duration)
	return out, nil
}

func validate(u Unit) error {
	if err := u.Config.Validate(); err != nil {
		return err
	}
	if u.CHM.Len() == 0 {
		return fmt.Errorf("%w: unit %s has no CHM", ErrInputMissing, u.Config.Code)
	}
	if math.Abs(u.CHM.Geo().CellSize-u.Config.CellSize) > 1e-9 {
		return fmt.Errorf("%w: CHM cell size %v, unit expects %v", ErrMalformedGrid, u.CHM.Geo().CellSize, u.Config.CellSize)
	}
	if u.DTM.Len() > 0 && !u.DTM.SameShape(u.CHM) {
		return fmt.Errorf("%w: DTM %dx%d does not match CHM %dx%d", ErrMalformedGrid,
			u.DTM.Rows(), u.DTM.Cols(), u.CHM.Rows(), u.CHM.Cols())
	}
	seen := make(map[string]bool, len(u.Stems))
	for _, s := range u.Stems {
		if s.TreeID == "" {
			return fmt.Errorf("%w: stem without tree id", ErrProcessingFailure)
		}
		if seen[s.TreeID] {
			return fmt.Errorf("%w: duplicate stem id %q", ErrProcessingFailure, s.TreeID)
		}
		seen[s.TreeID] = true
	}
	return nil
}

// prefilter applies the minimum height mask and the optional focal
// maximum. Thresholds follow the CHM encoding.
func prefilter(chm l1grid.Grid, opts Options) l1grid.Grid {
	h := chm
	if opts.MinHeight > 0 {
		floor := opts.MinHeight
		if opts.Tops.ScaledInput && opts.Tops.HeightScale > 0 {
			floor *= float64(opts.Tops.HeightScale)
		}
		h = l1grid.MinHeightMask(h, floor)
	}
	if opts.SmoothRadius > 0 {
		h = l1grid.FocalMax(h, opts.SmoothRadius)
	}
	return h
}

// Digest fingerprints a unit's inputs and options. A stored unit with the
// same digest does not need to be recomputed.
func Digest(u Unit, opts Options) (string, error) {
	h := sha256.New()
	meta, err := json.Marshal(struct {
		Unit config.UnitConfig `json:"unit"`
		Opts Options           `json:"opts"`
		Mask []orb.Polygon     `json:"mask,omitempty"`
	}{u.Config, opts, u.Mask})
	if err != nil {
		return "", fmt.Errorf("encoding unit %s options: %w", u.Config.Code, err)
	}
	h.Write(meta)
	hashGrid(h, u.CHM)
	hashGrid(h, u.DTM)

	stems := append([]l5relation.Stem(nil), u.Stems...)
	sort.Slice(stems, func(i, j int) bool { return stems[i].TreeID < stems[j].TreeID })
	var buf [8]byte
	for _, s := range stems {
		h.Write([]byte(s.TreeID))
		h.Write([]byte{0})
		for _, v := range s.Point {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashGrid(h hash.Hash, g l1grid.Grid) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(g.Rows())<<32|uint64(uint32(g.Cols())))
	h.Write(buf[:])
	geo := g.Geo()
	for _, v := range []float64{geo.OriginX, geo.OriginY, geo.CellSize, g.NoData()} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, v := range g.Values() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
}

