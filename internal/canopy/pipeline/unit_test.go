package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/config"
	"github.com/banshee-data/treecrown/internal/testutil"
	"github.com/banshee-data/treecrown/internal/timeutil"
)

func twoPeakUnit(code string, stems ...l5relation.Stem) Unit {
	return Unit{
		Config: config.UnitConfig{Code: code, CRS: "EPSG:25832", CellSize: 1},
		CHM:    testutil.TwoPeaks(),
		DTM:    testutil.FlatGrid(5, 5, testutil.UnitGeo(5), 120),
		Stems:  stems,
	}
}

func stem(id string, x, y float64) l5relation.Stem {
	return l5relation.Stem{TreeID: id, Point: orb.Point{x, y}}
}

func TestRunUnit_TwoPeaks(t *testing.T) {
	u := twoPeakUnit("U1", stem("s1", 0.5, 3.5), stem("s2", 4.5, 1.5), stem("s3", 100, 100))
	out, err := RunUnit(context.Background(), u, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, out.Crowns, 2)
	require.Len(t, out.Tops, 2)
	assert.Equal(t, "U1", out.Unit)
	assert.Len(t, out.Digest, 64)

	s := out.Summary
	assert.Equal(t, StatusOK, s.Status)
	assert.Equal(t, 2, s.WatershedCrowns)
	assert.Zero(t, s.OtherCrowns)
	assert.Zero(t, s.SplitCrowns)
	assert.InDelta(t, 25.0, s.TotalArea, 1e-9)
	assert.Equal(t, 10.0, s.HeightMax)
	assert.InDelta(t, 9.5, s.HeightMean, 1e-9)
	assert.Equal(t, 2, s.CrownCases["Case1"])
	assert.Equal(t, 2, s.StemCases["Case1"])
	assert.Equal(t, 1, s.StemCases["Case3"])
	assert.Equal(t, 3, s.Stems)

	for _, c := range out.Crowns {
		assert.NotEmpty(t, c.TopID)
		assert.Greater(t, c.Attributes.HullArea, 0.0)
		assert.Equal(t, 120.0, c.TopAltitude)
	}
}

func TestRunUnit_SplitsMultiStemCrown(t *testing.T) {
	u := twoPeakUnit("U1", stem("s1", 0.5, 3.5), stem("s1b", 0.5, 4.5), stem("s2", 4.5, 1.5))
	out, err := RunUnit(context.Background(), u, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, out.Crowns, 3)
	assert.Equal(t, 1, out.Summary.SplitCrowns)
	assert.Equal(t, 2, out.Summary.Children)
	assert.Equal(t, 1, out.Summary.WatershedCrowns)
	assert.Equal(t, 1, out.Relation.Initial.Tally.Crowns[l5relation.Case2])
	assert.Equal(t, 3, out.Summary.CrownCases["Case1"])
	assert.Equal(t, 3, out.Summary.StemCases["Case1"])
	assert.InDelta(t, 25.0, out.Summary.TotalArea, 1e-6)

	for _, ch := range out.Relation.Children {
		assert.Equal(t, l4trees.MethodVoronoi, ch.Crown.Method)
		assert.Greater(t, ch.Crown.Attributes.HullArea, 0.0, "children get attributes")
		assert.Greater(t, ch.Crown.Attributes.Diameter, 0.0)
	}

	crownByID := make(map[string]l4trees.Crown, len(out.Crowns))
	for _, c := range out.Crowns {
		crownByID[c.ID] = c
	}
	require.Len(t, out.Tops, 2)
	for _, top := range out.Tops {
		c, ok := crownByID[top.CrownID]
		require.True(t, ok, "top %s names missing crown %s", top.ID, top.CrownID)
		assert.Equal(t, top.ID, c.TopID)
		assert.True(t, planar.PolygonContains(c.Polygon, top.Point), top.ID)
	}
	for _, top := range out.Tops {
		if top.ID == "U1/T000001" {
			assert.Equal(t, "U1/C000001.1", top.CrownID, "top follows the child holding it")
		}
	}
}

// postFilter enables the false-positive filter with post limits that fit
// the two-peak crowns. Hull ratio outliers are switched off.
func postFilter() Options {
	opts := DefaultOptions()
	opts.Attributes.RatioMild = 0
	opts.Attributes.RatioExtreme = 0
	opts.FalsePositives = l4trees.FalsePositiveOptions{Enabled: true, PostMaxArea: 100}
	return opts
}

// roadAtSecondPeak is a mask square inside the cell of the 9 m peak.
func roadAtSecondPeak() []orb.Polygon {
	return []orb.Polygon{{{{4.2, 1.2}, {4.8, 1.2}, {4.8, 1.8}, {4.2, 1.8}, {4.2, 1.2}}}}
}

func TestRunUnit_RemovesFalsePositives(t *testing.T) {
	ctx := context.Background()
	u := twoPeakUnit("U1", stem("s1", 0.5, 3.5), stem("s2", 4.5, 1.5))
	u.Mask = roadAtSecondPeak()
	out, err := RunUnit(ctx, u, postFilter())
	require.NoError(t, err)

	require.Len(t, out.FalsePositives, 1)
	fp := out.FalsePositives[0]
	assert.Equal(t, l4trees.ReasonMaskedPost, fp.Reason)
	assert.True(t, planar.PolygonContains(fp.Crown.Polygon, orb.Point{4.5, 1.5}))
	require.NotNil(t, fp.Top)
	assert.Equal(t, fp.Crown.TopID, fp.Top.ID)

	require.Len(t, out.Crowns, 1)
	require.Len(t, out.Tops, 1)
	assert.NotEqual(t, fp.Crown.ID, out.Crowns[0].ID)
	assert.Equal(t, out.Crowns[0].ID, out.Tops[0].CrownID)

	s := out.Summary
	assert.Equal(t, 1, s.FalsePositives)
	assert.Equal(t, map[string]int{l4trees.ReasonMaskedPost: 1}, s.FalsePositiveReasons)
	assert.Equal(t, 1, s.CrownCases["Case1"])
	assert.Equal(t, 1, s.StemCases["Case1"])
	assert.Equal(t, 1, s.StemCases["Case3"])

	// Without a mask only outliers could go, and there are none.
	u.Mask = nil
	out, err = RunUnit(ctx, u, postFilter())
	require.NoError(t, err)
	assert.Empty(t, out.FalsePositives)
	assert.Len(t, out.Crowns, 2)
	assert.Zero(t, out.Summary.FalsePositives)

	// A disabled filter ignores the mask.
	u.Mask = roadAtSecondPeak()
	out, err = RunUnit(ctx, u, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, out.FalsePositives)
	assert.Len(t, out.Crowns, 2)
}

func TestRunUnit_ClipsToBoundary(t *testing.T) {
	u := twoPeakUnit("U1", stem("s1", 0.5, 3.5), stem("s2", 4.5, 1.5))
	u.Config.Boundary = orb.Polygon{{{0, 0}, {2.5, 0}, {2.5, 5}, {0, 5}, {0, 0}}}
	out, err := RunUnit(context.Background(), u, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, out.Crowns, 1)
	require.Len(t, out.Tops, 1)
	assert.Equal(t, "U1/T000001", out.Tops[0].ID)
	assert.Equal(t, 1, out.Summary.StemCases["Case3"], "stem of the clipped tree has no crown")
}

func TestRunUnit_ScaledInput(t *testing.T) {
	u := twoPeakUnit("U1")
	u.CHM = u.CHM.Map(func(_, _ int, v float64) float64 {
		return float64(l1grid.EncodeHeight(v, 100))
	})
	u.DTM = u.DTM.Map(func(_, _ int, v float64) float64 {
		return float64(l1grid.EncodeHeight(v, 100))
	})
	opts := DefaultOptions()
	opts.Tops.ScaledInput = true

	out, err := RunUnit(context.Background(), u, opts)
	require.NoError(t, err)
	require.Len(t, out.Tops, 2)
	assert.Equal(t, 10.0, out.Summary.HeightMax)
}

func TestRunUnit_MinHeightMasksEverything(t *testing.T) {
	u := twoPeakUnit("U1", stem("s1", 0.5, 3.5))
	opts := DefaultOptions()
	opts.MinHeight = 50

	out, err := RunUnit(context.Background(), u, opts)
	require.NoError(t, err)
	assert.Empty(t, out.Crowns)
	assert.Equal(t, 1, out.Summary.StemCases["Case3"])
}

func TestRunUnit_Errors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		unit  func() Unit
		want  error
		stage string
	}{
		{
			name:  "missing chm",
			unit:  func() Unit { u := twoPeakUnit("U1"); u.CHM = l1grid.Grid{}; return u },
			want:  ErrInputMissing,
			stage: StageValidate,
		},
		{
			name:  "cell size mismatch",
			unit:  func() Unit { u := twoPeakUnit("U1"); u.Config.CellSize = 0.5; return u },
			want:  ErrMalformedGrid,
			stage: StageValidate,
		},
		{
			name: "dtm shape mismatch",
			unit: func() Unit {
				u := twoPeakUnit("U1")
				u.DTM = testutil.FlatGrid(4, 4, testutil.UnitGeo(4), 120)
				return u
			},
			want:  ErrMalformedGrid,
			stage: StageValidate,
		},
		{
			name:  "duplicate stems",
			unit:  func() Unit { return twoPeakUnit("U1", stem("a", 1, 1), stem("a", 2, 2)) },
			want:  ErrProcessingFailure,
			stage: StageValidate,
		},
		{
			name:  "cancelled",
			ctx:   cancelled,
			unit:  func() Unit { return twoPeakUnit("U1") },
			want:  context.Canceled,
			stage: StageValidate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			_, err := RunUnit(ctx, tt.unit(), DefaultOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var ue *UnitError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, "U1", ue.Unit)
			assert.Equal(t, tt.stage, ue.Stage)
		})
	}
}

func TestRunUnit_Deterministic(t *testing.T) {
	u := twoPeakUnit("U1", stem("s1", 0.5, 3.5), stem("s1b", 0.5, 4.5), stem("s2", 4.5, 1.5))
	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	a, err := runUnit(context.Background(), u, DefaultOptions(), clock, "")
	require.NoError(t, err)
	b, err := runUnit(context.Background(), u, DefaultOptions(), clock, "")
	require.NoError(t, err)

	if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

func TestDigest(t *testing.T) {
	digest := func(u Unit, opts Options) string {
		t.Helper()
		d, err := Digest(u, opts)
		require.NoError(t, err)
		return d
	}
	u := twoPeakUnit("U1", stem("a", 1, 1), stem("b", 2, 2))
	opts := DefaultOptions()
	base := digest(u, opts)

	reordered := twoPeakUnit("U1", stem("b", 2, 2), stem("a", 1, 1))
	assert.Equal(t, base, digest(reordered, opts), "stem order does not matter")

	moved := twoPeakUnit("U1", stem("a", 1, 1), stem("b", 2, 3))
	assert.NotEqual(t, base, digest(moved, opts))

	taller := u
	taller.CHM = u.CHM.Map(func(r, c int, v float64) float64 {
		if r == 0 && c == 0 {
			return v + 0.01
		}
		return v
	})
	assert.NotEqual(t, base, digest(taller, opts))

	tuned := opts
	tuned.Split.MinSubCrownArea = 1
	assert.NotEqual(t, base, digest(u, tuned))

	masked := u
	masked.Mask = roadAtSecondPeak()
	assert.NotEqual(t, base, digest(masked, opts))
}

func TestDigest_UnencodableOptions(t *testing.T) {
	u := twoPeakUnit("U1")
	opts := DefaultOptions()
	opts.OtherMinArea = math.NaN()

	d, err := Digest(u, opts)
	assert.Error(t, err)
	assert.Empty(t, d)

	_, err = RunUnit(context.Background(), u, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessingFailure)
	var ue *UnitError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, StageValidate, ue.Stage)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 2.5, opts.MinHeight)
	assert.Equal(t, 1.5, opts.Tops.Radius)
	assert.Equal(t, 100, opts.Tops.HeightScale)
	assert.Equal(t, 12.0, opts.OtherMinArea)
	assert.Equal(t, l5relation.DefaultSplitOptions(), opts.Split)
	assert.Equal(t, l4trees.DefaultAttributeOptions(), opts.Attributes)
	assert.False(t, opts.Watershed.EdgeOutflow)
	assert.False(t, opts.FalsePositives.Enabled)
	assert.Equal(t, 9.0, opts.FalsePositives.PostMaxArea)

	cfg := config.EmptyTuningConfig()
	on := true
	cfg.FalsePositiveFilter = &on
	opts = OptionsFromConfig(cfg)
	assert.True(t, opts.FalsePositives.Enabled)
	assert.Equal(t, 6.5, opts.FalsePositives.PostMinArea)
}
