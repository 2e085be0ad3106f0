package pipeline

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

// Unit statuses reported in summaries and metrics.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// Summary is the per-unit report row.
type Summary struct {
	Unit   string `json:"unit"`
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`
	Error  string `json:"error,omitempty"`

	Crowns          int            `json:"crowns"`
	Tops            int            `json:"tops"`
	WatershedCrowns int            `json:"watershed_crowns"`
	OtherCrowns     int            `json:"other_crowns"`
	SplitCrowns     int            `json:"split_crowns"`
	Children        int            `json:"children"`
	DroppedCrowns   int            `json:"dropped_crowns"`
	DroppedTops     int            `json:"dropped_tops"`
	Stems           int            `json:"stems"`
	Degenerate      map[string]int `json:"degenerate,omitempty"`

	FalsePositives       int            `json:"false_positives"`
	FalsePositiveReasons map[string]int `json:"false_positive_reasons,omitempty"`

	TotalArea    float64 `json:"total_area"`
	AreaMean     float64 `json:"area_mean"`
	AreaStdDev   float64 `json:"area_stddev"`
	AreaMedian   float64 `json:"area_median"`
	AreaP90      float64 `json:"area_p90"`
	HeightMean   float64 `json:"height_mean"`
	HeightStdDev float64 `json:"height_stddev"`
	HeightMax    float64 `json:"height_max"`

	CrownCases map[string]int `json:"crown_cases"`
	StemCases  map[string]int `json:"stem_cases"`

	Duration time.Duration `json:"duration_ns"`
}

// Summarize builds the summary of a finished unit. other is the number of
// crowns added by "other" detection before clipping.
func Summarize(out *Output, other int) Summary {
	s := Summary{
		Unit:          out.Unit,
		Status:        StatusOK,
		Crowns:        len(out.Crowns),
		Tops:          len(out.Tops),
		Children:      len(out.Relation.Children),
		DroppedCrowns: len(out.Reconcile.DroppedCrowns),
		DroppedTops:   len(out.Reconcile.DroppedTops),
		Stems:         len(out.Relation.Final.Stems),
		CrownCases:    caseCounts(out.Relation.Final.Tally.Crowns),
		StemCases:     caseCounts(out.Relation.Final.Tally.Stems),
	}

	parents := make(map[string]bool)
	for _, ch := range out.Relation.Children {
		parents[ch.Crown.ParentID] = true
	}
	s.SplitCrowns = len(parents)
	for _, c := range out.Crowns {
		if c.Method == l4trees.MethodOther {
			s.OtherCrowns++
		} else if c.Method == l4trees.MethodWatershed {
			s.WatershedCrowns++
		}
	}
	if s.OtherCrowns != other {
		diagf("unit %s: %d of %d other crowns survived clipping", out.Unit, s.OtherCrowns, other)
	}
	s.FalsePositives = len(out.FalsePositives)
	if len(out.FalsePositives) > 0 {
		s.FalsePositiveReasons = make(map[string]int)
		for _, fp := range out.FalsePositives {
			s.FalsePositiveReasons[fp.Reason]++
		}
	}
	if len(out.Relation.Degenerate) > 0 {
		s.Degenerate = make(map[string]int)
		for _, d := range out.Relation.Degenerate {
			s.Degenerate[d.Kind]++
		}
	}

	areas := make([]float64, 0, len(out.Crowns))
	heights := make([]float64, 0, len(out.Crowns))
	for _, c := range out.Crowns {
		areas = append(areas, c.Area)
		if !math.IsNaN(c.TopHeight) {
			heights = append(heights, c.TopHeight)
		}
	}
	if len(areas) > 0 {
		sort.Float64s(areas)
		s.TotalArea = floats.Sum(areas)
		s.AreaMean = stat.Mean(areas, nil)
		s.AreaStdDev = stddev(areas)
		s.AreaMedian = stat.Quantile(0.5, stat.Empirical, areas, nil)
		s.AreaP90 = stat.Quantile(0.9, stat.Empirical, areas, nil)
	}
	if len(heights) > 0 {
		s.HeightMean = stat.Mean(heights, nil)
		s.HeightStdDev = stddev(heights)
		s.HeightMax = floats.Max(heights)
	}
	return s
}

// stddev is the sample standard deviation, zero for fewer than two values
// so summaries stay JSON-encodable.
func stddev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.StdDev(x, nil)
}

func caseCounts(m map[l5relation.Case]int) map[string]int {
	out := make(map[string]int, len(m))
	for c, n := range m {
		out[string(c)] = n
	}
	return out
}
