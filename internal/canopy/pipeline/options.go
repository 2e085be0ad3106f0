package pipeline

import (
	"time"

	"github.com/banshee-data/treecrown/internal/canopy/l2watershed"
	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/config"
)

// Options carries every tunable of one unit run.
type Options struct {
	// MinHeight masks CHM cells below this height (m). Zero disables.
	MinHeight float64 `json:"min_height"`
	// SmoothRadius applies a focal maximum of this radius (m) before
	// segmentation. Zero disables.
	SmoothRadius float64                  `json:"smooth_radius"`
	Watershed    l2watershed.Options      `json:"watershed"`
	Tops         l4trees.TopOptions       `json:"tops"`
	OtherMinArea float64                  `json:"min_other_crown_area"`
	Attributes   l4trees.AttributeOptions `json:"attributes"`
	// FalsePositives removes non-tree crowns before the relation stage.
	// The mask comes from the unit.
	FalsePositives l4trees.FalsePositiveOptions `json:"false_positives"`
	Split          l5relation.SplitOptions      `json:"split"`
	// Workers bounds concurrent units in a batch. Zero means one per CPU.
	Workers int `json:"workers"`
	// UnitTimeout cancels a unit that runs longer. Zero disables.
	UnitTimeout time.Duration `json:"unit_timeout"`
}

// DefaultOptions returns the options of an empty tuning config.
func DefaultOptions() Options {
	return OptionsFromConfig(config.EmptyTuningConfig())
}

// OptionsFromConfig resolves a tuning config into pipeline options.
func OptionsFromConfig(cfg *config.TuningConfig) Options {
	fp := l4trees.DefaultFalsePositiveOptions()
	fp.Enabled = cfg.GetFalsePositiveFilter()
	return Options{
		MinHeight:    cfg.GetMinHeight(),
		SmoothRadius: cfg.GetSmoothRadius(),
		Watershed:    l2watershed.Options{EdgeOutflow: cfg.GetEdgeOutflow()},
		Tops: l4trees.TopOptions{
			Radius:      cfg.GetFocalRadius(),
			Threshold:   cfg.GetFocalThreshold(),
			HeightScale: cfg.GetHeightScale(),
			ScaledInput: cfg.GetScaledInput(),
		},
		OtherMinArea: cfg.GetMinOtherCrownArea(),
		Attributes: l4trees.AttributeOptions{
			AreaMild:     cfg.GetAreaOutlierMild(),
			AreaExtreme:  cfg.GetAreaOutlierExtreme(),
			RatioMild:    cfg.GetRatioOutlierMild(),
			RatioExtreme: cfg.GetRatioOutlierExtreme(),
		},
		FalsePositives: fp,
		Split: l5relation.SplitOptions{
			MinStemSeparation: cfg.GetMinStemSeparation(),
			MinSubCrownArea:   cfg.GetMinSubCrownArea(),
			AreaTolerance:     cfg.GetAreaTolerance(),
		},
		Workers:     cfg.GetWorkers(),
		UnitTimeout: cfg.GetUnitTimeout(),
	}
}
