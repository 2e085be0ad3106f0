package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for a segmentation run.
// Every field is optional; the Get* methods supply defaults for anything
// a config file leaves out.
type TuningConfig struct {
	// Site selects a SiteProfile preset by name.
	Site *string `json:"site,omitempty" yaml:"site,omitempty"`

	// Raster params
	CellSize     *float64 `json:"cell_size,omitempty" yaml:"cell_size,omitempty"`
	MinHeight    *float64 `json:"min_height,omitempty" yaml:"min_height,omitempty"`
	SmoothRadius *float64 `json:"smooth_radius,omitempty" yaml:"smooth_radius,omitempty"`
	HeightScale  *int     `json:"height_scale,omitempty" yaml:"height_scale,omitempty"`
	ScaledInput  *bool    `json:"scaled_input,omitempty" yaml:"scaled_input,omitempty"`

	// Watershed and tree-top params
	EdgeOutflow    *bool    `json:"edge_outflow,omitempty" yaml:"edge_outflow,omitempty"`
	FocalRadius    *float64 `json:"focal_radius,omitempty" yaml:"focal_radius,omitempty"`
	FocalThreshold *float64 `json:"focal_threshold,omitempty" yaml:"focal_threshold,omitempty"`

	// Other-tree detection
	MinOtherCrownArea *float64 `json:"min_other_crown_area,omitempty" yaml:"min_other_crown_area,omitempty"`

	// Crown attribute outlier thresholds
	AreaOutlierMild     *float64 `json:"area_outlier_mild,omitempty" yaml:"area_outlier_mild,omitempty"`
	AreaOutlierExtreme  *float64 `json:"area_outlier_extreme,omitempty" yaml:"area_outlier_extreme,omitempty"`
	RatioOutlierMild    *float64 `json:"ratio_outlier_mild,omitempty" yaml:"ratio_outlier_mild,omitempty"`
	RatioOutlierExtreme *float64 `json:"ratio_outlier_extreme,omitempty" yaml:"ratio_outlier_extreme,omitempty"`

	// False-positive filter
	FalsePositiveFilter *bool `json:"false_positive_filter,omitempty" yaml:"false_positive_filter,omitempty"`

	// Voronoi split params
	MinStemSeparation *float64 `json:"min_stem_separation,omitempty" yaml:"min_stem_separation,omitempty"`
	MinSubCrownArea   *float64 `json:"min_sub_crown_area,omitempty" yaml:"min_sub_crown_area,omitempty"`
	AreaTolerance     *float64 `json:"area_tolerance,omitempty" yaml:"area_tolerance,omitempty"`

	// Input params
	StemIDProperty *string `json:"stem_id_property,omitempty" yaml:"stem_id_property,omitempty"`

	// Batch params
	Workers     *int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	UnitTimeout *string `json:"unit_timeout,omitempty" yaml:"unit_timeout,omitempty"` // duration string like "10m"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file
// under 1MB. Fields omitted from the file keep their defaults, so partial
// configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/canopy/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/canopy/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Site != nil && *c.Site != "" {
		if _, ok := LookupSite(*c.Site); !ok {
			return fmt.Errorf("unknown site %q", *c.Site)
		}
	}
	positive := []struct {
		name string
		v    *float64
	}{
		{"cell_size", c.CellSize},
		{"focal_radius", c.FocalRadius},
		{"area_tolerance", c.AreaTolerance},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"min_height", c.MinHeight},
		{"smooth_radius", c.SmoothRadius},
		{"focal_threshold", c.FocalThreshold},
		{"min_other_crown_area", c.MinOtherCrownArea},
		{"min_stem_separation", c.MinStemSeparation},
		{"min_sub_crown_area", c.MinSubCrownArea},
	}
	for _, p := range nonNegative {
		if p.v != nil && *p.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", p.name, *p.v)
		}
	}
	if c.GetAreaOutlierMild() > c.GetAreaOutlierExtreme() {
		return fmt.Errorf("area_outlier_mild %f exceeds area_outlier_extreme %f",
			c.GetAreaOutlierMild(), c.GetAreaOutlierExtreme())
	}
	if c.GetRatioOutlierMild() < c.GetRatioOutlierExtreme() {
		return fmt.Errorf("ratio_outlier_mild %f is below ratio_outlier_extreme %f",
			c.GetRatioOutlierMild(), c.GetRatioOutlierExtreme())
	}
	if c.HeightScale != nil && *c.HeightScale <= 0 {
		return fmt.Errorf("height_scale must be positive, got %d", *c.HeightScale)
	}
	if c.StemIDProperty != nil && *c.StemIDProperty == "" {
		return fmt.Errorf("stem_id_property must not be empty")
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.UnitTimeout != nil && *c.UnitTimeout != "" {
		if _, err := time.ParseDuration(*c.UnitTimeout); err != nil {
			return fmt.Errorf("invalid unit_timeout '%s': %w", *c.UnitTimeout, err)
		}
	}
	return nil
}

// SiteProfile returns the configured site preset, or the generic profile.
func (c *TuningConfig) SiteProfile() SiteProfile {
	if c.Site != nil {
		if p, ok := LookupSite(*c.Site); ok {
			return p
		}
	}
	return GenericSite
}

// GetCellSize returns cell_size, or the site's resolution for its point density.
func (c *TuningConfig) GetCellSize() float64 {
	if c.CellSize == nil {
		return c.SiteProfile().CellSize()
	}
	return *c.CellSize
}

// GetMinHeight returns min_height or the site default.
func (c *TuningConfig) GetMinHeight() float64 {
	if c.MinHeight == nil {
		return c.SiteProfile().MinHeight
	}
	return *c.MinHeight
}

// GetSmoothRadius returns smooth_radius or the default (0, disabled).
func (c *TuningConfig) GetSmoothRadius() float64 {
	if c.SmoothRadius == nil {
		return 0
	}
	return *c.SmoothRadius
}

// GetHeightScale returns height_scale or the default.
func (c *TuningConfig) GetHeightScale() int {
	if c.HeightScale == nil {
		return 100
	}
	return *c.HeightScale
}

// GetScaledInput returns scaled_input or the default.
func (c *TuningConfig) GetScaledInput() bool {
	if c.ScaledInput == nil {
		return false
	}
	return *c.ScaledInput
}

// GetEdgeOutflow returns edge_outflow or the default.
func (c *TuningConfig) GetEdgeOutflow() bool {
	if c.EdgeOutflow == nil {
		return false
	}
	return *c.EdgeOutflow
}

// GetFocalRadius returns focal_radius or the site default.
func (c *TuningConfig) GetFocalRadius() float64 {
	if c.FocalRadius == nil {
		return c.SiteProfile().FocalRadius
	}
	return *c.FocalRadius
}

// GetFocalThreshold returns focal_threshold or the default.
func (c *TuningConfig) GetFocalThreshold() float64 {
	if c.FocalThreshold == nil {
		return 0
	}
	return *c.FocalThreshold
}

// GetMinOtherCrownArea returns min_other_crown_area or the default.
func (c *TuningConfig) GetMinOtherCrownArea() float64 {
	if c.MinOtherCrownArea == nil {
		return 12
	}
	return *c.MinOtherCrownArea
}

// GetAreaOutlierMild returns area_outlier_mild or the default.
func (c *TuningConfig) GetAreaOutlierMild() float64 {
	if c.AreaOutlierMild == nil {
		return 250
	}
	return *c.AreaOutlierMild
}

// GetAreaOutlierExtreme returns area_outlier_extreme or the default.
func (c *TuningConfig) GetAreaOutlierExtreme() float64 {
	if c.AreaOutlierExtreme == nil {
		return 350
	}
	return *c.AreaOutlierExtreme
}

// GetRatioOutlierMild returns ratio_outlier_mild or the default.
func (c *TuningConfig) GetRatioOutlierMild() float64 {
	if c.RatioOutlierMild == nil {
		return 0.7
	}
	return *c.RatioOutlierMild
}

// GetRatioOutlierExtreme returns ratio_outlier_extreme or the default.
func (c *TuningConfig) GetRatioOutlierExtreme() float64 {
	if c.RatioOutlierExtreme == nil {
		return 0.6
	}
	return *c.RatioOutlierExtreme
}

// GetFalsePositiveFilter returns false_positive_filter or the default.
func (c *TuningConfig) GetFalsePositiveFilter() bool {
	if c.FalsePositiveFilter == nil {
		return false
	}
	return *c.FalsePositiveFilter
}

// GetMinStemSeparation returns min_stem_separation or the default.
func (c *TuningConfig) GetMinStemSeparation() float64 {
	if c.MinStemSeparation == nil {
		return 0.05
	}
	return *c.MinStemSeparation
}

// GetMinSubCrownArea returns min_sub_crown_area or the default.
func (c *TuningConfig) GetMinSubCrownArea() float64 {
	if c.MinSubCrownArea == nil {
		return 0.25
	}
	return *c.MinSubCrownArea
}

// GetAreaTolerance returns area_tolerance or the default.
func (c *TuningConfig) GetAreaTolerance() float64 {
	if c.AreaTolerance == nil {
		return 1e-6
	}
	return *c.AreaTolerance
}

// GetStemIDProperty returns stem_id_property or the default.
func (c *TuningConfig) GetStemIDProperty() string {
	if c.StemIDProperty == nil {
		return "tree_id"
	}
	return *c.StemIDProperty
}

// GetWorkers returns workers or the default. Zero means one per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetUnitTimeout parses and returns the UnitTimeout. Zero disables it.
func (c *TuningConfig) GetUnitTimeout() time.Duration {
	if c.UnitTimeout == nil || *c.UnitTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.UnitTimeout)
	if err != nil {
		return 0
	}
	return d
}
