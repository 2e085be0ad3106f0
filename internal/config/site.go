package config

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// SiteProfile carries the per-municipality differences between runs.
type SiteProfile struct {
	Name string `json:"name"`
	// CRS is the projected reference system of all inputs, e.g. "EPSG:25832".
	CRS string `json:"crs"`
	// PointDensity is the lidar density in points per m².
	PointDensity float64 `json:"point_density"`
	MinHeight    float64 `json:"min_height"`
	FocalRadius  float64 `json:"focal_radius"`
	// VegetationClasses reports whether the point cloud carries vegetation
	// classes, which decides how the upstream CHM was built.
	VegetationClasses bool `json:"vegetation_classes"`
}

// CellSize maps point density to raster resolution.
func (p SiteProfile) CellSize() float64 {
	switch {
	case p.PointDensity >= 4:
		return 0.25
	case p.PointDensity >= 2:
		return 0.5
	default:
		return 1
	}
}

// GenericSite is used when no site is configured.
var GenericSite = SiteProfile{
	Name:         "generic",
	CRS:          "EPSG:25832",
	PointDensity: 2,
	MinHeight:    2.5,
	FocalRadius:  1.5,
}

var sites = map[string]SiteProfile{
	"oslo":         {Name: "oslo", CRS: "EPSG:25832", PointDensity: 10, MinHeight: 2.5, FocalRadius: 1.5, VegetationClasses: true},
	"baerum":       {Name: "baerum", CRS: "EPSG:25832", PointDensity: 10, MinHeight: 2.5, FocalRadius: 1.5, VegetationClasses: true},
	"kristiansand": {Name: "kristiansand", CRS: "EPSG:25832", PointDensity: 10, MinHeight: 2.5, FocalRadius: 1.5},
	"bodo":         {Name: "bodo", CRS: "EPSG:25833", PointDensity: 10, MinHeight: 2.5, FocalRadius: 1.5},
}

// LookupSite returns the named preset. Names are case-insensitive.
func LookupSite(name string) (SiteProfile, bool) {
	p, ok := sites[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// SiteNames lists the known presets.
func SiteNames() []string {
	return []string{"baerum", "bodo", "kristiansand", "oslo"}
}

// UnitConfig is the explicit per-unit context handed to every stage in
// place of a process-wide workspace.
type UnitConfig struct {
	Code     string    `json:"code"`
	CRS      string    `json:"crs"`
	CellSize float64   `json:"cell_size"`
	Extent   orb.Bound `json:"extent"`
	// Boundary clips trees to the unit proper when the rasters are
	// buffered. An empty boundary keeps everything.
	Boundary orb.Polygon `json:"boundary,omitempty"`
}

// Validate checks a unit before any stage runs.
func (u UnitConfig) Validate() error {
	if u.Code == "" {
		return fmt.Errorf("unit code is empty")
	}
	if strings.ContainsAny(u.Code, "/\\") {
		return fmt.Errorf("unit code %q must not contain path separators", u.Code)
	}
	if u.CellSize <= 0 {
		return fmt.Errorf("unit %s: cell size must be positive, got %f", u.Code, u.CellSize)
	}
	return nil
}
