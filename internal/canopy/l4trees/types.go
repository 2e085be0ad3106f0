package l4trees

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Method records which stage produced a crown or top.
type Method string

const (
	MethodWatershed Method = "watershed"
	MethodOther     Method = "other"
	MethodVoronoi   Method = "voronoi"
)

// OutlierClass grades a crown attribute: 0 normal, 1 mild, 2 extreme.
type OutlierClass int

const (
	OutlierNone OutlierClass = iota
	OutlierMild
	OutlierExtreme
)

// Attributes are the derived crown geometry measurements.
type Attributes struct {
	HullArea         float64      `json:"hull_area"`
	Diameter         float64      `json:"crown_diam"`
	HullRatio        float64      `json:"ratio_ca_cha"`
	Volume           float64      `json:"crown_volume"`
	AreaOutlier      OutlierClass `json:"outlier_ca"`
	HullRatioOutlier OutlierClass `json:"outlier_ratio"`
}

// Crown is one tree-crown polygon. Records are treated as values: stages
// return modified copies rather than editing inputs.
type Crown struct {
	ID          string
	UnitCode    string
	Polygon     orb.Polygon
	Extra       []orb.Polygon // disjoint parts of a split crown
	Area        float64
	Perimeter   float64
	Method      Method
	ParentID    string
	TopID       string
	TopHeight   float64
	TopAltitude float64
	Attributes  Attributes
}

// Top is one tree-top point. CrownID is empty until reconciliation.
type Top struct {
	ID             string
	UnitCode       string
	CrownID        string
	Point          orb.Point
	Height         float64
	GroundAltitude float64
	Method         Method
}

// Geometry returns the crown as a Polygon, or a MultiPolygon when the crown
// carries extra parts.
func (c Crown) Geometry() orb.Geometry {
	if len(c.Extra) == 0 {
		return c.Polygon
	}
	mp := make(orb.MultiPolygon, 0, len(c.Extra)+1)
	mp = append(mp, c.Polygon)
	return append(mp, c.Extra...)
}

// CrownID formats the namespaced id of the n-th crown of a unit.
func CrownID(unit string, n int) string {
	return fmt.Sprintf("%s/C%06d", unit, n)
}

// TopID formats the namespaced id of the n-th top of a unit.
func TopID(unit string, n int) string {
	return fmt.Sprintf("%s/T%06d", unit, n)
}

// ChildID names the k-th part of a split crown.
func ChildID(parent string, k int) string {
	return fmt.Sprintf("%s.%d", parent, k)
}
