// Package l3vector owns Layer 3 (Vector) of the canopy data model.
//
// Responsibilities: converting labelled rasters into polygons with holes,
// exploding multi-part geometries, choosing interior representative
// points, and the polygon measurements used for crown attributes
// (area, perimeter, convex hull, crown diameter).
// Key types: Region, Metrics.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
// No SQL/database code is allowed in this package.
package l3vector
