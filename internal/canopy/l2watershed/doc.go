// Package l2watershed owns Layer 2 (Watershed) of the canopy data model.
//
// Responsibilities: inverting the canopy height grid, D8 flow-direction
// assignment with plateau routing, sink identification and catchment
// labelling. Catchments are the raster form of candidate tree crowns.
// Key types: Options, Result.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// No SQL/database code is allowed in this package.
package l2watershed
