// Package l1grid owns Layer 1 (Grid) of the canopy data model.
//
// Responsibilities: the immutable height raster, its geotransform,
// neighbourhood definitions, focal operators, connected-component
// labelling, nearest-cell sampling and the integer height encoding.
// Key types: Grid, Labels, FlowGrid, Offset.
//
// Dependency rule: L1 depends on nothing above it.
// No SQL/database code is allowed in this package.
package l1grid
