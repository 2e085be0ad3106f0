// Package l4trees owns Layer 4 (Trees) of the canopy data model.
//
// Responsibilities: turning catchments into crown polygons, extracting tree
// tops from watershed sinks, reconciling crowns and tops into a one-to-one
// set, detecting "other" trees in canopy left uncovered by watershed
// crowns, and computing crown attributes.
// Key types: Crown, Top, Reconciled, TopOptions.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4trees
