// Package l5relation owns Layer 5 (Relation) of the canopy data model.
//
// Responsibilities: joining field-surveyed stems to crowns, classifying
// every crown and stem into a relation case, tabulating the cases, and
// splitting multi-stem (Case2) crowns into one sub-crown per stem with a
// Voronoi tessellation.
// Key types: Stem, Case, Classification, Tabulation, SplitOptions, Child.
//
// Dependency rule: L5 may depend on L1-L4.
// No SQL/database code is allowed in this package.
package l5relation
