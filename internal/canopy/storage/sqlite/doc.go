// Package sqlite persists segmentation results and the per-unit checkpoint
// manifest.
//
// Every unit's crowns, tops, relations and case counts are replaced in one
// transaction together with its manifest row, so a reader never sees a
// half-written unit. The manifest records the input digest of the last
// complete run; IsComplete lets a rerun skip units whose inputs have not
// changed.
//
// Schema is managed by golang-migrate from migrations embedded in the
// binary. Geometry is stored as WKB and heights as integer centimetres.
package sqlite
