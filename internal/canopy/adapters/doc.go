// Package adapters reads and writes the file formats at the edge of the
// canopy pipeline: ESRI ASCII and integer TIFF rasters for CHM and DTM
// grids, GeoJSON for stems, crowns and tops, and CSV for relation tables.
//
// Adapters only translate between files and layer types; they never run
// a stage.
package adapters
