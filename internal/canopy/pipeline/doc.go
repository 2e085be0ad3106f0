// Package pipeline chains the canopy layers for one processing unit and
// runs many units as a batch.
//
// Responsibilities: input validation, the optional CHM pre-filter,
// segmentation, top extraction, reconciliation, "other" tree detection,
// unit clipping, stem relation and crown attributes, followed by a unit
// summary. Batch adds bounded concurrency, per-unit timeouts, panic
// capture and the sqlite checkpoint manifest.
// Key types: Unit, Options, Output, Summary, Batch.
//
// Dependency rule: the pipeline may depend on every layer and on storage;
// layers never import the pipeline.
package pipeline
