package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

var (
	// ErrInputMissing is returned when a unit has no CHM or its files
	// cannot be found.
	ErrInputMissing = errors.New("input missing")
	// ErrProcessingFailure wraps any other failure inside a unit.
	ErrProcessingFailure = errors.New("processing failure")

	ErrMalformedGrid           = l1grid.ErrMalformedGrid
	ErrGeometryDegenerate      = l5relation.ErrGeometryDegenerate
	ErrClassificationAmbiguous = l5relation.ErrClassificationAmbiguous
)

// Stage names where a unit can fail.
const (
	StageLoad           = "load"
	StageValidate       = "validate"
	StagePrefilter      = "prefilter"
	StageSegment        = "segment"
	StageTops           = "tops"
	StageReconcile      = "reconcile"
	StageOther          = "other"
	StageClip           = "clip"
	StageFalsePositives = "false-positives"
	StageRelate         = "relate"
	StageAttributes     = "attributes"
	StageStore          = "store"
)

// UnitError records the unit and stage a failure happened in.
type UnitError struct {
	Unit  string
	Stage string
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %s: %s: %v", e.Unit, e.Stage, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// unitErr wraps err as a UnitError. Errors that already carry one of the
// package sentinels keep it; anything else becomes a processing failure.
func unitErr(unit, stage string, err error) error {
	var ue *UnitError
	if errors.As(err, &ue) {
		return err
	}
	if !errors.Is(err, ErrInputMissing) && !errors.Is(err, ErrMalformedGrid) &&
		!errors.Is(err, ErrGeometryDegenerate) && !errors.Is(err, ErrProcessingFailure) {
		err = fmt.Errorf("%w: %w", ErrProcessingFailure, err)
	}
	return &UnitError{Unit: unit, Stage: stage, Err: err}
}
