package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/treecrown/internal/canopy/storage/sqlite"
	"github.com/banshee-data/treecrown/internal/monitoring"
	"github.com/banshee-data/treecrown/internal/timeutil"
)

// Store persists unit results. *sqlite.Store satisfies it.
type Store interface {
	IsComplete(ctx context.Context, unit, digest string) (bool, error)
	ReplaceUnitResults(ctx context.Context, r sqlite.UnitResult) error
	MarkUnitFailed(ctx context.Context, unit, runID, digest string, cause error) error
}

// Loader reads the inputs of one unit.
type Loader func(ctx context.Context, code string) (Unit, error)

// Batch runs many units with bounded concurrency. A failing unit is
// recorded in its summary and never stops the others; only cancelling
// the context passed to Run does.
type Batch struct {
	Options Options
	Load    Loader

	// Store is optional. Without it nothing is skipped or persisted.
	Store   Store
	RunID   string
	Metrics *monitoring.Metrics
	Clock   timeutil.Clock

	// Force recomputes units the manifest already holds as complete.
	Force bool

	// OnUnit is called once per unit as it finishes. Calls are serialised.
	OnUnit func(Summary)

	mu sync.Mutex
}

// Run processes units and returns one summary per unit in input order.
// The error is non-nil only when ctx was cancelled.
func (b *Batch) Run(ctx context.Context, units []string) ([]Summary, error) {
	workers := b.Options.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	clock := b.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	opsf("batch %s: %d units on %d workers", b.RunID, len(units), workers)

	summaries := make([]Summary, len(units))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, code := range units {
		if err := ctx.Err(); err != nil {
			summaries[i] = Summary{Unit: code, Status: StatusCancelled, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			s := b.runOne(ctx, code, clock)
			summaries[i] = s
			b.finished(s)
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[string]int)
	for _, s := range summaries {
		counts[s.Status]++
	}
	diagf("batch %s: %d ok, %d failed, %d skipped, %d cancelled", b.RunID,
		counts[StatusOK], counts[StatusFailed], counts[StatusSkipped], counts[StatusCancelled])
	return summaries, ctx.Err()
}

func (b *Batch) runOne(ctx context.Context, code string, clock timeutil.Clock) (s Summary) {
	start := clock.Now()
	defer func() {
		if r := recover(); r != nil {
			opsf("unit %s: panic outside stages: %v", code, r)
			s = Summary{Unit: code, Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
		if s.Status != StatusSkipped && s.Status != StatusCancelled {
			s.Duration = clock.Since(start)
		}
		b.Metrics.UnitDone(s.Status, s.Duration)
	}()
	if err := ctx.Err(); err != nil {
		return Summary{Unit: code, Status: StatusCancelled, Error: err.Error()}
	}

	uctx := ctx
	if b.Options.UnitTimeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(ctx, b.Options.UnitTimeout)
		defer cancel()
	}

	if b.Load == nil {
		return b.fail(ctx, code, "", unitErr(code, StageLoad, ErrInputMissing))
	}
	u, err := b.Load(uctx, code)
	if err != nil {
		return b.fail(ctx, code, "", unitErr(code, StageLoad, err))
	}
	if u.Config.Code == "" {
		u.Config.Code = code
	}
	digest, err := Digest(u, b.Options)
	if err != nil {
		return b.fail(ctx, code, "", unitErr(code, StageValidate, err))
	}

	if b.Store != nil && !b.Force {
		done, err := b.Store.IsComplete(ctx, code, digest)
		if err != nil {
			opsf("unit %s: manifest lookup failed, recomputing: %v", code, err)
		} else if done {
			diagf("unit %s: unchanged since last complete run, skipping", code)
			return Summary{Unit: code, Status: StatusSkipped}
		}
	}

	out, err := runUnit(uctx, u, b.Options, clock, digest)
	if err != nil {
		if ctx.Err() != nil {
			return Summary{Unit: code, Status: StatusCancelled, Error: err.Error()}
		}
		return b.fail(ctx, code, digest, err)
	}

	if b.Store != nil {
		res, err := unitResult(out, b.RunID)
		if err == nil {
			err = b.Store.ReplaceUnitResults(context.WithoutCancel(ctx), res)
		}
		if err != nil {
			return b.fail(ctx, code, digest, unitErr(code, StageStore, err))
		}
	}
	b.record(out)
	return out.Summary
}

// fail records a failed unit in the manifest and returns its summary.
func (b *Batch) fail(ctx context.Context, code, digest string, err error) Summary {
	s := Summary{Unit: code, Status: StatusFailed, Error: err.Error()}
	var ue *UnitError
	if errors.As(err, &ue) {
		s.Stage = ue.Stage
	}
	opsf("unit %s failed: %v", code, err)
	if b.Store != nil {
		if serr := b.Store.MarkUnitFailed(context.WithoutCancel(ctx), code, b.RunID, digest, err); serr != nil {
			opsf("unit %s: could not record failure: %v", code, serr)
		}
	}
	return s
}

func (b *Batch) record(out *Output) {
	if b.Metrics == nil {
		return
	}
	byMethod := make(map[string]int)
	for _, c := range out.Crowns {
		byMethod[string(c.Method)]++
	}
	for m, n := range byMethod {
		b.Metrics.Crowns(m, n)
	}
	b.Metrics.Tops(len(out.Tops))
	b.Metrics.Cases("crown", out.Summary.CrownCases)
	b.Metrics.Cases("stem", out.Summary.StemCases)
	for _, d := range out.Relation.Degenerate {
		b.Metrics.Degenerate(d.Kind)
	}
	b.Metrics.FalsePositives(out.Summary.FalsePositiveReasons)
}

func (b *Batch) finished(s Summary) {
	if b.OnUnit == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OnUnit(s)
}

func unitResult(out *Output, runID string) (sqlite.UnitResult, error) {
	summary, err := json.Marshal(out.Summary)
	if err != nil {
		return sqlite.UnitResult{}, err
	}
	return sqlite.UnitResult{
		Unit:           out.Unit,
		RunID:          runID,
		Digest:         out.Digest,
		Crowns:         out.Crowns,
		Tops:           out.Tops,
		Pairs:          out.Relation.Final.Pairs,
		Tally:          out.Relation.Final.Tally,
		Degenerate:     out.Relation.Degenerate,
		FalsePositives: out.FalsePositives,
		SummaryJSON:    string(summary),
	}, nil
}
