package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

// Manifest statuses.
const (
	UnitComplete = "complete"
	UnitFailed   = "failed"
)

// UnitResult is everything written for one processing unit.
type UnitResult struct {
	Unit       string
	RunID      string
	Digest     string
	Crowns     []l4trees.Crown
	Tops       []l4trees.Top
	Pairs      []l5relation.Pair
	Tally      l5relation.Tabulation
	Degenerate []l5relation.Degenerate
	// FalsePositives are crowns removed as non-trees.
	FalsePositives []l4trees.FalsePositive
	SummaryJSON    string
}

// ManifestEntry is one row of the checkpoint manifest.
type ManifestEntry struct {
	Unit        string    `json:"unit"`
	RunID       string    `json:"run_id"`
	Digest      string    `json:"input_digest"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SummaryJSON string    `json:"summary"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var unitTables = []string{"crowns", "tops", "relations", "case_counts", "degenerate_events", "false_positives"}

func deleteUnit(ctx context.Context, tx *sql.Tx, unit string) error {
	for _, table := range unitTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE unit_code = ?", unit); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, unit, err)
		}
	}
	return nil
}

func upsertManifest(ctx context.Context, tx *sql.Tx, e ManifestEntry) error {
	if e.SummaryJSON == "" {
		e.SummaryJSON = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO unit_manifest (unit_code, run_id, input_digest, status, error, summary_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_code) DO UPDATE SET
			run_id = excluded.run_id,
			input_digest = excluded.input_digest,
			status = excluded.status,
			error = excluded.error,
			summary_json = excluded.summary_json,
			updated_at = excluded.updated_at
	`, e.Unit, e.RunID, e.Digest, e.Status, nullString(e.Error), e.SummaryJSON, e.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("update manifest for %s: %w", e.Unit, err)
	}
	return nil
}

// ReplaceUnitResults swaps a unit's stored results for r and marks the
// unit complete, all in one transaction.
func (s *Store) ReplaceUnitResults(ctx context.Context, r UnitResult) error {
	if r.Unit == "" || r.RunID == "" {
		return fmt.Errorf("replace unit results: unit and run id are required")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteUnit(ctx, tx, r.Unit); err != nil {
			return err
		}
		if err := insertCrowns(ctx, tx, r); err != nil {
			return err
		}
		if err := insertTops(ctx, tx, r); err != nil {
			return err
		}
		if err := insertRelations(ctx, tx, r); err != nil {
			return err
		}
		if err := insertCounts(ctx, tx, r); err != nil {
			return err
		}
		if err := insertDegenerate(ctx, tx, r); err != nil {
			return err
		}
		if err := insertFalsePositives(ctx, tx, r); err != nil {
			return err
		}
		return upsertManifest(ctx, tx, ManifestEntry{
			Unit:        r.Unit,
			RunID:       r.RunID,
			Digest:      r.Digest,
			Status:      UnitComplete,
			SummaryJSON: r.SummaryJSON,
			UpdatedAt:   s.clock.Now(),
		})
	})
	if err != nil {
		return err
	}
	diagf("unit %s: stored %d crowns, %d tops, %d relations, %d false positives",
		r.Unit, len(r.Crowns), len(r.Tops), len(r.Pairs), len(r.FalsePositives))
	return nil
}

// MarkUnitFailed clears a unit's results and records the failure, so the
// next run recomputes it.
func (s *Store) MarkUnitFailed(ctx context.Context, unit, runID, digest string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteUnit(ctx, tx, unit); err != nil {
			return err
		}
		return upsertManifest(ctx, tx, ManifestEntry{
			Unit:      unit,
			RunID:     runID,
			Digest:    digest,
			Status:    UnitFailed,
			Error:     msg,
			UpdatedAt: s.clock.Now(),
		})
	})
}

// IsComplete reports whether unit was completed from inputs with digest.
func (s *Store) IsComplete(ctx context.Context, unit, digest string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM unit_manifest
		WHERE unit_code = ? AND input_digest = ? AND status = ?
	`, unit, digest, UnitComplete).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check manifest for %s: %w", unit, err)
	}
	return n > 0, nil
}

// Manifest lists every unit's checkpoint row in unit order.
func (s *Store) Manifest(ctx context.Context) ([]ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_code, run_id, input_digest, status, error, summary_json, updated_at
		FROM unit_manifest ORDER BY unit_code
	`)
	if err != nil {
		return nil, fmt.Errorf("list manifest: %w", err)
	}
	defer rows.Close()

	var out []ManifestEntry
	for rows.Next() {
		var (
			e       ManifestEntry
			errText sql.NullString
			updated int64
		)
		if err := rows.Scan(&e.Unit, &e.RunID, &e.Digest, &e.Status, &errText, &e.SummaryJSON, &updated); err != nil {
			return nil, err
		}
		e.Error = errText.String
		e.UpdatedAt = time.Unix(0, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnitEntry loads the checkpoint row of one unit.
func (s *Store) UnitEntry(ctx context.Context, unit string) (ManifestEntry, error) {
	entries, err := s.Manifest(ctx)
	if err != nil {
		return ManifestEntry{}, err
	}
	for _, e := range entries {
		if e.Unit == unit {
			return e, nil
		}
	}
	return ManifestEntry{}, fmt.Errorf("unit %s: %w", unit, ErrNotFound)
}

// heightCM encodes a height for storage. NaN, such as a ground altitude
// without a DTM, is stored as NULL.
func heightCM(h float64) sql.NullInt64 {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(l1grid.EncodeHeight(h, l1grid.DefaultHeightScale)), Valid: true}
}

func heightM(v sql.NullInt64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return l1grid.DecodeHeight(int32(v.Int64), l1grid.DefaultHeightScale)
}

func decodeCrownGeom(c *l4trees.Crown, geom []byte) error {
	g, err := wkb.Unmarshal(geom)
	if err != nil {
		return fmt.Errorf("decode crown %s: %w", c.ID, err)
	}
	switch g := g.(type) {
	case orb.Polygon:
		c.Polygon = g
	case orb.MultiPolygon:
		if len(g) > 0 {
			c.Polygon = g[0]
			c.Extra = append([]orb.Polygon(nil), g[1:]...)
		}
	default:
		return fmt.Errorf("crown %s: unexpected geometry %s", c.ID, g.GeoJSONType())
	}
	return nil
}

func insertCrowns(ctx context.Context, tx *sql.Tx, r UnitResult) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crowns (
			crown_id, unit_code, run_id, method, parent_id, top_id,
			top_height_cm, top_altitude_cm, area, perimeter,
			hull_area, diameter, hull_ratio, volume, outlier_area, outlier_ratio, geom
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare crown insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range r.Crowns {
		geom, err := wkb.Marshal(c.Geometry())
		if err != nil {
			return fmt.Errorf("encode crown %s: %w", c.ID, err)
		}
		a := c.Attributes
		_, err = stmt.ExecContext(ctx,
			c.ID, r.Unit, r.RunID, string(c.Method), nullString(c.ParentID), nullString(c.TopID),
			heightCM(c.TopHeight), heightCM(c.TopAltitude), c.Area, c.Perimeter,
			a.HullArea, a.Diameter, a.HullRatio, a.Volume, int(a.AreaOutlier), int(a.HullRatioOutlier), geom,
		)
		if err != nil {
			return fmt.Errorf("insert crown %s: %w", c.ID, err)
		}
	}
	return nil
}

func insertTops(ctx context.Context, tx *sql.Tx, r UnitResult) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tops (top_id, unit_code, run_id, crown_id, x, y, height_cm, ground_altitude_cm, method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare top insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range r.Tops {
		_, err := stmt.ExecContext(ctx,
			t.ID, r.Unit, r.RunID, nullString(t.CrownID), t.Point[0], t.Point[1],
			heightCM(t.Height), heightCM(t.GroundAltitude), string(t.Method),
		)
		if err != nil {
			return fmt.Errorf("insert top %s: %w", t.ID, err)
		}
	}
	return nil
}

func insertRelations(ctx context.Context, tx *sql.Tx, r UnitResult) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relations (unit_code, run_id, crown_id, tree_id, case_label, merged_into)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare relation insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range r.Pairs {
		_, err := stmt.ExecContext(ctx, r.Unit, r.RunID,
			nullString(p.CrownID), nullString(p.TreeID), string(p.Case), nullString(p.MergedInto))
		if err != nil {
			return fmt.Errorf("insert relation %s/%s: %w", p.CrownID, p.TreeID, err)
		}
	}
	return nil
}

func insertCounts(ctx context.Context, tx *sql.Tx, r UnitResult) error {
	for entity, counts := range map[string]map[l5relation.Case]int{
		"crown": r.Tally.Crowns,
		"stem":  r.Tally.Stems,
	} {
		for _, c := range l5relation.Cases {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO case_counts (unit_code, run_id, entity, case_label, n) VALUES (?, ?, ?, ?, ?)
			`, r.Unit, r.RunID, entity, string(c), counts[c])
			if err != nil {
				return fmt.Errorf("insert %s count for %s: %w", entity, r.Unit, err)
			}
		}
	}
	return nil
}

func insertDegenerate(ctx context.Context, tx *sql.Tx, r UnitResult) error {
	for _, d := range r.Degenerate {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO degenerate_events (unit_code, run_id, crown_id, kind, tree_ids, detail)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.Unit, r.RunID, d.CrownID, d.Kind, strings.Join(d.TreeIDs, ","), d.Detail)
		if err != nil {
			return fmt.Errorf("insert degenerate event for %s: %w", d.CrownID, err)
		}
	}
	return nil
}

func insertFalsePositives(ctx context.Context, tx *sql.Tx, r UnitResult) error {
	for _, fp := range r.FalsePositives {
		geom, err := wkb.Marshal(fp.Crown.Geometry())
		if err != nil {
			return fmt.Errorf("encode false positive %s: %w", fp.Crown.ID, err)
		}
		var topID string
		if fp.Top != nil {
			topID = fp.Top.ID
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO false_positives (unit_code, run_id, crown_id, top_id, reason, area, hull_ratio, geom)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.Unit, r.RunID, fp.Crown.ID, nullString(topID), fp.Reason, fp.Crown.Area, fp.Crown.Attributes.HullRatio, geom)
		if err != nil {
			return fmt.Errorf("insert false positive %s: %w", fp.Crown.ID, err)
		}
	}
	return nil
}

// Crowns loads the stored crowns of a unit ordered by id.
func (s *Store) Crowns(ctx context.Context, unit string) ([]l4trees.Crown, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT crown_id, method, parent_id, top_id, top_height_cm, top_altitude_cm,
			area, perimeter, hull_area, diameter, hull_ratio, volume, outlier_area, outlier_ratio, geom
		FROM crowns WHERE unit_code = ? ORDER BY crown_id
	`, unit)
	if err != nil {
		return nil, fmt.Errorf("query crowns for %s: %w", unit, err)
	}
	defer rows.Close()

	var out []l4trees.Crown
	for rows.Next() {
		var (
			c                 l4trees.Crown
			method            string
			parent, top       sql.NullString
			topH, topAlt      sql.NullInt64
			outArea, outRatio int
			geom              []byte
		)
		err := rows.Scan(&c.ID, &method, &parent, &top, &topH, &topAlt,
			&c.Area, &c.Perimeter, &c.Attributes.HullArea, &c.Attributes.Diameter,
			&c.Attributes.HullRatio, &c.Attributes.Volume, &outArea, &outRatio, &geom)
		if err != nil {
			return nil, err
		}
		c.UnitCode = unit
		c.Method = l4trees.Method(method)
		c.ParentID = parent.String
		c.TopID = top.String
		c.TopHeight = heightM(topH)
		c.TopAltitude = heightM(topAlt)
		c.Attributes.AreaOutlier = l4trees.OutlierClass(outArea)
		c.Attributes.HullRatioOutlier = l4trees.OutlierClass(outRatio)

		if err := decodeCrownGeom(&c, geom); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Tops loads the stored tops of a unit ordered by id.
func (s *Store) Tops(ctx context.Context, unit string) ([]l4trees.Top, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT top_id, crown_id, x, y, height_cm, ground_altitude_cm, method
		FROM tops WHERE unit_code = ? ORDER BY top_id
	`, unit)
	if err != nil {
		return nil, fmt.Errorf("query tops for %s: %w", unit, err)
	}
	defer rows.Close()

	var out []l4trees.Top
	for rows.Next() {
		var (
			t      l4trees.Top
			crown  sql.NullString
			h, alt sql.NullInt64
			method string
			x, y   float64
		)
		if err := rows.Scan(&t.ID, &crown, &x, &y, &h, &alt, &method); err != nil {
			return nil, err
		}
		t.UnitCode = unit
		t.CrownID = crown.String
		t.Point = orb.Point{x, y}
		t.Height = heightM(h)
		t.GroundAltitude = heightM(alt)
		t.Method = l4trees.Method(method)
		out = append(out, t)
	}
	return out, rows.Err()
}

// FalsePositives loads the crowns a unit removed as non-trees, ordered by
// crown id. Only the crown geometry, area, hull ratio and top id are kept.
func (s *Store) FalsePositives(ctx context.Context, unit string) ([]l4trees.FalsePositive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT crown_id, top_id, reason, area, hull_ratio, geom
		FROM false_positives WHERE unit_code = ? ORDER BY crown_id
	`, unit)
	if err != nil {
		return nil, fmt.Errorf("query false positives for %s: %w", unit, err)
	}
	defer rows.Close()

	var out []l4trees.FalsePositive
	for rows.Next() {
		var (
			fp    l4trees.FalsePositive
			top   sql.NullString
			ratio sql.NullFloat64
			geom  []byte
		)
		if err := rows.Scan(&fp.Crown.ID, &top, &fp.Reason, &fp.Crown.Area, &ratio, &geom); err != nil {
			return nil, err
		}
		fp.Crown.UnitCode = unit
		fp.Crown.TopID = top.String
		fp.Crown.Attributes.HullRatio = ratio.Float64
		if err := decodeCrownGeom(&fp.Crown, geom); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// Relations loads the relation records of a unit in insertion order.
func (s *Store) Relations(ctx context.Context, unit string) ([]l5relation.Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT crown_id, tree_id, case_label, merged_into
		FROM relations WHERE unit_code = ? ORDER BY rowid
	`, unit)
	if err != nil {
		return nil, fmt.Errorf("query relations for %s: %w", unit, err)
	}
	defer rows.Close()

	var out []l5relation.Pair
	for rows.Next() {
		var (
			crown, tree, merged sql.NullString
			label               string
		)
		if err := rows.Scan(&crown, &tree, &label, &merged); err != nil {
			return nil, err
		}
		out = append(out, l5relation.Pair{
			CrownID:    crown.String,
			TreeID:     tree.String,
			Case:       l5relation.Case(label),
			MergedInto: merged.String,
		})
	}
	return out, rows.Err()
}

// CaseCounts returns the stored tabulation of every unit.
func (s *Store) CaseCounts(ctx context.Context) (map[string]l5relation.Tabulation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_code, entity, case_label, n FROM case_counts ORDER BY unit_code
	`)
	if err != nil {
		return nil, fmt.Errorf("query case counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]l5relation.Tabulation)
	for rows.Next() {
		var (
			unit, entity, label string
			n                   int
		)
		if err := rows.Scan(&unit, &entity, &label, &n); err != nil {
			return nil, err
		}
		tab, ok := out[unit]
		if !ok {
			tab = l5relation.NewTabulation()
			out[unit] = tab
		}
		switch entity {
		case "crown":
			tab.Crowns[l5relation.Case(label)] = n
		case "stem":
			tab.Stems[l5relation.Case(label)] = n
		default:
			return nil, fmt.Errorf("unit %s: unknown case entity %q", unit, entity)
		}
	}
	return out, rows.Err()
}

// Units lists the unit codes with stored results.
func (s *Store) Units(ctx context.Context) ([]string, error) {
	entries, err := s.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	var units []string
	for _, e := range entries {
		if e.Status == UnitComplete {
			units = append(units, e.Unit)
		}
	}
	sort.Strings(units)
	return units, nil
}

// DegenerateCount returns the number of stored degenerate events per kind.
func (s *Store) DegenerateCount(ctx context.Context, unit string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM degenerate_events WHERE unit_code = ? GROUP BY kind
	`, unit)
	if err != nil {
		return nil, fmt.Errorf("count degenerate events for %s: %w", unit, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
