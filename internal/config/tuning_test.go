package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.defaults.json")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.GetCellSize() != 0.25 {
		t.Errorf("GetCellSize() = %f, want 0.25", cfg.GetCellSize())
	}
	if cfg.GetFocalRadius() != 1.5 {
		t.Errorf("GetFocalRadius() = %f, want 1.5", cfg.GetFocalRadius())
	}
	if cfg.GetStemIDProperty() != "tree_id" {
		t.Errorf("GetStemIDProperty() = %q, want tree_id", cfg.GetStemIDProperty())
	}
	if cfg.GetUnitTimeout() != 10*time.Minute {
		t.Errorf("GetUnitTimeout() = %v, want 10m", cfg.GetUnitTimeout())
	}
}

func TestLoadExampleYAMLFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/oslo.example.yaml")
	if err != nil {
		t.Fatalf("Failed to load example: %v", err)
	}
	if got := cfg.SiteProfile().Name; got != "oslo" {
		t.Errorf("SiteProfile().Name = %q, want oslo", got)
	}
	// Oslo has 10 pts/m², so the cell size follows the density rule.
	if cfg.GetCellSize() != 0.25 {
		t.Errorf("GetCellSize() = %f, want 0.25", cfg.GetCellSize())
	}
	if cfg.GetSmoothRadius() != 0.5 {
		t.Errorf("GetSmoothRadius() = %f, want 0.5", cfg.GetSmoothRadius())
	}
	if !cfg.GetFalsePositiveFilter() {
		t.Error("GetFalsePositiveFilter() = false, want true")
	}
	if cfg.GetWorkers() != 4 {
		t.Errorf("GetWorkers() = %d, want 4", cfg.GetWorkers())
	}
	if cfg.GetUnitTimeout() != 15*time.Minute {
		t.Errorf("GetUnitTimeout() = %v, want 15m", cfg.GetUnitTimeout())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetMinOtherCrownArea() != 12 {
		t.Errorf("GetMinOtherCrownArea() = %f, want 12", cfg.GetMinOtherCrownArea())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	for name, body := range map[string]string{
		"invalid.json": `{"min_height": "tall"`,
		"invalid.yaml": "min_height: [1, 2\n",
	} {
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}
		if _, err := LoadTuningConfig(path); err == nil {
			t.Errorf("%s: expected parse error, got nil", name)
		}
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yml")
	if err := os.WriteFile(configPath, []byte("min_height: 3\nedge_outflow: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}
	if cfg.GetMinHeight() != 3 {
		t.Errorf("GetMinHeight() = %f, want 3", cfg.GetMinHeight())
	}
	if !cfg.GetEdgeOutflow() {
		t.Error("GetEdgeOutflow() = false, want true")
	}
	// Untouched values keep their defaults.
	if cfg.GetMinSubCrownArea() != 0.25 {
		t.Errorf("GetMinSubCrownArea() = %f, want 0.25", cfg.GetMinSubCrownArea())
	}
	if cfg.GetHeightScale() != 100 {
		t.Errorf("GetHeightScale() = %d, want 100", cfg.GetHeightScale())
	}
}

func TestLoadTuningConfigRejectsExtension(t *testing.T) {
	if _, err := LoadTuningConfig("/some/path/config.toml"); err == nil {
		t.Error("Expected error for .toml extension, got nil")
	}
	if _, err := LoadTuningConfig("../../etc/passwd"); err == nil {
		t.Error("Expected error for path without extension, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")
	largeData := make([]byte, 2*1024*1024)
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "empty config is valid", cfg: &TuningConfig{}},
		{name: "known site", cfg: &TuningConfig{Site: ptrString("Bodo")}},
		{name: "unknown site", cfg: &TuningConfig{Site: ptrString("bergen")}, wantErr: true},
		{name: "zero cell size", cfg: &TuningConfig{CellSize: ptrFloat64(0)}, wantErr: true},
		{name: "negative min height", cfg: &TuningConfig{MinHeight: ptrFloat64(-1)}, wantErr: true},
		{name: "negative sub-crown area", cfg: &TuningConfig{MinSubCrownArea: ptrFloat64(-0.1)}, wantErr: true},
		{name: "area outliers inverted", cfg: &TuningConfig{AreaOutlierMild: ptrFloat64(400)}, wantErr: true},
		{name: "ratio outliers inverted", cfg: &TuningConfig{RatioOutlierExtreme: ptrFloat64(0.9)}, wantErr: true},
		{name: "empty stem id property", cfg: &TuningConfig{StemIDProperty: ptrString("")}, wantErr: true},
		{name: "zero height scale", cfg: &TuningConfig{HeightScale: ptrInt(0)}, wantErr: true},
		{name: "negative workers", cfg: &TuningConfig{Workers: ptrInt(-2)}, wantErr: true},
		{name: "invalid unit timeout", cfg: &TuningConfig{UnitTimeout: ptrString("soon")}, wantErr: true},
		{name: "edge outflow set", cfg: &TuningConfig{EdgeOutflow: ptrBool(true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"cell_size", cfg.GetCellSize(), 0.5},
		{"min_height", cfg.GetMinHeight(), 2.5},
		{"smooth_radius", cfg.GetSmoothRadius(), 0},
		{"height_scale", float64(cfg.GetHeightScale()), 100},
		{"focal_radius", cfg.GetFocalRadius(), 1.5},
		{"focal_threshold", cfg.GetFocalThreshold(), 0},
		{"min_other_crown_area", cfg.GetMinOtherCrownArea(), 12},
		{"area_outlier_mild", cfg.GetAreaOutlierMild(), 250},
		{"area_outlier_extreme", cfg.GetAreaOutlierExtreme(), 350},
		{"ratio_outlier_mild", cfg.GetRatioOutlierMild(), 0.7},
		{"ratio_outlier_extreme", cfg.GetRatioOutlierExtreme(), 0.6},
		{"min_stem_separation", cfg.GetMinStemSeparation(), 0.05},
		{"min_sub_crown_area", cfg.GetMinSubCrownArea(), 0.25},
		{"area_tolerance", cfg.GetAreaTolerance(), 1e-6},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.GetScaledInput() || cfg.GetEdgeOutflow() || cfg.GetFalsePositiveFilter() {
		t.Error("boolean defaults should be false")
	}
	if cfg.GetWorkers() != 0 || cfg.GetUnitTimeout() != 0 {
		t.Error("batch defaults should be zero")
	}
}

func TestSiteProfileCellSize(t *testing.T) {
	tests := []struct {
		density float64
		want    float64
	}{
		{10, 0.25},
		{4, 0.25},
		{3.9, 0.5},
		{2, 0.5},
		{1, 1},
	}
	for _, tt := range tests {
		p := SiteProfile{PointDensity: tt.density}
		if got := p.CellSize(); got != tt.want {
			t.Errorf("CellSize(density %v) = %v, want %v", tt.density, got, tt.want)
		}
	}
}

func TestLookupSite(t *testing.T) {
	for _, name := range SiteNames() {
		p, ok := LookupSite(name)
		if !ok || p.Name != name {
			t.Errorf("LookupSite(%q) = %+v, %v", name, p, ok)
		}
	}
	if p, _ := LookupSite(" Bodo "); p.CRS != "EPSG:25833" {
		t.Errorf("bodo CRS = %q, want EPSG:25833", p.CRS)
	}
	if _, ok := LookupSite("tromso"); ok {
		t.Error("unexpected preset for tromso")
	}
}

func TestUnitConfigValidate(t *testing.T) {
	if err := (UnitConfig{Code: "0301-01", CellSize: 0.25}).Validate(); err != nil {
		t.Errorf("valid unit rejected: %v", err)
	}
	for _, u := range []UnitConfig{
		{CellSize: 1},
		{Code: "a/b", CellSize: 1},
		{Code: "u", CellSize: 0},
	} {
		if err := u.Validate(); err == nil {
			t.Errorf("unit %+v accepted", u)
		}
	}
}
