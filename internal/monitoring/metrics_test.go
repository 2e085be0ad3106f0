package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.UnitDone("ok", 2*time.Second)
	m.UnitDone("ok", time.Second)
	m.UnitDone("failed", time.Second)
	m.Crowns("watershed", 12)
	m.Crowns("voronoi", 3)
	m.Tops(12)
	m.Cases("crown", map[string]int{"Case1": 4, "Case4": 0})
	m.Degenerate("coincident")
	m.FalsePositives(map[string]int{"masked-post": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.units.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.units.WithLabelValues("failed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.crowns.WithLabelValues("watershed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.tops))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cases.WithLabelValues("crown", "Case1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degenerate.WithLabelValues("coincident")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.falsePositives.WithLabelValues("masked-post")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.UnitDone("ok", time.Second)
	m.Crowns("other", 1)
	m.Tops(1)
	m.Cases("stem", map[string]int{"Case3": 1})
	m.Degenerate("small-cell")
	m.FalsePositives(map[string]int{"area-outlier": 1})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.UnitDone("skipped", 0)
	path := filepath.Join(t.TempDir(), "treecrown.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `treecrown_units_total{status="skipped"} 1`), string(data))
}
