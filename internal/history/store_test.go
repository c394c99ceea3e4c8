package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite3 requires cgo")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(id string, started time.Time, score float64) engine.MeasurementReport {
	return engine.MeasurementReport{
		TestID:            id,
		StartedAt:         started,
		Server:            engine.ProbeServer{ID: "fra-1", Host: "fra.example.com"},
		Latency:           engine.LatencyResult{AvgMs: 12.5, JitterMs: 1.2},
		Download:          engine.ThroughputResult{AverageMbps: 93.1, Consistency: 97},
		Upload:            engine.ThroughputResult{AverageMbps: 41.7, Consistency: 95},
		PacketLossPercent: 0,
		Quality:           engine.QualityResult{Score: score, Grade: scoring.GradeFor(score)},
		StageDurationsMs:  map[engine.Stage]int64{engine.StageDownload: 10000},
	}
}

func TestSaveAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, report("a", base, 70)))
	require.NoError(t, s.Save(ctx, report("b", base.Add(time.Minute), 80)))
	require.NoError(t, s.Save(ctx, report("c", base.Add(2*time.Minute), 90)))

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].TestID)
	assert.Equal(t, "b", entries[1].TestID)
	assert.Equal(t, base.Add(2*time.Minute), entries[0].StartedAt)
	assert.Equal(t, "A", entries[0].Grade)
	assert.Equal(t, 93.1, entries[0].DownloadMbps)
}

func TestGetRoundTripsReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := report("x", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 88.5)
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, in.Server, out.Server)
	assert.Equal(t, in.Quality, out.Quality)
	assert.Equal(t, int64(10000), out.StageDurationsMs[engine.StageDownload])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRefusesUnscoredReport(t *testing.T) {
	s := openTestStore(t)
	r := report("y", time.Now(), 50)
	r.Quality = engine.QualityResult{}
	assert.Error(t, s.Save(context.Background(), r))
}
