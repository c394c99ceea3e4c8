package measure_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/probeserver"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/NodePath81/fbspeed/pkg/measure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMeasurement(t *testing.T) {
	ps := probeserver.New(probeserver.Config{Name: "pkg-test"}, util.NewDiscardLogger())
	ts := httptest.NewServer(ps.Handler())
	t.Cleanup(ts.Close)

	cfg := measure.Config{
		TestDuration:          200 * time.Millisecond,
		LatencySampleCount:    3,
		LatencySampleDelay:    time.Millisecond,
		DownloadChunksMB:      []int{1},
		UploadChunksMB:        []int{1},
		PacketLossSampleCount: 5,
	}
	report, err := measure.RunMeasurement(context.Background(), cfg, []measure.ProbeServer{{ID: "local", Host: ts.URL}})
	require.NoError(t, err)
	assert.True(t, report.Quality.Valid())
	assert.Equal(t, "127.0.0.1", report.ClientAddress)
}

func TestRunMeasurementNoServers(t *testing.T) {
	_, err := measure.RunMeasurement(context.Background(), measure.Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, measure.ErrNoProbeServerAvailable))
	var stageErr *measure.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, measure.StageSelection, stageErr.Stage)
}

func TestDefaultConfig(t *testing.T) {
	cfg := measure.DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.TestDuration)
	assert.Equal(t, 100.0, cfg.ReferenceDownloadMbps)
}
