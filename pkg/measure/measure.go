// Package measure is the public entry point of the measurement engine.
//
// A run selects the lowest-latency reachable probe server, measures
// latency, download and upload throughput and packet loss against it, and
// scores the result:
//
//	report, err := measure.RunMeasurement(ctx, measure.Config{}, []measure.ProbeServer{
//		{ID: "fra", Host: "https://fra.example.com"},
//	})
//
// A returned error means there is no report. When the error is a
// *StageError its Partial field holds the data gathered before the failure,
// with no quality score.
package measure

import (
	"context"

	"github.com/NodePath81/fbspeed/internal/engine"
)

type (
	Config             = engine.Config
	Options            = engine.Options
	Locator            = engine.Locator
	ProbeServer        = engine.ProbeServer
	Sample             = engine.Sample
	Stage              = engine.Stage
	Direction          = engine.Direction
	LatencyResult      = engine.LatencyResult
	ThroughputResult   = engine.ThroughputResult
	QualityResult      = engine.QualityResult
	MeasurementReport  = engine.MeasurementReport
	Progress           = engine.Progress
	ProgressFunc       = engine.ProgressFunc
	ThroughputProgress = engine.ThroughputProgress
	PacketLossProgress = engine.PacketLossProgress
	ThroughputError    = engine.ThroughputError
	StageError         = engine.StageError
)

const (
	StageSelection  = engine.StageSelection
	StageLatency    = engine.StageLatency
	StageDownload   = engine.StageDownload
	StageUpload     = engine.StageUpload
	StagePacketLoss = engine.StagePacketLoss
	StageScoring    = engine.StageScoring

	DirectionDownload = engine.DirectionDownload
	DirectionUpload   = engine.DirectionUpload
)

var (
	ErrNoProbeServerAvailable      = engine.ErrNoProbeServerAvailable
	ErrLatencyMeasurementFailed    = engine.ErrLatencyMeasurementFailed
	ErrThroughputMeasurementFailed = engine.ErrThroughputMeasurementFailed
	ErrMeasurementTimeout          = engine.ErrMeasurementTimeout
)

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return engine.DefaultConfig()
}

// RunMeasurement runs one measurement with a default HTTP client.
func RunMeasurement(ctx context.Context, cfg Config, candidates []ProbeServer) (MeasurementReport, error) {
	return engine.RunMeasurement(ctx, cfg, candidates)
}

// Run is RunMeasurement with explicit collaborators.
func Run(ctx context.Context, cfg Config, candidates []ProbeServer, opts Options) (MeasurementReport, error) {
	return engine.Run(ctx, cfg, candidates, opts)
}
