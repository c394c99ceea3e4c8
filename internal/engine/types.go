package engine

import (
	"time"

	"github.com/NodePath81/fbspeed/internal/scoring"
)

// Stage names one step of a measurement run. Stages run in declaration order.
type Stage string

const (
	StageSelection  Stage = "selection"
	StageLatency    Stage = "latency"
	StageDownload   Stage = "download"
	StageUpload     Stage = "upload"
	StagePacketLoss Stage = "packet_loss"
	StageScoring    Stage = "scoring"
)

// Direction describes traffic flow relative to the client.
type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	default:
		return "download"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ProbeServer describes one candidate. Candidates are probed fresh on every run.
type ProbeServer struct {
	ID            string  `json:"id"`
	Host          string  `json:"host"`
	Location      string  `json:"location"`
	LastLatencyMs float64 `json:"lastLatencyMs"`
	Reachable     bool    `json:"reachable"`
}

// Sample is one observation from one stream. Value is Mbps for throughput
// stages and milliseconds for latency.
type Sample struct {
	TimestampMs int64   `json:"timestampMs"`
	Value       float64 `json:"value"`
	ByteCount   int64   `json:"byteCount"`
	DurationSec float64 `json:"durationSec"`
}

type LatencyResult struct {
	AvgMs    float64  `json:"avg"`
	MinMs    float64  `json:"min"`
	MaxMs    float64  `json:"max"`
	JitterMs float64  `json:"jitter"`
	Dropped  int      `json:"dropped"`
	Samples  []Sample `json:"samples"`
}

type ThroughputResult struct {
	AverageMbps float64  `json:"average"`
	Consistency float64  `json:"consistencyScore"`
	SampleCount int      `json:"sampleCount"`
	TotalBytes  int64    `json:"totalBytes"`
	Failures    int      `json:"failures"`
	Samples     []Sample `json:"samples"`
}

// QualityResult is the composite score; its zero value is invalid.
type QualityResult = scoring.Result

// MeasurementReport is the outcome of one run. The engine keeps no reference
// to it once returned.
type MeasurementReport struct {
	TestID            string           `json:"testId"`
	StartedAt         time.Time        `json:"startedAt"`
	ClientAddress     string           `json:"clientAddress"`
	Server            ProbeServer      `json:"server"`
	Latency           LatencyResult    `json:"latency"`
	Download          ThroughputResult `json:"download"`
	Upload            ThroughputResult `json:"upload"`
	PacketLossPercent float64          `json:"packetLossPercent"`
	Quality           QualityResult    `json:"quality"`
	Reliability       float64          `json:"reliability"`
	StageDurationsMs  map[Stage]int64  `json:"stageDurationsMs"`
	TotalDurationMs   int64            `json:"totalDurationMs"`
}

// clone returns a deep copy so callers never share buffers with the run.
func (r MeasurementReport) clone() MeasurementReport {
	out := r
	out.Latency.Samples = append([]Sample(nil), r.Latency.Samples...)
	out.Download.Samples = append([]Sample(nil), r.Download.Samples...)
	out.Upload.Samples = append([]Sample(nil), r.Upload.Samples...)
	out.StageDurationsMs = make(map[Stage]int64, len(r.StageDurationsMs))
	for k, v := range r.StageDurationsMs {
		out.StageDurationsMs[k] = v
	}
	return out
}
