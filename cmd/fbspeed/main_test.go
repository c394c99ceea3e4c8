package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/history"
	"github.com/NodePath81/fbspeed/internal/scoring"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestCandidatesFromFlags(t *testing.T) {
	got := candidatesFromFlags([]string{"fra=https://fra.example.com", " 10.0.0.1:8080 ", ""})
	assert.Equal(t, []config.CandidateConfig{
		{ID: "fra", Host: "https://fra.example.com"},
		{ID: "10.0.0.1:8080", Host: "10.0.0.1:8080"},
	}, got)
}

func TestBandwidthLabel(t *testing.T) {
	assert.Equal(t, "unlimited", bandwidthLabel(0))
	assert.Contains(t, bandwidthLabel(500_000_000), "Mbps")
}

func TestStreamsLabel(t *testing.T) {
	assert.Equal(t, "unlimited", streamsLabel(-1))
	assert.Equal(t, "256", streamsLabel(256))
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true
	report := engine.MeasurementReport{
		TestID:            "t-1",
		ClientAddress:     "203.0.113.7",
		Server:            engine.ProbeServer{ID: "fra", Host: "fra.example.com", Location: "Frankfurt, DE"},
		Latency:           engine.LatencyResult{AvgMs: 12.5, MinMs: 10, MaxMs: 15, JitterMs: 1.5},
		Download:          engine.ThroughputResult{AverageMbps: 93.4, Consistency: 96, SampleCount: 40, TotalBytes: 117_000_000},
		Upload:            engine.ThroughputResult{AverageMbps: 41.2, Consistency: 91, SampleCount: 20, TotalBytes: 51_500_000},
		PacketLossPercent: 2,
		Quality:           engine.QualityResult{Score: 81.5, Grade: scoring.GradeBPlus},
		Reliability:       94.1,
	}
	var buf bytes.Buffer
	printReport(&buf, report, 3*time.Second)
	out := buf.String()
	assert.Contains(t, out, "fra (Frankfurt, DE)")
	assert.Contains(t, out, "203.0.113.7")
	assert.Contains(t, out, "40 samples, 117 MB)")
	assert.Contains(t, out, "20 samples, 51.5 MB)")
	assert.Contains(t, out, "Packet loss: 2.00%")
	assert.Contains(t, out, "B+")
	assert.Contains(t, out, "score 81.50")
	assert.Contains(t, out, "Test t-1 finished in 3s")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, []history.Entry{{
		TestID: "a", StartedAt: time.Now(), ServerID: "fra",
		DownloadMbps: 90, UploadMbps: 40, LatencyMs: 12, Score: 77, Grade: "B",
	}})
	out := buf.String()
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "fra")
	assert.Contains(t, out, "77.00")
}
