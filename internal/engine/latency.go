package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/NodePath81/fbspeed/internal/scoring"
	"github.com/NodePath81/fbspeed/internal/util"
)

// measureLatency takes n sequential ping samples. Failed samples are dropped,
// never replaced by a penalty value.
func measureLatency(ctx context.Context, pc *probeClient, cfg Config, logger *slog.Logger) (LatencyResult, string, error) {
	var samples []Sample
	var clientAddr string
	dropped := 0
	for i := 0; i < cfg.LatencySampleCount; i++ {
		if i > 0 && !sleepCtx(ctx, cfg.LatencySampleDelay) {
			return LatencyResult{}, "", ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, cfg.LatencySampleTimeout)
		reply, err := pc.ping(reqCtx, i)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return LatencyResult{}, "", ctx.Err()
			}
			dropped++
			logger.Debug("latency sample dropped", "sample", i, "error", err)
			continue
		}
		if clientAddr == "" {
			clientAddr = reply.ClientAddress
		}
		samples = append(samples, Sample{
			TimestampMs: time.Now().UnixMilli(),
			Value:       durationMs(reply.RTT),
		})
	}
	if len(samples) == 0 {
		return LatencyResult{Dropped: dropped}, clientAddr, ErrLatencyMeasurementFailed
	}
	result := summarizeLatency(samples, dropped)
	result.Samples = capSamples(samples, cfg.MaxReportSamples)
	return result, clientAddr, nil
}

func summarizeLatency(samples []Sample, dropped int) LatencyResult {
	values := make([]float64, len(samples))
	minMs, maxMs := math.Inf(1), math.Inf(-1)
	for i, s := range samples {
		values[i] = s.Value
		minMs = math.Min(minMs, s.Value)
		maxMs = math.Max(maxMs, s.Value)
	}
	return LatencyResult{
		AvgMs:    util.Round2(scoring.Mean(values)),
		MinMs:    util.Round2(minMs),
		MaxMs:    util.Round2(maxMs),
		JitterMs: util.Round2(scoring.StdDev(values)),
		Dropped:  dropped,
		Samples:  samples,
	}
}

// sleepCtx waits for d and reports whether it completed before ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
