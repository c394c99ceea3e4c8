package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/protocol"
	"github.com/NodePath81/fbspeed/internal/scoring"
	"github.com/NodePath81/fbspeed/internal/util"
	"golang.org/x/sync/errgroup"
)

// transferFunc moves one chunk of sizeMB and reports the bytes moved and the
// wall-clock duration of the transfer.
type transferFunc func(ctx context.Context, sizeMB int) (int64, time.Duration, error)

type throughputPlan struct {
	direction   Direction
	stage       Stage
	concurrency int
	chunksMB    []int
	duration    time.Duration
	// newTransfer is called once per stream so streams own their buffers.
	newTransfer func(stream int) transferFunc
}

func downloadPlan(pc *probeClient, cfg Config) throughputPlan {
	return throughputPlan{
		direction:   DirectionDownload,
		stage:       StageDownload,
		concurrency: cfg.DownloadConcurrency,
		chunksMB:    cfg.DownloadChunksMB,
		duration:    cfg.TestDuration,
		newTransfer: func(int) transferFunc {
			return pc.download
		},
	}
}

func uploadPlan(pc *probeClient, cfg Config) throughputPlan {
	maxMB := 0
	for _, mb := range cfg.UploadChunksMB {
		maxMB = max(maxMB, mb)
	}
	return throughputPlan{
		direction:   DirectionUpload,
		stage:       StageUpload,
		concurrency: cfg.UploadConcurrency,
		chunksMB:    cfg.UploadChunksMB,
		duration:    cfg.TestDuration,
		newTransfer: func(stream int) transferFunc {
			buf := make([]byte, maxMB*protocol.BytesPerMB)
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(stream)))
			return func(ctx context.Context, sizeMB int) (int64, time.Duration, error) {
				payload := buf[:sizeMB*protocol.BytesPerMB]
				_, _ = rng.Read(payload)
				ack, elapsed, err := pc.upload(ctx, payload)
				if err != nil {
					return 0, elapsed, err
				}
				return ack.ReceivedBytes, elapsed, nil
			}
		},
	}
}

// runThroughput drives plan.concurrency streams until a shared deadline.
// Requests in flight at the deadline may run ChunkGrace past it; no new ones
// start after it.
func runThroughput(ctx context.Context, plan throughputPlan, cfg Config, progress *progressEmitter, logger *slog.Logger) (ThroughputResult, error) {
	collector := &sampleCollector{}
	deadline := time.Now().Add(plan.duration)

	stopTicker := startThroughputTicker(plan, cfg.ProgressInterval, deadline, collector, progress)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.concurrency)
	for stream := 0; stream < plan.concurrency; stream++ {
		transfer := plan.newTransfer(stream)
		g.Go(func() error {
			runStream(gctx, stream, plan, cfg, deadline, transfer, collector, logger)
			return nil
		})
	}
	_ = g.Wait()
	stopTicker()

	if err := ctx.Err(); err != nil {
		return ThroughputResult{}, err
	}
	samples := collector.snapshot()
	if len(samples) == 0 {
		return ThroughputResult{Failures: collector.failureCount()}, &ThroughputError{Direction: plan.direction}
	}
	result := summarizeThroughput(samples)
	result.Failures = collector.failureCount()
	result.Samples = capSamples(samples, cfg.MaxReportSamples)
	return result, nil
}

func runStream(ctx context.Context, stream int, plan throughputPlan, cfg Config, deadline time.Time, transfer transferFunc, collector *sampleCollector, logger *slog.Logger) {
	for i := 0; time.Now().Before(deadline); i++ {
		if ctx.Err() != nil {
			return
		}
		sizeMB := plan.chunksMB[(stream+i)%len(plan.chunksMB)]
		timeout := min(cfg.RequestTimeout, time.Until(deadline)+cfg.ChunkGrace)
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		n, elapsed, err := transfer(reqCtx, sizeMB)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			collector.fail()
			logger.Warn("chunk failed", "direction", plan.direction.String(), "stream", stream, "size_mb", sizeMB, "error", err)
			if !sleepCtx(ctx, cfg.RetryPause) {
				return
			}
			continue
		}
		if elapsed <= 0 {
			continue
		}
		collector.add(Sample{
			TimestampMs: time.Now().UnixMilli(),
			Value:       protocol.SpeedMbps(n, elapsed.Seconds()),
			ByteCount:   n,
			DurationSec: elapsed.Seconds(),
		})
	}
}

// summarizeThroughput computes the mean speed and consistency of all samples.
func summarizeThroughput(samples []Sample) ThroughputResult {
	values := make([]float64, len(samples))
	var total int64
	for i, s := range samples {
		values[i] = s.Value
		total += s.ByteCount
	}
	return ThroughputResult{
		AverageMbps: util.Round2(scoring.Mean(values)),
		Consistency: util.Round2(scoring.Consistency(values)),
		SampleCount: len(samples),
		TotalBytes:  total,
	}
}

// startThroughputTicker emits running averages until the returned stop
// function is called. stop waits for the ticker goroutine to exit.
func startThroughputTicker(plan throughputPlan, interval time.Duration, deadline time.Time, collector *sampleCollector, progress *progressEmitter) func() {
	if progress == nil || interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				count, avg, bytes := collector.running()
				remaining := time.Until(deadline)
				fraction := 1 - remaining.Seconds()/plan.duration.Seconds()
				progress.emit(plan.stage, fraction, ThroughputProgress{
					Direction:   plan.direction,
					CurrentMbps: util.Round2(avg),
					Samples:     count,
					Bytes:       bytes,
				})
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
