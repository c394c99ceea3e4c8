package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NodePath81/fbspeed/internal/netclient"
	"github.com/NodePath81/fbspeed/internal/scoring"
	"github.com/google/uuid"
)

// RunMeasurement runs one full measurement against the best of candidates
// with a default HTTP client and no progress listener.
func RunMeasurement(ctx context.Context, cfg Config, candidates []ProbeServer) (MeasurementReport, error) {
	return Run(ctx, cfg, candidates, Options{})
}

// Run executes selection, latency, download, upload, packet loss and scoring
// in order. Any fatal stage error aborts the run and is returned as a
// *StageError whose Partial report carries the stages completed so far.
func Run(ctx context.Context, cfg Config, candidates []ProbeServer, opts Options) (MeasurementReport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return MeasurementReport{}, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := opts.Client
	if client == nil {
		c, err := netclient.New(netclient.Options{})
		if err != nil {
			return MeasurementReport{}, fmt.Errorf("http client: %w", err)
		}
		client = c
	}

	r := &run{
		cfg:        cfg,
		opts:       opts,
		client:     client,
		candidates: candidates,
		report: MeasurementReport{
			TestID:           uuid.NewString(),
			StartedAt:        time.Now().UTC(),
			StageDurationsMs: make(map[Stage]int64),
		},
	}
	r.logger = logger.With("test_id", r.report.TestID)
	r.progress = newProgressEmitter(r.report.TestID, opts.Progress, r.logger)
	defer r.progress.close()

	runCtx, cancel := context.WithTimeout(ctx, cfg.OverallTimeout)
	defer cancel()

	r.logger.Info("measurement started", "candidates", len(candidates), "test_duration", cfg.TestDuration)
	if err := r.execute(runCtx); err != nil {
		return MeasurementReport{}, r.fail(ctx, runCtx, err)
	}
	r.report.TotalDurationMs = time.Since(r.report.StartedAt).Milliseconds()
	r.logger.Info("measurement finished",
		"server", r.report.Server.ID,
		"download_mbps", r.report.Download.AverageMbps,
		"upload_mbps", r.report.Upload.AverageMbps,
		"latency_ms", r.report.Latency.AvgMs,
		"loss_percent", r.report.PacketLossPercent,
		"score", r.report.Quality.Score,
		"grade", r.report.Quality.Grade,
	)
	return r.report.clone(), nil
}

type run struct {
	cfg        Config
	opts       Options
	client     *http.Client
	candidates []ProbeServer
	logger     *slog.Logger
	progress   *progressEmitter
	report     MeasurementReport
	stage      Stage
}

func (r *run) execute(ctx context.Context) error {
	var pc *probeClient

	err := r.step(ctx, StageSelection, func() (any, error) {
		candidates := make([]ProbeServer, len(r.candidates))
		copy(candidates, r.candidates)
		sel, err := selectServer(ctx, r.client, candidates, r.cfg.SelectionTimeout, r.opts.Locator, r.logger)
		if err != nil {
			return nil, err
		}
		r.report.Server = sel.server
		r.report.ClientAddress = sel.clientAddress
		pc, err = newProbeClient(r.client, sel.server.Host)
		if err != nil {
			return nil, err
		}
		return sel.server, nil
	})
	if err != nil {
		return err
	}

	err = r.step(ctx, StageLatency, func() (any, error) {
		res, clientAddr, err := measureLatency(ctx, pc, r.cfg, r.logger)
		r.report.Latency = res
		if r.report.ClientAddress == "" {
			r.report.ClientAddress = clientAddr
		}
		return res, err
	})
	if err != nil {
		return err
	}

	err = r.step(ctx, StageDownload, func() (any, error) {
		res, err := runThroughput(ctx, downloadPlan(pc, r.cfg), r.cfg, r.progress, r.logger)
		r.report.Download = res
		return res, err
	})
	if err != nil {
		return err
	}

	err = r.step(ctx, StageUpload, func() (any, error) {
		res, err := runThroughput(ctx, uploadPlan(pc, r.cfg), r.cfg, r.progress, r.logger)
		r.report.Upload = res
		return res, err
	})
	if err != nil {
		return err
	}

	err = r.step(ctx, StagePacketLoss, func() (any, error) {
		res, err := measurePacketLoss(ctx, pc, r.cfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.report.PacketLossPercent = res.LossPercent
		return res, nil
	})
	if err != nil {
		return err
	}

	return r.step(ctx, StageScoring, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := scoring.Input{
			DownloadMbps:        r.report.Download.AverageMbps,
			UploadMbps:          r.report.Upload.AverageMbps,
			AvgLatencyMs:        r.report.Latency.AvgMs,
			JitterMs:            r.report.Latency.JitterMs,
			LossPercent:         r.report.PacketLossPercent,
			DownloadConsistency: r.report.Download.Consistency,
			UploadConsistency:   r.report.Upload.Consistency,
		}
		r.report.Quality = scoring.Quality(in, scoring.Reference{
			DownloadMbps: r.cfg.ReferenceDownloadMbps,
			UploadMbps:   r.cfg.ReferenceUploadMbps,
		})
		r.report.Reliability = scoring.Reliability(in)
		return r.report.Quality, nil
	})
}

// step times fn, records its duration and emits the stage boundaries.
func (r *run) step(ctx context.Context, stage Stage, fn func() (any, error)) error {
	if err := ctx.Err(); err != nil {
		r.stage = stage
		return err
	}
	r.stage = stage
	r.progress.emit(stage, 0, nil)
	start := time.Now()
	partial, err := fn()
	r.report.StageDurationsMs[stage] = time.Since(start).Milliseconds()
	if err != nil {
		return err
	}
	r.logger.Debug("stage finished", "stage", stage, "duration_ms", r.report.StageDurationsMs[stage])
	r.progress.emit(stage, 1, partial)
	return nil
}

// fail maps a stage failure to the returned error. The overall deadline
// surfaces as ErrMeasurementTimeout; cancellation by the caller surfaces as
// the caller's context error.
func (r *run) fail(parent, runCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		err = parent.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s", ErrMeasurementTimeout, r.cfg.OverallTimeout)
	}
	partial := r.report
	partial.Quality = QualityResult{}
	partial.Reliability = 0
	partial.TotalDurationMs = time.Since(r.report.StartedAt).Milliseconds()
	r.logger.Warn("measurement aborted", "stage", r.stage, "error", err)
	return &StageError{Stage: r.stage, Partial: partial.clone(), Err: err}
}
