package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/NodePath81/fbspeed/internal/util"
	"golang.org/x/sync/errgroup"
)

// measurePacketLoss fires count concurrent pings, each bounded by the packet
// timeout. A probe is delivered only if it returns its own sequence number.
// Total loss is a valid result.
func measurePacketLoss(ctx context.Context, pc *probeClient, cfg Config, logger *slog.Logger) (PacketLossProgress, error) {
	count := cfg.PacketLossSampleCount
	var delivered atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(count)
	for seq := 0; seq < count; seq++ {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, cfg.PacketTimeout)
			defer cancel()
			reply, err := pc.ping(reqCtx, seq)
			if err != nil {
				logger.Debug("probe lost", "seq", seq, "error", err)
				return nil
			}
			if reply.Packet != seq {
				logger.Debug("probe echo mismatch", "seq", seq, "echo", reply.Packet)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return PacketLossProgress{}, err
	}
	got := int(delivered.Load())
	return PacketLossProgress{
		LossPercent: lossPercent(count, got),
		Sent:        count,
		Delivered:   got,
	}, nil
}

func lossPercent(sent, delivered int) float64 {
	if sent <= 0 {
		return 0
	}
	return util.Round2(float64(sent-delivered) / float64(sent) * 100)
}
