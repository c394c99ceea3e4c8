package engine

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

type selection struct {
	server        ProbeServer
	clientAddress string
	probed        []ProbeServer
}

// selectServer probes every candidate concurrently, each with its own
// timeout, and returns the reachable candidate with the lowest round trip.
// Ties go to the earlier candidate.
func selectServer(ctx context.Context, client *http.Client, candidates []ProbeServer, timeout time.Duration, locator Locator, logger *slog.Logger) (selection, error) {
	if len(candidates) == 0 {
		return selection{}, ErrNoProbeServerAvailable
	}
	probed := make([]ProbeServer, len(candidates))
	clientAddrs := make([]string, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(candidates))
	for i, cand := range candidates {
		g.Go(func() error {
			cand.Reachable = false
			cand.LastLatencyMs = 0
			defer func() { probed[i] = cand }()

			pc, err := newProbeClient(client, cand.Host)
			if err != nil {
				logger.Warn("skipping candidate", "server", cand.ID, "error", err)
				return nil
			}
			reqCtx, cancel := context.WithTimeout(gctx, timeout)
			reply, err := pc.head(reqCtx)
			cancel()
			if err != nil {
				logger.Debug("candidate unreachable", "server", cand.ID, "host", cand.Host, "error", err)
				return nil
			}
			cand.Reachable = true
			cand.LastLatencyMs = durationMs(reply.RTT)
			clientAddrs[i] = reply.ClientAddress
			if cand.Location == "" && locator != nil {
				cand.Location = locator.Locate(gctx, cand.Host)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return selection{}, err
	}

	best := -1
	for i, p := range probed {
		if !p.Reachable {
			continue
		}
		if best < 0 || p.LastLatencyMs < probed[best].LastLatencyMs {
			best = i
		}
	}
	if best < 0 {
		return selection{probed: probed}, ErrNoProbeServerAvailable
	}
	return selection{
		server:        probed[best],
		clientAddress: clientAddrs[best],
		probed:        probed,
	}, nil
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
