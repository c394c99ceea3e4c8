package probeserver

import (
	"context"

	"github.com/NodePath81/fbspeed/internal/protocol"
	"golang.org/x/time/rate"
)

// Pacer is a token bucket shared by every download stream. A zero rate
// disables pacing.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(bitsPerSec uint64) *Pacer {
	p := &Pacer{limiter: rate.NewLimiter(rate.Inf, protocol.ChunkSize)}
	p.SetRate(bitsPerSec)
	return p
}

// SetRate changes the drain rate for subsequent waits.
func (p *Pacer) SetRate(bitsPerSec uint64) {
	if bitsPerSec == 0 {
		p.limiter.SetLimit(rate.Inf)
		return
	}
	p.limiter.SetLimit(rate.Limit(float64(bitsPerSec) / 8))
}

// Wait blocks until n bytes may be sent or ctx is done. Requests larger than
// one chunk are paced chunk by chunk.
func (p *Pacer) Wait(ctx context.Context, n int) error {
	if p == nil || n <= 0 {
		return nil
	}
	burst := p.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := p.limiter.WaitN(ctx, step); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		n -= step
	}
	return nil
}
