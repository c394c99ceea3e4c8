package engine

import (
	"sort"
	"sync"
)

// sampleCollector is the single merge point for samples produced by
// concurrent streams.
type sampleCollector struct {
	mu       sync.Mutex
	samples  []Sample
	bytes    int64
	failures int
}

func (c *sampleCollector) add(s Sample) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.bytes += s.ByteCount
	c.mu.Unlock()
}

func (c *sampleCollector) fail() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

// snapshot returns a copy of the samples ordered by timestamp.
func (c *sampleCollector) snapshot() []Sample {
	c.mu.Lock()
	out := append([]Sample(nil), c.samples...)
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out
}

// running returns the sample count, running mean value and byte total.
func (c *sampleCollector) running() (int, float64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return 0, 0, c.bytes
	}
	var sum float64
	for _, s := range c.samples {
		sum += s.Value
	}
	return len(c.samples), sum / float64(len(c.samples)), c.bytes
}

func (c *sampleCollector) failureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// capSamples keeps at most max samples spread evenly over the series.
func capSamples(samples []Sample, max int) []Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	out := make([]Sample, 0, max)
	for i := 0; i < max; i++ {
		out = append(out, samples[i*len(samples)/max])
	}
	return out
}
