package scoring

import (
	"math"

	"github.com/NodePath81/fbspeed/internal/util"
)

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the population standard deviation, computed with Welford's method.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean, m2 float64
	for i, v := range values {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	if m2 < 0 {
		return 0
	}
	return math.Sqrt(m2 / float64(len(values)))
}

// Consistency maps the coefficient of variation of values onto 0..100:
// max(0, 100 - CoV*100). Identical values score 100; an empty set scores 0.
func Consistency(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sd := StdDev(values)
	if sd == 0 {
		return 100
	}
	mean := Mean(values)
	if mean <= 0 {
		return 0
	}
	return util.Clamp(100-sd/mean*100, 0, 100)
}

// LatencyConsistency applies the same mapping to a latency average and its jitter.
func LatencyConsistency(avgMs, jitterMs float64) float64 {
	if jitterMs <= 0 {
		return 100
	}
	if avgMs <= 0 {
		return 0
	}
	return util.Clamp(100-jitterMs/avgMs*100, 0, 100)
}
