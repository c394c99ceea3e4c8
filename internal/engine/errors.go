package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProbeServerAvailable means no candidate answered its reachability probe.
	ErrNoProbeServerAvailable = errors.New("no probe server available")
	// ErrLatencyMeasurementFailed means every latency sample was dropped.
	ErrLatencyMeasurementFailed = errors.New("latency measurement failed")
	// ErrThroughputMeasurementFailed matches any *ThroughputError.
	ErrThroughputMeasurementFailed = errors.New("throughput measurement failed")
	// ErrMeasurementTimeout means the overall deadline passed before scoring.
	ErrMeasurementTimeout = errors.New("measurement timeout")
)

// ThroughputError reports a throughput stage that collected no valid samples.
type ThroughputError struct {
	Direction Direction
}

func (e *ThroughputError) Error() string {
	return fmt.Sprintf("%s throughput measurement failed: no valid samples", e.Direction)
}

func (e *ThroughputError) Is(target error) bool {
	return target == ErrThroughputMeasurementFailed
}

// StageError aborts a run. Partial holds whatever earlier stages produced;
// its Quality is never set.
type StageError struct {
	Stage   Stage
	Partial MeasurementReport
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
