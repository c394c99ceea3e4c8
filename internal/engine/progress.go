package engine

import (
	"log/slog"
)

const progressBuffer = 64

// Progress is delivered to the progress callback at stage boundaries and on
// a fixed tick during throughput stages.
type Progress struct {
	TestID          string  `json:"testId"`
	Stage           Stage   `json:"stage"`
	ProgressPercent float64 `json:"progressPercent"`
	PartialData     any     `json:"partialData,omitempty"`
}

type ProgressFunc func(Progress)

// ThroughputProgress is the partial data of a running throughput stage.
type ThroughputProgress struct {
	Direction   Direction `json:"direction"`
	CurrentMbps float64   `json:"currentMbps"`
	Samples     int       `json:"samples"`
	Bytes       int64     `json:"bytes"`
}

// PacketLossProgress is the partial data of a finished packet-loss stage.
type PacketLossProgress struct {
	LossPercent float64 `json:"lossPercent"`
	Sent        int     `json:"sent"`
	Delivered   int     `json:"delivered"`
}

// stageSpan is the share of overall progress each stage covers.
var stageSpan = map[Stage][2]float64{
	StageSelection:  {0, 5},
	StageLatency:    {5, 15},
	StageDownload:   {15, 55},
	StageUpload:     {55, 85},
	StagePacketLoss: {85, 95},
	StageScoring:    {95, 100},
}

func stagePercent(stage Stage, fraction float64) float64 {
	span := stageSpan[stage]
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return span[0] + (span[1]-span[0])*fraction
}

// progressEmitter hands events to the callback on its own goroutine. A full
// buffer drops the event and a panicking callback is contained, so the run
// never waits on or fails because of a listener.
type progressEmitter struct {
	testID string
	ch     chan Progress
	logger *slog.Logger
}

func newProgressEmitter(testID string, fn ProgressFunc, logger *slog.Logger) *progressEmitter {
	if fn == nil {
		return nil
	}
	e := &progressEmitter{
		testID: testID,
		ch:     make(chan Progress, progressBuffer),
		logger: logger,
	}
	go e.deliver(fn)
	return e
}

func (e *progressEmitter) deliver(fn ProgressFunc) {
	for p := range e.ch {
		e.call(fn, p)
	}
}

func (e *progressEmitter) call(fn ProgressFunc, p Progress) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("progress callback panicked", "stage", p.Stage, "panic", r)
		}
	}()
	fn(p)
}

func (e *progressEmitter) emit(stage Stage, fraction float64, partial any) {
	if e == nil {
		return
	}
	p := Progress{
		TestID:          e.testID,
		Stage:           stage,
		ProgressPercent: stagePercent(stage, fraction),
		PartialData:     partial,
	}
	select {
	case e.ch <- p:
	default:
		e.logger.Debug("progress event dropped", "stage", stage)
	}
}

func (e *progressEmitter) close() {
	if e == nil {
		return
	}
	close(e.ch)
}
