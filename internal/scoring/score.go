package scoring

import "github.com/NodePath81/fbspeed/internal/util"

// Weight constants for the quality formula. They sum to 1.0.
const (
	weightDownload    = 0.35
	weightUpload      = 0.25
	weightLatency     = 0.25
	weightPacketLoss  = 0.10
	weightConsistency = 0.05
)

// lossPenalty is the number of points one percent of loss costs.
const lossPenalty = 10

type Grade string

const (
	GradeAPlus  Grade = "A+"
	GradeA      Grade = "A"
	GradeAMinus Grade = "A-"
	GradeBPlus  Grade = "B+"
	GradeB      Grade = "B"
	GradeBMinus Grade = "B-"
	GradeCPlus  Grade = "C+"
	GradeC      Grade = "C"
	GradeCMinus Grade = "C-"
	GradeD      Grade = "D"
	GradeF      Grade = "F"
)

// gradeSteps is ordered from the highest floor down; the first floor a score
// reaches wins.
var gradeSteps = []struct {
	floor float64
	grade Grade
}{
	{95, GradeAPlus},
	{90, GradeA},
	{85, GradeAMinus},
	{80, GradeBPlus},
	{75, GradeB},
	{70, GradeBMinus},
	{65, GradeCPlus},
	{60, GradeC},
	{55, GradeCMinus},
	{50, GradeD},
}

// Input holds the aggregate figures of one finished measurement.
type Input struct {
	DownloadMbps        float64
	UploadMbps          float64
	AvgLatencyMs        float64
	JitterMs            float64
	LossPercent         float64
	DownloadConsistency float64
	UploadConsistency   float64
}

// Reference is the throughput that earns a full throughput score.
type Reference struct {
	DownloadMbps float64
	UploadMbps   float64
}

type Breakdown struct {
	DownloadScore    float64 `json:"downloadScore"`
	UploadScore      float64 `json:"uploadScore"`
	LatencyScore     float64 `json:"latencyScore"`
	PacketLossScore  float64 `json:"packetLossScore"`
	ConsistencyScore float64 `json:"consistencyScore"`
}

// Result is the composite quality. The zero value has no grade and is not valid.
type Result struct {
	Score     float64   `json:"score"`
	Grade     Grade     `json:"grade,omitempty"`
	Breakdown Breakdown `json:"breakdown"`
}

func (r Result) Valid() bool {
	return r.Grade != ""
}

// Quality computes
//
//	0.35*download + 0.25*upload + 0.25*latency + 0.10*packetLoss + 0.05*consistency
//
// where download/upload are min(100, measured/reference*100), latency is
// max(0, 100-avgMs), packetLoss is max(0, 100-loss*10) and consistency is the
// mean of the two throughput consistencies.
func Quality(in Input, ref Reference) Result {
	b := Breakdown{
		DownloadScore:    throughputScore(in.DownloadMbps, ref.DownloadMbps),
		UploadScore:      throughputScore(in.UploadMbps, ref.UploadMbps),
		LatencyScore:     util.Clamp(100-in.AvgLatencyMs, 0, 100),
		PacketLossScore:  util.Clamp(100-in.LossPercent*lossPenalty, 0, 100),
		ConsistencyScore: util.Clamp((in.DownloadConsistency+in.UploadConsistency)/2, 0, 100),
	}
	score := weightDownload*b.DownloadScore +
		weightUpload*b.UploadScore +
		weightLatency*b.LatencyScore +
		weightPacketLoss*b.PacketLossScore +
		weightConsistency*b.ConsistencyScore
	score = util.Round2(util.Clamp(score, 0, 100))

	return Result{
		Score: score,
		Grade: GradeFor(score),
		Breakdown: Breakdown{
			DownloadScore:    util.Round2(b.DownloadScore),
			UploadScore:      util.Round2(b.UploadScore),
			LatencyScore:     util.Round2(b.LatencyScore),
			PacketLossScore:  util.Round2(b.PacketLossScore),
			ConsistencyScore: util.Round2(b.ConsistencyScore),
		},
	}
}

// GradeFor maps a quality score to its letter grade. Floors are inclusive.
func GradeFor(score float64) Grade {
	for _, step := range gradeSteps {
		if score >= step.floor {
			return step.grade
		}
	}
	return GradeF
}

// Reliability is the unweighted mean of latency consistency, download
// consistency, upload consistency and the delivery rate (100 - loss).
func Reliability(in Input) float64 {
	parts := []float64{
		LatencyConsistency(in.AvgLatencyMs, in.JitterMs),
		util.Clamp(in.DownloadConsistency, 0, 100),
		util.Clamp(in.UploadConsistency, 0, 100),
		util.Clamp(100-in.LossPercent, 0, 100),
	}
	return util.Round2(Mean(parts))
}

func throughputScore(measured, reference float64) float64 {
	if reference <= 0 || measured <= 0 {
		return 0
	}
	return util.Clamp(measured/reference*100, 0, 100)
}
