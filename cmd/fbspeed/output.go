package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/history"
	"github.com/NodePath81/fbspeed/internal/scoring"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/NodePath81/fbspeed/internal/version"
	"github.com/fatih/color"
)

func printHeader(servers int) {
	cyan := color.New(color.FgCyan)
	cyan.Printf("\n    fbspeed %s\n\n", version.Version)
	fmt.Printf("Probing %d server(s)...\n", servers)
}

func gradeColor(g scoring.Grade) *color.Color {
	switch {
	case strings.HasPrefix(string(g), "A"):
		return color.New(color.FgGreen, color.Bold)
	case strings.HasPrefix(string(g), "B"):
		return color.New(color.FgCyan, color.Bold)
	case strings.HasPrefix(string(g), "C"):
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func printReport(w io.Writer, r engine.MeasurementReport, elapsed time.Duration) {
	cyan := color.New(color.FgCyan).SprintFunc()
	server := r.Server.ID
	if r.Server.Location != "" {
		server += " (" + r.Server.Location + ")"
	}
	fmt.Fprintf(w, "%s Server:      %s [%s]\n", cyan("✓"), server, r.Server.Host)
	if r.ClientAddress != "" {
		fmt.Fprintf(w, "%s Client:      %s\n", cyan("✓"), r.ClientAddress)
	}
	fmt.Fprintf(w, "%s Latency:     %s (min %s, max %s, jitter %s)\n", cyan("✓"),
		util.FormatMillis(r.Latency.AvgMs), util.FormatMillis(r.Latency.MinMs),
		util.FormatMillis(r.Latency.MaxMs), util.FormatMillis(r.Latency.JitterMs))
	fmt.Fprintf(w, "%s Download:    %s (consistency %.0f%%, %d samples, %s)\n", cyan("✓"),
		util.FormatMbps(r.Download.AverageMbps), r.Download.Consistency, r.Download.SampleCount,
		util.FormatBytes(float64(r.Download.TotalBytes)))
	fmt.Fprintf(w, "%s Upload:      %s (consistency %.0f%%, %d samples, %s)\n", cyan("✓"),
		util.FormatMbps(r.Upload.AverageMbps), r.Upload.Consistency, r.Upload.SampleCount,
		util.FormatBytes(float64(r.Upload.TotalBytes)))
	fmt.Fprintf(w, "%s Packet loss: %.2f%%\n", cyan("✓"), r.PacketLossPercent)
	fmt.Fprintln(w)

	grade := gradeColor(r.Quality.Grade).SprintFunc()
	fmt.Fprintf(w, "Quality: %s  score %.2f, reliability %.2f\n", grade(string(r.Quality.Grade)), r.Quality.Score, r.Reliability)
	b := r.Quality.Breakdown
	fmt.Fprintf(w, "  download %.2f  upload %.2f  latency %.2f  loss %.2f  consistency %.2f\n",
		b.DownloadScore, b.UploadScore, b.LatencyScore, b.PacketLossScore, b.ConsistencyScore)
	if elapsed > 0 {
		fmt.Fprintf(w, "\nTest %s finished in %s\n", r.TestID, elapsed.Round(100*time.Millisecond))
	} else {
		fmt.Fprintf(w, "\nTest %s started %s\n", r.TestID, r.StartedAt.Format(time.RFC3339))
	}
}

func printHistory(w io.Writer, entries []history.Entry) {
	fmt.Fprintf(w, "%-20s  %-12s  %12s  %12s  %10s  %6s  %6s  %s\n",
		"STARTED", "SERVER", "DOWNLOAD", "UPLOAD", "LATENCY", "LOSS", "SCORE", "GRADE")
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s  %-12.12s  %12s  %12s  %10s  %5.1f%%  %6.2f  %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.ServerID,
			util.FormatMbps(e.DownloadMbps), util.FormatMbps(e.UploadMbps),
			util.FormatMillis(e.LatencyMs), e.LossPercent, e.Score, e.Grade)
	}
}
