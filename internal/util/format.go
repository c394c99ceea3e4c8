package util

import "fmt"

// FormatBitsPerSecond formats bits per second with appropriate units
func FormatBitsPerSecond(bps float64) string {
	return formatWithUnits(bps, []string{"bps", "Kbps", "Mbps", "Gbps", "Tbps"}, 1000)
}

// FormatMbps formats a megabit-per-second figure.
func FormatMbps(mbps float64) string {
	return FormatBitsPerSecond(mbps * 1e6)
}

// FormatBytes formats byte counts with appropriate units
func FormatBytes(bytes float64) string {
	return formatWithUnits(bytes, []string{"B", "KB", "MB", "GB", "TB", "PB"}, 1000)
}

// FormatMillis formats a millisecond value, switching to seconds above 10s.
func FormatMillis(ms float64) string {
	if ms < 0 {
		return "0ms"
	}
	if ms < 10_000 {
		return fmt.Sprintf("%.2fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}

func formatWithUnits(value float64, units []string, base float64) string {
	if value < 0 {
		return "0"
	}
	idx := 0
	for value >= base && idx < len(units)-1 {
		value /= base
		idx++
	}
	if value >= 100 {
		return fmt.Sprintf("%.0f %s", value, units[idx])
	}
	if value >= 10 {
		return fmt.Sprintf("%.1f %s", value, units[idx])
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}
