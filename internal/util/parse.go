package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBandwidth parses a human-readable bandwidth string to bits/sec.
// Supports "100k", "100m", "1g" and the long forms "100kbps", "100mbps", "1gbps".
// Bare numbers are rejected except for zero, which means unlimited.
func ParseBandwidth(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "0" || s == "0.0" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "bps")
	multiplier := float64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1e3
	case strings.HasSuffix(s, "m"):
		multiplier = 1e6
	case strings.HasSuffix(s, "g"):
		multiplier = 1e9
	default:
		return 0, fmt.Errorf("bandwidth must include unit suffix (k/m/g): %q", s)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(s[:len(s)-1]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("bandwidth cannot be negative: %q", s)
	}
	return uint64(value * multiplier), nil
}

// ParseSize parses a size string to bytes. Decimal ("kb", "mb", "gb") and
// binary ("kib", "mib", "gib") suffixes are accepted; a bare number is bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	units := []struct {
		suffix string
		mult   float64
	}{
		{"kib", 1 << 10},
		{"mib", 1 << 20},
		{"gib", 1 << 30},
		{"kb", 1e3},
		{"mb", 1e6},
		{"gb", 1e9},
		{"b", 1},
	}
	multiplier := float64(1)
	numStr := s
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			numStr = s[:len(s)-len(u.suffix)]
			break
		}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}
	return int64(value * multiplier), nil
}
