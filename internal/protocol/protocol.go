// Package protocol defines the HTTP contract between the measurement engine
// and probe servers: endpoint paths, JSON bodies, size limits and the
// no-cache header set.
package protocol

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	PathPing     = "/ping"
	PathDownload = "/download/"
	PathUpload   = "/upload"
	PathMetrics  = "/metrics"

	// ChunkSize is the write granularity of download responses.
	ChunkSize = 64 * 1024
	// BytesPerMB is the multiplier applied to the size segment of a download path.
	BytesPerMB = 1024 * 1024
	// MaxDownloadMB is the hard cap on a single download request.
	MaxDownloadMB = 100

	// HeaderClientAddress carries the peer address observed by the server on /ping.
	HeaderClientAddress = "X-Client-Address"
	// QueryPacket is the query parameter echoed back in PingResponse.Packet.
	QueryPacket = "packet"
)

// PingResponse is the body of GET /ping.
type PingResponse struct {
	Timestamp int64  `json:"timestamp"`
	Server    string `json:"server"`
	Packet    int    `json:"packet"`
}

// UploadResponse is the body of POST /upload.
type UploadResponse struct {
	ReceivedBytes int64   `json:"receivedBytes"`
	DurationMs    int64   `json:"durationMs"`
	SpeedMbps     float64 `json:"speedMbps"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

var noCacheHeaders = [][2]string{
	{"Cache-Control", "no-store, no-cache, must-revalidate, max-age=0"},
	{"Pragma", "no-cache"},
	{"Expires", "0"},
}

// SetNoCache writes the no-cache header set onto h.
func SetNoCache(h http.Header) {
	for _, kv := range noCacheHeaders {
		h.Set(kv[0], kv[1])
	}
}

// DownloadPath returns the request path for a download of sizeMB.
func DownloadPath(sizeMB int) string {
	return PathDownload + strconv.Itoa(sizeMB)
}

// PingPath returns the ping path with the packet sequence attached.
func PingPath(packet int) string {
	return fmt.Sprintf("%s?%s=%d", PathPing, QueryPacket, packet)
}

// ParseDownloadSize validates the size segment of a download path against limitMB.
func ParseDownloadSize(raw string, limitMB int) (int, error) {
	sizeMB, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	if sizeMB < 0 {
		return 0, fmt.Errorf("size must not be negative: %d", sizeMB)
	}
	if limitMB <= 0 || limitMB > MaxDownloadMB {
		limitMB = MaxDownloadMB
	}
	if sizeMB > limitMB {
		return 0, fmt.Errorf("size %dMB exceeds limit of %dMB", sizeMB, limitMB)
	}
	return sizeMB, nil
}

// SpeedMbps converts a byte count transferred over seconds into megabits per second.
func SpeedMbps(bytes int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) * 8 / (seconds * 1_000_000)
}
