package probeserver

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/NodePath81/fbspeed/internal/protocol"
	"github.com/NodePath81/fbspeed/internal/util"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	packet := 0
	if raw := r.URL.Query().Get(protocol.QueryPacket); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid packet")
			return
		}
		packet = n
	}
	w.Header().Set(protocol.HeaderClientAddress, remoteHost(r.RemoteAddr))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, protocol.PingResponse{
		Timestamp: time.Now().UnixMilli(),
		Server:    s.cfg.Name,
		Packet:    packet,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sizeMB, err := protocol.ParseDownloadSize(r.PathValue("size"), s.cfg.MaxDownloadMB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.admit(w) {
		return
	}
	defer s.release()

	total := int64(sizeMB) * protocol.BytesPerMB
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(total, 10))
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	var sent int64
	for sent < total {
		n := min(total-sent, int64(len(s.payload)))
		if err := s.pacer.Wait(ctx, int(n)); err != nil {
			break
		}
		// Write blocks while the client's receive window is full.
		written, err := w.Write(s.payload[:n])
		sent += int64(written)
		if err != nil {
			s.logger.Debug("download stream ended early", "remote", r.RemoteAddr, "sent", sent, "error", err)
			break
		}
	}
	s.metrics.bytes.WithLabelValues("download").Add(float64(sent))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}
	defer s.release()

	start := time.Now()
	body := http.MaxBytesReader(w, r.Body, s.maxUpload.Load())
	received, err := io.Copy(io.Discard, body)
	elapsed := time.Since(start)
	s.metrics.bytes.WithLabelValues("upload").Add(float64(received))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds limit of "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		s.logger.Debug("upload interrupted", "remote", r.RemoteAddr, "received", received, "error", err)
		writeError(w, http.StatusBadRequest, "upload interrupted")
		return
	}
	writeJSON(w, http.StatusOK, protocol.UploadResponse{
		ReceivedBytes: received,
		DurationMs:    elapsed.Milliseconds(),
		SpeedMbps:     util.Round2(protocol.SpeedMbps(received, elapsed.Seconds())),
	})
}

func (s *Server) admit(w http.ResponseWriter) bool {
	if !s.gate.TryAcquire() {
		s.metrics.rejectedStreams.Inc()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "probe server busy")
		return false
	}
	s.metrics.activeStreams.Inc()
	return true
}

func (s *Server) release() {
	s.gate.Release()
	s.metrics.activeStreams.Dec()
}

func (s *Server) instrument(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.requests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// noCache stamps the no-cache header set on every response, including
// routing errors produced by the mux.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protocol.SetNoCache(w.Header())
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
