package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/protocol"
)

// probeClient issues probe protocol requests against one server.
type probeClient struct {
	http *http.Client
	base string
}

type pingReply struct {
	RTT           time.Duration
	Packet        int
	Server        string
	ClientAddress string
}

// baseURL normalises a candidate host into a scheme://host[:port] prefix.
// Bare hosts are assumed to speak plain HTTP.
func baseURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid host %q", host)
	}
	return strings.TrimSuffix(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

func newProbeClient(client *http.Client, host string) (*probeClient, error) {
	base, err := baseURL(host)
	if err != nil {
		return nil, err
	}
	return &probeClient{http: client, base: base}, nil
}

// head performs a HEAD /ping connectivity check.
func (c *probeClient) head(ctx context.Context) (pingReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base+protocol.PathPing, nil)
	if err != nil {
		return pingReply{}, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return pingReply{}, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	rtt := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		return pingReply{}, fmt.Errorf("ping: unexpected status %d", resp.StatusCode)
	}
	return pingReply{RTT: rtt, ClientAddress: resp.Header.Get(protocol.HeaderClientAddress)}, nil
}

// ping performs GET /ping?packet=n and decodes the reply.
func (c *probeClient) ping(ctx context.Context, packet int) (pingReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+protocol.PingPath(packet), nil)
	if err != nil {
		return pingReply{}, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return pingReply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return pingReply{}, fmt.Errorf("ping: unexpected status %d", resp.StatusCode)
	}
	var body protocol.PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pingReply{}, fmt.Errorf("ping: decode: %w", err)
	}
	rtt := time.Since(start)
	return pingReply{
		RTT:           rtt,
		Packet:        body.Packet,
		Server:        body.Server,
		ClientAddress: resp.Header.Get(protocol.HeaderClientAddress),
	}, nil
}

// download fetches one chunk and returns the bytes drained and the time from
// request start to the last byte.
func (c *probeClient) download(ctx context.Context, sizeMB int) (int64, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+protocol.DownloadPath(sizeMB), nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, 0, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return n, elapsed, fmt.Errorf("download: read body: %w", err)
	}
	if want := int64(sizeMB) * protocol.BytesPerMB; n != want {
		return n, elapsed, fmt.Errorf("download: short body %d of %d bytes", n, want)
	}
	return n, elapsed, nil
}

// upload sends payload and returns the time until the server acknowledged it.
func (c *probeClient) upload(ctx context.Context, payload []byte) (protocol.UploadResponse, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+protocol.PathUpload, bytes.NewReader(payload))
	if err != nil {
		return protocol.UploadResponse{}, 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.UploadResponse{}, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return protocol.UploadResponse{}, 0, fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}
	var ack protocol.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return protocol.UploadResponse{}, 0, fmt.Errorf("upload: decode: %w", err)
	}
	elapsed := time.Since(start)
	if ack.ReceivedBytes != int64(len(payload)) {
		return ack, elapsed, fmt.Errorf("upload: server received %d of %d bytes", ack.ReceivedBytes, len(payload))
	}
	return ack, elapsed, nil
}
