package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, origins []string) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(ctx, origins, util.NewDiscardLogger())
	ts := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return hub, ts, cancel
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + PathProgress
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastsProgress(t *testing.T) {
	hub, ts, _ := newTestHub(t, nil)
	conn := dial(t, ts, nil)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishProgress(engine.Progress{TestID: "abc", Stage: engine.StageLatency, ProgressPercent: 15})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "progress", msg.Type)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, "abc", msg.Progress.TestID)
	assert.Equal(t, engine.StageLatency, msg.Progress.Stage)
	assert.Equal(t, 15.0, msg.Progress.ProgressPercent)
}

func TestHubReportAndError(t *testing.T) {
	hub, ts, _ := newTestHub(t, nil)
	conn := dial(t, ts, nil)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishReport(engine.MeasurementReport{TestID: "r1"})
	hub.PublishError(errors.New("boom"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second Message
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "report", first.Type)
	assert.Equal(t, "r1", first.Report.TestID)
	assert.Equal(t, "error", second.Type)
	assert.Equal(t, "boom", second.Error)
}

func TestHubPublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub, _, _ := newTestHub(t, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*4; i++ {
			hub.PublishProgress(engine.Progress{Stage: engine.StageDownload})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, ts, _ := newTestHub(t, []string{"https://dash.example.com"})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + PathProgress

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, ts, http.Header{"Origin": {"https://dash.example.com"}})
	assert.NotNil(t, conn)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	hub, ts, cancel := newTestHub(t, nil)
	conn := dial(t, ts, nil)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
