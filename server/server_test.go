package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/pipeline"
	"github.com/edgevision/zed-edge/service/camera"
	"github.com/edgevision/zed-edge/service/config"
	"github.com/edgevision/zed-edge/service/stats"
)

// stubConfig overrides only what the handlers read.
type stubConfig struct {
	config.IService
}

func (stubConfig) GetJPEGQuality() int { return 85 }

type fixture struct {
	server      *Server
	bus         *pipeline.Bus
	statsStream chan interface{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	session := camera.NewFake()
	sup := pipeline.NewSupervisor(stubConfig{}, session)
	if err := sup.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	bus := pipeline.NewBus()
	statsStream := make(chan interface{}, 8)
	svcs := pipeline.ServicesFactory{
		CfgSvc:   stubConfig{},
		StatsSvc: stats.NewFake(),
	}

	return &fixture{
		server:      New(svcs, bus, sup, statsStream),
		bus:         bus,
		statsStream: statsStream,
	}
}

// testSnapshot builds a publishable snapshot from a real frame.
func testSnapshot(t *testing.T, counts map[string]int) pipeline.Snapshot {
	t.Helper()

	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()

	return pipeline.Snapshot{
		Pixels:     mat.ToBytes(),
		Width:      mat.Cols(),
		Height:     mat.Rows(),
		Type:       mat.Type(),
		Counts:     counts,
		CapturedAt: time.Now(),
	}
}

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid JSON from %s: %v", path, err)
		}
	}
	return rec.Code, payload
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Handler()

	code, payload := getJSON(t, handler, "/health")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if payload["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %v", payload["status"])
	}
	if payload["cameraReady"] != true {
		t.Fatalf("expected cameraReady true, got %v", payload["cameraReady"])
	}
	if payload["sdkVersion"] != "fake-sdk 1.0" {
		t.Fatalf("unexpected sdkVersion: %v", payload["sdkVersion"])
	}
}

func TestMetricsBeforeFirstFrame(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Handler()

	code, payload := getJSON(t, handler, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	ts, ok := payload["timestamp"].(string)
	if !ok {
		t.Fatalf("expected a timestamp, got %v", payload["timestamp"])
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("timestamp is not RFC3339: %v", err)
	}
	if len(payload) != 1 {
		t.Fatalf("expected no counts before the first frame, got %v", payload)
	}
}

func TestMetricsReflectsLatestSnapshot(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Handler()

	capturedAt := time.Now().Add(-3 * time.Second).Truncate(time.Second)
	f.bus.Publish(pipeline.Snapshot{
		Counts:     map[string]int{"Person": 3, "Vehicle": 1},
		CapturedAt: capturedAt,
	})

	code, payload := getJSON(t, handler, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if payload["Person"] != float64(3) {
		t.Fatalf("expected Person=3, got %v", payload["Person"])
	}
	if payload["Vehicle"] != float64(1) {
		t.Fatalf("expected Vehicle=1, got %v", payload["Vehicle"])
	}
	if payload["timestamp"] != capturedAt.Format(time.RFC3339) {
		t.Fatalf("expected the capture timestamp, got %v", payload["timestamp"])
	}
}

func TestIndexEndpoint(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Handler()

	code, payload := getJSON(t, handler, "/")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if payload["service"] != "ZED Edge Node" {
		t.Fatalf("unexpected service name: %v", payload["service"])
	}

	code, _ = getJSON(t, handler, "/no-such-path")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown path, got %d", code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Handler()

	code, payload := getJSON(t, handler, "/status")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	cameraInfo, ok := payload["camera"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a camera section, got %v", payload["camera"])
	}
	if cameraInfo["state"] != "ready" {
		t.Fatalf("expected camera state ready, got %v", cameraInfo["state"])
	}
	if payload["subscribers"] != float64(0) {
		t.Fatalf("expected 0 subscribers, got %v", payload["subscribers"])
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected the CORS origin header")
	}
}

func TestVideoFeedStreamsAndDetaches(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	// Keep frames flowing for the duration of the session.
	stopPublishing := make(chan struct{})
	defer close(stopPublishing)
	snapshot := testSnapshot(t, map[string]int{"Person": 1})
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stopPublishing:
				return
			case <-tick.C:
				f.bus.Publish(snapshot)
			}
		}
	}()

	resp, err := http.Get(ts.URL + "/video_feed")
	if err != nil {
		t.Fatalf("GET /video_feed failed: %v", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	jpegData := readPart(t, bufio.NewReader(resp.Body))
	if !bytes.HasPrefix(jpegData, []byte{0xFF, 0xD8}) {
		t.Fatal("part body is not a JPEG")
	}

	resp.Body.Close()

	// The session must detach exactly once and report its stats.
	select {
	case st := <-f.statsStream:
		streamStats, ok := st.(model.StreamStats)
		if !ok {
			t.Fatalf("expected StreamStats, got %T", st)
		}
		if streamStats.Frames == 0 {
			t.Fatal("expected at least one streamed frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream session did not report its stats")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.bus.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count stuck at %d after disconnect", f.bus.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// readPart consumes one multipart frame and returns its body.
func readPart(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()

	boundary, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("reading boundary: %v", err)
	}
	if strings.TrimSpace(boundary) != "--frame" {
		t.Fatalf("unexpected boundary line: %q", boundary)
	}

	contentLength := -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading part headers: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, err = strconv.Atoi(v)
			if err != nil {
				t.Fatalf("bad Content-Length: %q", v)
			}
		}
	}
	if contentLength <= 0 {
		t.Fatal("part carried no Content-Length")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(br, body); err != nil {
		t.Fatalf("reading part body: %v", err)
	}
	return body
}

func TestMetricsSocketPushesCounts(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/metrics"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	stopPublishing := make(chan struct{})
	defer close(stopPublishing)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stopPublishing:
				return
			case <-tick.C:
				f.bus.Publish(pipeline.Snapshot{
					Counts:     map[string]int{"Person": 4},
					CapturedAt: time.Now(),
				})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame struct {
		Counts    map[string]int `json:"counts"`
		Timestamp string         `json:"timestamp"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("reading metrics frame: %v", err)
	}
	if frame.Counts["Person"] != 4 {
		t.Fatalf("expected Person=4, got %v", frame.Counts)
	}
	if _, err := time.Parse(time.RFC3339, frame.Timestamp); err != nil {
		t.Fatalf("timestamp is not RFC3339: %v", err)
	}

	// Socket observers never count as video subscribers.
	if n := f.bus.Subscribers(); n != 0 {
		t.Fatalf("expected 0 subscribers with only a socket attached, got %d", n)
	}
}
