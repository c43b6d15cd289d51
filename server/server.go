package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/edgevision/zed-edge/pipeline"
	"github.com/edgevision/zed-edge/service/lgr"
)

const serviceVersion = "2.0"

// Server is the edge node's HTTP surface. The registry collaborator polls
// /health and /metrics at short fixed intervals and hands /video_feed's
// URL to browsers for direct consumption.
type Server struct {
	svcs        pipeline.ServicesFactory
	bus         *pipeline.Bus
	sup         *pipeline.Supervisor
	statsStream chan interface{}
	startedAt   time.Time
}

func New(svcs pipeline.ServicesFactory, bus *pipeline.Bus, sup *pipeline.Supervisor, statsStream chan interface{}) *Server {
	return &Server{
		svcs:        svcs,
		bus:         bus,
		sup:         sup,
		statsStream: statsStream,
		startedAt:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws/metrics", s.handleMetricsSocket)
	mux.Handle("/prometheus", s.svcs.StatsSvc.Handler())

	return withCORS(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":     "ZED Edge Node",
		"version":     serviceVersion,
		"sdk_version": s.sup.SDKVersion(),
		"endpoints": map[string]string{
			"/video_feed": "GET: MJPEG stream with detection boxes",
			"/metrics":    "GET: JSON metrics (per-class counts, timestamp)",
			"/health":     "GET: Health check (status, cameraReady, sdkVersion)",
			"/status":     "GET: Extended node status (camera, streams, host)",
			"/ws/metrics": "GET: WebSocket push of per-frame counts",
			"/prometheus": "GET: Prometheus exposition format",
		},
	})
}

// handleMetrics returns the latest per-class counts. It always reflects
// the bus's latest snapshot, whether or not any stream is attached, and
// never blocks.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]interface{}{}

	snap, ok := s.bus.ReadLatest()
	timestamp := s.startedAt
	if ok {
		for label, count := range snap.Counts {
			payload[label] = count
		}
		timestamp = snap.CapturedAt
	}
	payload["timestamp"] = timestamp.Format(time.RFC3339)

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"cameraReady": s.sup.State() == pipeline.Ready,
		"sdkVersion":  s.sup.SDKVersion(),
	})
}

// handleStatus is the extended operational view: camera state machine,
// stream accounting, snapshot freshness, and host utilization.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"camera": map[string]interface{}{
			"state":      s.sup.State().String(),
			"reconnects": s.sup.Reconnects(),
		},
		"subscribers": s.bus.Subscribers(),
		"uptimeSecs":  int64(time.Since(s.startedAt).Seconds()),
	}

	if snap, ok := s.bus.ReadLatest(); ok {
		status["lastCapture"] = snap.CapturedAt.Format(time.RFC3339)
	}

	host := map[string]interface{}{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		host["cpuPercent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		host["memPercent"] = vm.UsedPercent
	}
	status["host"] = host

	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		lgr.Logger.Error(
			"error encoding response",
			slog.Any("error", err),
		)
	}
}

// withCORS opens the API to browser dashboards on other origins.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
