package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusService struct {
	registry        *prometheus.Registry
	framesCaptured  prometheus.Counter
	captureFailures prometheus.Counter
	reconnects      prometheus.Counter
	streamsStarted  prometheus.Counter
	activeStreams   prometheus.Gauge
	captureCycle    prometheus.Histogram
}

func NewPrometheus() IService {
	svc := &prometheusService{
		registry: prometheus.NewRegistry(),
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_frames_captured_total",
			Help: "Total frames captured and published",
		}),
		captureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_capture_failures_total",
			Help: "Total failed grab attempts",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_camera_reconnects_total",
			Help: "Total successful camera (re)connections",
		}),
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_streams_started_total",
			Help: "Total video stream sessions started",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_active_streams",
			Help: "Currently attached video stream sessions",
		}),
		captureCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_capture_cycle_seconds",
			Help:    "Grab-to-publish duration of one capture cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}

	svc.registry.MustRegister(
		svc.framesCaptured,
		svc.captureFailures,
		svc.reconnects,
		svc.streamsStarted,
		svc.activeStreams,
		svc.captureCycle,
	)

	return svc
}

func (svc *prometheusService) IncFramesCaptured() {
	svc.framesCaptured.Inc()
}

func (svc *prometheusService) IncCaptureFailures() {
	svc.captureFailures.Inc()
}

func (svc *prometheusService) IncReconnects() {
	svc.reconnects.Inc()
}

func (svc *prometheusService) IncStreamsStarted() {
	svc.streamsStarted.Inc()
}

func (svc *prometheusService) SetActiveStreams(n int) {
	svc.activeStreams.Set(float64(n))
}

func (svc *prometheusService) ObserveCaptureCycle(d time.Duration) {
	svc.captureCycle.Observe(d.Seconds())
}

func (svc *prometheusService) Handler() http.Handler {
	return promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{})
}
