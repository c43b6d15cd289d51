package stats

import (
	"net/http"
	"time"
)

type IService interface {
	IncFramesCaptured()
	IncCaptureFailures()
	IncReconnects()
	IncStreamsStarted()
	SetActiveStreams(n int)
	ObserveCaptureCycle(d time.Duration)

	// Handler exposes the Prometheus exposition endpoint.
	Handler() http.Handler
}
