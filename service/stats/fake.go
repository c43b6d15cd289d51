package stats

import (
	"net/http"
	"sync/atomic"
	"time"
)

// fakeService counts in memory; used by tests and as a no-op sink.
type fakeService struct {
	FramesCaptured  atomic.Int64
	CaptureFailures atomic.Int64
	Reconnects      atomic.Int64
	StreamsStarted  atomic.Int64
	ActiveStreams   atomic.Int64
}

func NewFake() IService {
	return &fakeService{}
}

func (svc *fakeService) IncFramesCaptured() {
	svc.FramesCaptured.Add(1)
}

func (svc *fakeService) IncCaptureFailures() {
	svc.CaptureFailures.Add(1)
}

func (svc *fakeService) IncReconnects() {
	svc.Reconnects.Add(1)
}

func (svc *fakeService) IncStreamsStarted() {
	svc.StreamsStarted.Add(1)
}

func (svc *fakeService) SetActiveStreams(n int) {
	svc.ActiveStreams.Store(int64(n))
}

func (svc *fakeService) ObserveCaptureCycle(_ time.Duration) {
}

func (svc *fakeService) Handler() http.Handler {
	return http.NotFoundHandler()
}
