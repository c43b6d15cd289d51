package pipeline

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/service/announce"
	"github.com/edgevision/zed-edge/service/camera"
	"github.com/edgevision/zed-edge/service/stats"
)

func testDetection(class model.ObjectClass, confidence float32) model.Detection {
	return model.Detection{
		RawClass:   class,
		Confidence: confidence,
		Box: [4]image.Point{
			image.Pt(10, 10),
			image.Pt(110, 10),
			image.Pt(110, 110),
			image.Pt(10, 110),
		},
	}
}

func TestAnnotateCountsOnlyConfidentDetections(t *testing.T) {
	result := camera.CaptureResult{
		Image: gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3),
		Detections: []model.Detection{
			testDetection(model.ClassPerson, 0.51),
			testDetection(model.ClassPerson, 0.50), // at the threshold, excluded
			testDetection(model.ClassVehicle, 0.49),
			testDetection(model.ClassVehicle, 0.95),
			testDetection(model.ObjectClass(42), 0.80),
		},
	}
	defer result.Image.Close()

	snap := annotate(0.5, result)

	if snap.Counts["Person"] != 1 {
		t.Fatalf("expected 1 Person, got %d", snap.Counts["Person"])
	}
	if snap.Counts["Vehicle"] != 1 {
		t.Fatalf("expected 1 Vehicle, got %d", snap.Counts["Vehicle"])
	}
	if snap.Counts["Class_42"] != 1 {
		t.Fatalf("expected the unmapped class under Class_42, got counts %v", snap.Counts)
	}
	if len(snap.Counts) != 3 {
		t.Fatalf("expected 3 labels, got %v", snap.Counts)
	}
	if snap.Pixels == nil || snap.Width != 640 || snap.Height != 480 {
		t.Fatalf("snapshot did not capture the frame: %dx%d", snap.Width, snap.Height)
	}
}

func TestCaptureLoopPublishesSnapshots(t *testing.T) {
	session := camera.NewFake()
	session.Script = func(int) []model.Detection {
		return []model.Detection{
			testDetection(model.ClassPerson, 0.9),
			testDetection(model.ClassPerson, 0.8),
		}
	}

	svcs := ServicesFactory{
		CfgSvc:      testConfig{maxFailures: 3},
		StatsSvc:    stats.NewFake(),
		AnnounceSvc: announce.NewFake(),
	}
	sup := NewSupervisor(svcs.CfgSvc, session)
	bus := NewBus()

	canxCtx, canxFn := context.WithCancel(context.Background())
	errorStream := make(chan interface{}, 8)
	statsStream := make(chan interface{}, 8)

	captureResult := make(chan error, 1)
	go func() {
		captureResult <- Capture(canxCtx, svcs, sup, bus, errorStream, statsStream)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	snap, err := bus.AwaitNext(waitCtx)
	if err != nil {
		t.Fatalf("capture loop never published: %v", err)
	}
	if snap.Counts["Person"] != 2 {
		t.Fatalf("expected 2 Persons in the published snapshot, got %v", snap.Counts)
	}
	if snap.CapturedAt.IsZero() {
		t.Fatal("expected a capture timestamp")
	}

	canxFn()

	select {
	case err := <-captureResult:
		if err != nil {
			t.Fatalf("capture loop exited with error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture loop did not stop after cancellation")
	}

	select {
	case st := <-statsStream:
		captureStats, ok := st.(model.CaptureStats)
		if !ok {
			t.Fatalf("expected CaptureStats, got %T", st)
		}
		if captureStats.Frames == 0 {
			t.Fatal("expected at least one captured frame in the final stats")
		}
	case <-time.After(time.Second):
		t.Fatal("capture loop did not report its final stats")
	}
}

func TestCaptureLoopAdaptsCadenceToSubscribers(t *testing.T) {
	session := camera.NewFake()
	cfg := testConfig{
		maxFailures:    3,
		activeInterval: 5 * time.Millisecond,
		idleInterval:   50 * time.Millisecond,
	}
	svcs := ServicesFactory{
		CfgSvc:      cfg,
		StatsSvc:    stats.NewFake(),
		AnnounceSvc: announce.NewFake(),
	}
	sup := NewSupervisor(cfg, session)
	bus := NewBus()

	canxCtx, canxFn := context.WithCancel(context.Background())
	defer canxFn()
	errorStream := make(chan interface{}, 8)
	statsStream := make(chan interface{}, 8)

	captureResult := make(chan error, 1)
	go func() {
		captureResult <- Capture(canxCtx, svcs, sup, bus, errorStream, statsStream)
	}()

	var published atomic.Int64
	go func() {
		for {
			if _, err := bus.AwaitNext(canxCtx); err != nil {
				return
			}
			published.Add(1)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for published.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("capture loop never published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	countOver := func(window time.Duration) int64 {
		start := published.Load()
		time.Sleep(window)
		return published.Load() - start
	}

	// Idle: nobody attached, the loop paces at the long interval.
	idlePublishes := countOver(300 * time.Millisecond)
	if idlePublishes == 0 {
		t.Fatal("expected publishes to continue with no subscribers")
	}

	// One attached subscriber switches the loop to the short interval.
	bus.Attach()
	defer bus.Detach()
	activePublishes := countOver(300 * time.Millisecond)

	if activePublishes < 2*idlePublishes {
		t.Fatalf("expected the publish rate to at least double with a subscriber: idle %d, active %d",
			idlePublishes, activePublishes)
	}
}

func TestCaptureLoopConnectsOnItsOwn(t *testing.T) {
	session := camera.NewFake()
	sup := NewSupervisor(testConfig{maxFailures: 3}, session)

	svcs := ServicesFactory{
		CfgSvc:      testConfig{maxFailures: 3},
		StatsSvc:    stats.NewFake(),
		AnnounceSvc: announce.NewFake(),
	}
	bus := NewBus()

	canxCtx, canxFn := context.WithCancel(context.Background())
	defer canxFn()
	errorStream := make(chan interface{}, 8)
	statsStream := make(chan interface{}, 8)

	captureResult := make(chan error, 1)
	go func() {
		captureResult <- Capture(canxCtx, svcs, sup, bus, errorStream, statsStream)
	}()

	// The loop starts Disconnected and must connect on its own.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	if _, err := bus.AwaitNext(waitCtx); err != nil {
		t.Fatalf("capture loop never connected and published: %v", err)
	}
	if !sup.Ready() {
		t.Fatal("expected the supervisor to be Ready")
	}
}
