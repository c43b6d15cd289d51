package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/natefinch/lumberjack"
	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/service/camera"
	"github.com/edgevision/zed-edge/service/lgr"
)

var detectionLogger = &lumberjack.Logger{
	Filename:   "detections.log",
	MaxSize:    10, // MB
	MaxBackups: 5,
	MaxAge:     7,    // days
	Compress:   true, // compress old logs
}

var (
	colorPerson  = color.RGBA{0, 255, 0, 0} // green
	colorVehicle = color.RGBA{255, 0, 0, 0} // red
	colorOther   = color.RGBA{0, 0, 255, 0} // blue
)

// Capture is the sole frame producer. Each cycle it drives the supervisor
// toward Ready, grabs one frame with detections, annotates and counts the
// confident ones, publishes the snapshot, and sleeps at a cadence picked
// from the bus's subscriber count.
//
// All hardware errors are absorbed here; only their effect on the camera
// state is observable externally. Slow or stalled consumers never stall
// this loop: the only producer-side blocking operation is the grab.
func Capture(canxCtx context.Context, svcs ServicesFactory, sup *Supervisor, bus *Bus, errorStream chan interface{}, statsStream chan interface{}) error {
	lgr.Logger.Info(
		"capture loop starting...",
		slog.String("source", svcs.CfgSvc.GetCameraSource()),
		slog.String("sdk", sup.SDKVersion()),
	)

	var startTime = time.Now().Unix()
	var frames = 0
	var failures = 0

	defer func() {
		endTime := time.Now().Unix()
		uptime := endTime - startTime
		fps := 0
		if uptime > 0 {
			fps = int(float64(frames) / float64(uptime))
		}
		statsStream <- model.CaptureStats{
			Name:       "captureLoop",
			Frames:     frames,
			Failures:   failures,
			Reconnects: sup.Reconnects(),
			Uptime:     uptime,
			FPS:        fps,
		}
	}()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"capture loop context cancelled",
			)
			return nil

		default:
			if !sup.Ready() {
				if wait := sup.CooldownRemaining(time.Now()); wait > 0 {
					sleepCtx(canxCtx, wait)
					continue
				}

				lgr.Logger.Warn("camera not available, attempting reconnection")
				if err := sup.Connect(); err != nil {
					errorStream <- model.GenError("capture_loop",
						err,
						map[string]interface{}{},
						"camera reconnection failed")
					continue
				}

				svcs.StatsSvc.IncReconnects()
				lgr.Logger.Info("camera reconnected")
				continue
			}

			cycleStart := time.Now()
			result, err := sup.Capture()
			if err != nil {
				failures++
				svcs.StatsSvc.IncCaptureFailures()
				sleepCtx(canxCtx, svcs.CfgSvc.GetSoftFailureDelay())
				continue
			}

			frames++
			snapshot := annotate(svcs.CfgSvc.GetConfidenceThreshold(), result)
			result.Image.Close() // Crucial to close the image to avoid memory leaks
			if snapshot.Pixels == nil {
				// Annotation panicked; skip the cycle, never kill the loop.
				continue
			}

			bus.Publish(snapshot)
			svcs.StatsSvc.IncFramesCaptured()
			svcs.StatsSvc.ObserveCaptureCycle(time.Since(cycleStart))

			if interval := svcs.CfgSvc.GetCaptureLogInterval(); interval > 0 && frames%interval == 0 {
				lgr.Logger.Info(
					"capture progress",
					slog.Int("frames", frames),
					slog.Any("counts", snapshot.Counts),
				)
				logDetections(frames, snapshot.Counts)
			}

			if bus.Subscribers() > 0 {
				sleepCtx(canxCtx, svcs.CfgSvc.GetActiveCaptureInterval())
			} else {
				sleepCtx(canxCtx, svcs.CfgSvc.GetIdleCaptureInterval())
			}
		}
	}
}

// annotate draws every confident detection onto the frame, accumulates
// per-class counts, and freezes the result into an immutable snapshot.
// Counts and drawn boxes always come from the same capture cycle, so
// readers never observe a partially updated pair.
func annotate(threshold float32, result camera.CaptureResult) (snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			lgr.Logger.Error(
				"recovered from annotation panic",
				slog.Any("panic", r),
			)
			snap = Snapshot{}
		}
	}()

	img := result.Image
	counts := map[string]int{}

	for _, d := range result.Detections {
		if d.Confidence <= threshold {
			continue
		}

		label := d.RawClass.Label()
		counts[label]++

		c := boxColor(d.RawClass.Kind())
		rect := d.Rect()
		gocv.Rectangle(&img, rect, c, 2)

		text := fmt.Sprintf("%s (%.2f)", label, d.Confidence)
		gocv.PutText(&img, text, image.Pt(rect.Min.X, rect.Min.Y-10),
			gocv.FontHersheySimplex, 0.5, c, 2)
	}

	return Snapshot{
		Pixels:     img.ToBytes(),
		Width:      img.Cols(),
		Height:     img.Rows(),
		Type:       img.Type(),
		Counts:     counts,
		CapturedAt: time.Now(),
	}
}

func boxColor(kind model.ClassKind) color.RGBA {
	switch kind {
	case model.KindPerson:
		return colorPerson
	case model.KindVehicle:
		return colorVehicle
	default:
		return colorOther
	}
}

func sleepCtx(canxCtx context.Context, d time.Duration) {
	select {
	case <-canxCtx.Done():
	case <-time.After(d):
	}
}

func logDetections(frame int, counts map[string]int) {
	entry := map[string]interface{}{
		"time":   time.Now().Format(time.RFC3339),
		"frame":  frame,
		"counts": counts,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Println("Error marshaling detections:", err)
		return
	}

	if _, err := detectionLogger.Write(append(jsonData, '\n')); err != nil {
		fmt.Println("Error writing to detection log file:", err)
	}
}
