package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/pipeline"
	"github.com/edgevision/zed-edge/service/lgr"
)

const streamBoundary = "frame"

// handleVideoFeed runs one MJPEG session for the life of the connection.
// Every consumer encodes its own JPEG from the shared snapshot, so a slow
// or failing encode affects only that consumer.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	startTime := time.Now().Unix()
	frames := 0
	skipped := 0
	writeErrors := 0

	s.bus.Attach()
	s.svcs.StatsSvc.IncStreamsStarted()
	s.svcs.StatsSvc.SetActiveStreams(s.bus.Subscribers())

	// The single deferred detach covers every exit path below. Pairing it
	// with the attach above keeps the subscriber count exact no matter how
	// the session ends.
	defer func() {
		s.bus.Detach()
		s.svcs.StatsSvc.SetActiveStreams(s.bus.Subscribers())

		endTime := time.Now().Unix()
		s.statsStream <- model.StreamStats{
			Name:      "videoFeed",
			SessionID: sessionID,
			Frames:    frames,
			Skipped:   skipped,
			Errors:    writeErrors,
			Uptime:    endTime - startTime,
			Timestamp: endTime,
		}
	}()

	lgr.Logger.Info(
		"video stream session starting...",
		slog.String("sessionID", sessionID),
		slog.String("remote", r.RemoteAddr),
		slog.Int("subscribers", s.bus.Subscribers()),
	)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	quality := s.svcs.CfgSvc.GetJPEGQuality()

	for {
		snapshot, err := s.bus.AwaitNext(r.Context())
		if err != nil {
			// Client disconnected or server shutting down.
			lgr.Logger.Info(
				"video stream session ending",
				slog.String("sessionID", sessionID),
				slog.Int("frames", frames),
			)
			return
		}

		jpegData, err := encodeJPEG(snapshot, quality)
		if err != nil {
			// A bad frame costs this consumer one frame, never the session.
			skipped++
			lgr.Logger.Warn(
				"error encoding frame, skipping",
				slog.String("sessionID", sessionID),
				slog.Any("error", err),
			)
			continue
		}

		if err := writePart(w, jpegData); err != nil {
			writeErrors++
			lgr.Logger.Info(
				"video stream session write failed, ending",
				slog.String("sessionID", sessionID),
				slog.Any("error", err),
			)
			return
		}
		flusher.Flush()
		frames++
	}
}

// encodeJPEG rebuilds a Mat from the snapshot's pixel buffer and encodes
// it at the configured quality.
func encodeJPEG(snapshot pipeline.Snapshot, quality int) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(snapshot.Height, snapshot.Width, snapshot.Type, snapshot.Pixels)
	if err != nil {
		return nil, err
	}
	// Crucial to close the image to avoid memory leaks
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	jpegData := make([]byte, buf.Len())
	copy(jpegData, buf.GetBytes())
	return jpegData, nil
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
