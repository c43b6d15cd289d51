package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgevision/zed-edge/service/lgr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type metricsFrame struct {
	Counts    map[string]int `json:"counts"`
	Timestamp string         `json:"timestamp"`
}

// handleMetricsSocket pushes per-frame counts over a websocket. Socket
// clients are observers only: they do not attach to the bus, so they never
// switch the capture loop into its active cadence.
func (s *Server) handleMetricsSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.Error(
			"error upgrading metrics socket",
			slog.Any("error", err),
		)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read pump exists only to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lgr.Logger.Info(
		"metrics socket session starting...",
		slog.String("remote", r.RemoteAddr),
	)

	for {
		snapshot, err := s.bus.AwaitNext(ctx)
		if err != nil {
			lgr.Logger.Info("metrics socket session ending")
			return
		}

		frame := metricsFrame{
			Counts:    snapshot.Counts,
			Timestamp: snapshot.CapturedAt.Format(time.RFC3339),
		}
		if err := conn.WriteJSON(frame); err != nil {
			lgr.Logger.Info(
				"metrics socket write failed, ending",
				slog.Any("error", err),
			)
			return
		}
	}
}
