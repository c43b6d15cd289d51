package mode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/pipeline"
	"github.com/edgevision/zed-edge/server"
	"github.com/edgevision/zed-edge/service/camera"
	"github.com/edgevision/zed-edge/service/lgr"
)

// Edge runs against real camera hardware.
func Edge(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	return run(canxCtx, svcs, camera.NewGocv(svcs.CfgSvc))
}

// Sim runs the identical pipeline against a synthetic camera session. It
// exists for development hosts with no camera attached.
func Sim(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	return run(canxCtx, svcs, camera.NewFake())
}

func run(canxCtx context.Context, svcs pipeline.ServicesFactory, session camera.ISession) error {
	sup := pipeline.NewSupervisor(svcs.CfgSvc, session)

	// The first open must succeed before any endpoint is bound. A node
	// that cannot see its camera at startup exits instead of reporting
	// healthy to the registry.
	if err := sup.Connect(); err != nil {
		return xerrors.Errorf("initial camera open failed: %w", err)
	}
	svcs.StatsSvc.IncReconnects()

	lgr.Logger.Info(
		"camera opened",
		slog.String("source", svcs.CfgSvc.GetCameraSource()),
		slog.String("sdk", sup.SDKVersion()),
	)

	bus := pipeline.NewBus()

	// Create an error stream
	errorStream := make(chan interface{})

	// Create a stats stream
	statsStream := make(chan interface{})

	// Start the capture loop
	captureResult := make(chan error, 1)
	go func() {
		captureResult <- pipeline.Capture(canxCtx, svcs, sup, bus, errorStream, statsStream)
	}()

	// Start the HTTP server
	srv := server.New(svcs, bus, sup, statsStream)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", svcs.CfgSvc.GetHTTPPort()),
		Handler: srv.Handler(),
	}

	httpResult := make(chan error, 1)
	go func() {
		httpResult <- httpServer.ListenAndServe()
	}()

	lgr.Logger.Info(
		"edge node listening",
		slog.Int("port", svcs.CfgSvc.GetHTTPPort()),
	)

	// Register with the gateway in the background so a slow or absent
	// gateway never delays serving
	go func() {
		if err := svcs.AnnounceSvc.Register(canxCtx); err != nil {
			errorStream <- model.GenError("edge_mode",
				err,
				map[string]interface{}{},
				"gateway registration failed")
		}
	}()

	// Wait for cancellation, server exit, capture exit, stats or error
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"edge mode context cancelled",
			)
			goto resume

		case err := <-httpResult:
			if err != nil && err != http.ErrServerClosed {
				return xerrors.Errorf("http server failed: %w", err)
			}

		case err := <-captureResult:
			if err != nil {
				return xerrors.Errorf("capture loop failed: %w", err)
			}

		case e := <-errorStream:
			procError(e)

		case st := <-statsStream:
			procStats(st)
		}
	}

	// Drain the streams while the go routines exit so their final stats
	// and errors are not lost
resume:
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Warn(
			"error shutting down http server",
			slog.Any("error", err),
		)
	}

	timer := time.NewTimer(time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"edge mode shutdown waiting period expired. Exiting now",
				slog.Duration("period", time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second),
			)
			return nil

		case <-captureResult:
			lgr.Logger.Info(
				"capture loop exited",
			)

		case e := <-errorStream:
			procError(e)

		case st := <-statsStream:
			procStats(st)
		}
	}
}
