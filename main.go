package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/edgevision/zed-edge/mode"
	"github.com/edgevision/zed-edge/pipeline"
	"github.com/edgevision/zed-edge/service/announce"
	"github.com/edgevision/zed-edge/service/config"
	"github.com/edgevision/zed-edge/service/lgr"
	"github.com/edgevision/zed-edge/service/stats"
)

const (
	// WARNING: this has to be bigger than the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"edge": mode.Edge,
	"sim":  mode.Sim,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Warn("no .env file found, relying on process env")
		}
	}

	modeType := "edge"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Create the services needed for the mode processor
	// Config service
	cfgSvc, err := config.NewEnv()
	if err != nil {
		lgr.Logger.Error("error loading configuration", slog.Any("error", xerrors.New(err.Error())))
		panic("error loading configuration")
	}
	// Stats service
	statsSvc := stats.NewPrometheus()
	// Announce service
	announceSvc := announce.NewHTTP(cfgSvc)

	svcs := pipeline.ServicesFactory{
		CfgSvc:      cfgSvc,
		StatsSvc:    statsSvc,
		AnnounceSvc: announceSvc,
	}

	color.Cyan("ZED Edge Node")
	color.Cyan("mode: %s | port: %d | source: %s",
		modeType, cfgSvc.GetHTTPPort(), cfgSvc.GetCameraSource())

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	exitCode := 0

	// Wait for cancellation or mode proc exit
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"edge node context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Error(
					"edge node mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
				exitCode = 1
			}
			goto resume
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are exiting
resume:
	canxFn()
	lgr.Logger.Info(
		"edge node is waiting for all go routines to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"edge node shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)
			os.Exit(exitCode)

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Error(
					"edge node mode processor exited during shutdown",
					slog.Any("error", xerrors.New(err.Error())),
				)
				exitCode = 1
			}
		}
	}
}
