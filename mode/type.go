package mode

import (
	"context"
	"log/slog"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/pipeline"
	"github.com/edgevision/zed-edge/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(stats interface{}) {
	switch stats := stats.(type) {
	case model.CaptureStats:
		lgr.Logger.Info(
			"capture loop stats",
			slog.Int("frames", stats.Frames),
			slog.Int("failures", stats.Failures),
			slog.Int("reconnects", stats.Reconnects),
			slog.Int64("uptime", stats.Uptime),
			slog.Int("fps", stats.FPS),
		)
	case model.StreamStats:
		lgr.Logger.Info(
			"video stream stats",
			slog.String("sessionID", stats.SessionID),
			slog.Int("frames", stats.Frames),
			slog.Int("skipped", stats.Skipped),
			slog.Int("errors", stats.Errors),
			slog.Int64("uptime", stats.Uptime),
		)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procError(err interface{}) {
	switch err := err.(type) {
	case model.CustomError:
		lgr.Logger.Error(
			err.Message,
			slog.String("processor", err.Processor),
			slog.Any("error", err.Inner),
		)
	default:
		lgr.Logger.Error(
			"unknown error type",
			slog.Any("error", err),
		)
	}
}
