package pipeline

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/service/announce"
	"github.com/edgevision/zed-edge/service/config"
	"github.com/edgevision/zed-edge/service/stats"
)

// Snapshot is one immutable published unit of annotated pixels, per-class
// detection counts, and the capture timestamp. The counts always reflect
// exactly the detections drawn on the pixels for the same capture cycle.
type Snapshot struct {
	Pixels     []byte
	Width      int
	Height     int
	Type       gocv.MatType
	Counts     map[string]int
	CapturedAt time.Time
}

type ServicesFactory struct {
	CfgSvc      config.IService
	StatsSvc    stats.IService
	AnnounceSvc announce.IService
}
