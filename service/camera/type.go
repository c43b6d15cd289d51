package camera

import (
	"errors"

	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/model"
)

// CaptureResult is one grabbed frame plus the detections the SDK reported
// for that same grab. The caller owns Image and must Close it.
type CaptureResult struct {
	Image      gocv.Mat
	Detections []model.Detection
}

// ISession owns the hardware/SDK handle. It does not retry and has no
// concurrency of its own; all recovery policy lives in the supervisor.
type ISession interface {
	// Open initializes the hardware. It may block for multiple seconds.
	Open() error
	// CaptureOne grabs a single frame and its detections. A plain error
	// is a transient grab miss; a HardError means the session is lost.
	CaptureOne() (CaptureResult, error)
	Close() error
	IsReady() bool
	SDKVersion() string
}

var errNotOpen = errors.New("session not open")

// HardError marks an unrecoverable session fault, as opposed to an
// ordinary grab miss that is merely counted by the supervisor.
type HardError struct {
	Inner error
}

func (e HardError) Error() string {
	return "hardware session fault: " + e.Inner.Error()
}

func (e HardError) Unwrap() error {
	return e.Inner
}

// IsHard reports whether err is (or wraps) a HardError.
func IsHard(err error) bool {
	var he HardError
	return errors.As(err, &he)
}
