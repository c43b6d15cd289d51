package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/edgevision/zed-edge/service/camera"
	"github.com/edgevision/zed-edge/service/config"
	"github.com/edgevision/zed-edge/service/lgr"
)

type CameraState int

const (
	Disconnected CameraState = iota
	Connecting
	Ready
	Closing
)

func (s CameraState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Supervisor wraps the camera session with the failure-counting state
// machine. Soft failures (ordinary grab misses) are counted and trigger a
// close-and-reopen only at the consecutive-failure threshold; hard
// failures tear the session down immediately with a longer cooldown.
//
// The capture loop is the sole driver; State and SDKVersion may be read
// from request handlers concurrently.
type Supervisor struct {
	cfgSvc  config.IService
	session camera.ISession

	mu            sync.Mutex
	state         CameraState
	failures      int
	reconnects    int
	cooldownUntil time.Time
}

func NewSupervisor(cfgSvc config.IService, session camera.ISession) *Supervisor {
	return &Supervisor{
		cfgSvc:  cfgSvc,
		session: session,
		state:   Disconnected,
	}
}

func (s *Supervisor) State() CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Supervisor) Ready() bool {
	return s.State() == Ready
}

func (s *Supervisor) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reconnects
}

func (s *Supervisor) SDKVersion() string {
	return s.session.SDKVersion()
}

// CooldownRemaining reports how long the supervisor is ineligible for a
// reconnect attempt.
func (s *Supervisor) CooldownRemaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if remaining := s.cooldownUntil.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// Connect attempts to open the session. On failure the supervisor stays
// Disconnected and arms the open-failure cooldown.
func (s *Supervisor) Connect() error {
	s.mu.Lock()
	s.state = Connecting
	s.mu.Unlock()

	// Open may block for multiple seconds on hardware init; the lock is
	// not held so health checks stay responsive.
	err := s.session.Open()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = Disconnected
		s.cooldownUntil = time.Now().Add(s.cfgSvc.GetOpenFailureCooldown())
		return err
	}

	s.state = Ready
	s.failures = 0
	s.reconnects++
	return nil
}

// Capture grabs one frame through the session, applying the failure
// accounting contract:
//   - success resets the consecutive-failure counter
//   - a hard failure closes the session immediately (5s-class cooldown)
//   - a soft failure increments the counter; at the threshold the session
//     is closed exactly once and the short reconnect cooldown armed
func (s *Supervisor) Capture() (camera.CaptureResult, error) {
	result, err := s.session.CaptureOne()
	if err == nil {
		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
		return result, nil
	}

	if camera.IsHard(err) {
		lgr.Logger.Error(
			"hard camera failure, tearing session down",
			slog.Any("error", err),
		)
		s.teardown(s.cfgSvc.GetHardFailureCooldown())
		return camera.CaptureResult{}, err
	}

	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	if failures >= s.cfgSvc.GetMaxConsecutiveFailures() {
		lgr.Logger.Warn(
			"camera grab failure threshold reached, closing for reconnect",
			slog.Int("failures", failures),
		)
		s.teardown(s.cfgSvc.GetThresholdCloseCooldown())
	}

	return camera.CaptureResult{}, err
}

func (s *Supervisor) teardown(cooldown time.Duration) {
	s.mu.Lock()
	s.state = Closing
	s.mu.Unlock()

	if err := s.session.Close(); err != nil {
		lgr.Logger.Warn(
			"error closing camera session",
			slog.Any("error", err),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Disconnected
	s.failures = 0
	s.cooldownUntil = time.Now().Add(cooldown)
}
