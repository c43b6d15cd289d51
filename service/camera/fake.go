package camera

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/edgevision/zed-edge/model"
)

// FakeSession is a scripted ISession for tests and the sim mode. Hooks
// default to an always-succeeding camera that reports one high-confidence
// person per frame.
type FakeSession struct {
	mu     sync.Mutex
	opened bool
	grabs  int
	closes int

	// OpenErr, when non-nil, is returned by every Open call.
	OpenErr error
	// CaptureErr, when non-nil, can fail individual grabs; n is the
	// 1-based grab number.
	CaptureErr func(n int) error
	// Script, when non-nil, supplies the detections for grab n.
	Script func(n int) []model.Detection
}

func NewFake() *FakeSession {
	return &FakeSession{}
}

func (s *FakeSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.opened = true
	return nil
}

func (s *FakeSession) CaptureOne() (CaptureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return CaptureResult{}, HardError{Inner: errNotOpen}
	}

	s.grabs++
	if s.CaptureErr != nil {
		if err := s.CaptureErr(s.grabs); err != nil {
			return CaptureResult{}, err
		}
	}

	detections := []model.Detection{
		{
			RawClass:   model.ClassPerson,
			Confidence: 0.9,
			Box: [4]image.Point{
				image.Pt(100, 100),
				image.Pt(220, 100),
				image.Pt(220, 360),
				image.Pt(100, 360),
			},
		},
	}
	if s.Script != nil {
		detections = s.Script(s.grabs)
	}

	return CaptureResult{
		Image:      gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3),
		Detections: detections,
	}, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened = false
	s.closes++
	return nil
}

func (s *FakeSession) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opened
}

func (s *FakeSession) SDKVersion() string {
	return "fake-sdk 1.0"
}

// Grabs reports how many capture attempts have been made.
func (s *FakeSession) Grabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.grabs
}

// Closes reports how many times the session has been closed.
func (s *FakeSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closes
}
