package model

import (
	"fmt"
	"image"
	"runtime/debug"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// ClassKind drives the annotation color policy.
type ClassKind int

const (
	KindPerson ClassKind = iota
	KindVehicle
	KindOther
)

// ObjectClass is the SDK's raw integer class identifier.
type ObjectClass int

const (
	ClassPerson ObjectClass = iota
	ClassVehicle
	ClassBag
	ClassAnimal
	ClassElectronics
	ClassFruitVegetable
	ClassSport
)

var classLabels = map[ObjectClass]string{
	ClassPerson:         "Person",
	ClassVehicle:        "Vehicle",
	ClassBag:            "Bag",
	ClassAnimal:         "Animal",
	ClassElectronics:    "Electronics",
	ClassFruitVegetable: "FruitVegetable",
	ClassSport:          "Sport",
}

// Label maps a raw SDK class identifier to a display label. Unmapped
// identifiers fall back to a synthesized Class_<id> label.
func (c ObjectClass) Label() string {
	if label, ok := classLabels[c]; ok {
		return label
	}
	return fmt.Sprintf("Class_%d", int(c))
}

// Kind classifies a raw identifier for color selection: person-like
// labels are drawn green, vehicle-like labels red, everything else blue.
func (c ObjectClass) Kind() ClassKind {
	switch c {
	case ClassPerson:
		return KindPerson
	case ClassVehicle:
		return KindVehicle
	default:
		return KindOther
	}
}

// Detection is one SDK detection for a single capture cycle. Detections
// are transient: the capture loop consumes them and never stores them.
type Detection struct {
	RawClass   ObjectClass    `json:"rawClass"`
	Confidence float32        `json:"confidence"`
	Box        [4]image.Point `json:"box"` // 2D bounding polygon, clockwise from top-left
}

// Rect collapses the 4-point bounding polygon into the axis-aligned
// rectangle spanned by its opposite corners.
func (d Detection) Rect() image.Rectangle {
	return image.Rectangle{Min: d.Box[0], Max: d.Box[2]}.Canon()
}

type CaptureStats struct {
	Name       string `json:"name"`
	Frames     int    `json:"frames"`
	Failures   int    `json:"failures"`
	Reconnects int    `json:"reconnects"`
	Uptime     int64  `json:"uptime"`
	FPS        int    `json:"fps"`
	Timestamp  int64  `json:"timestamp"`
}

type StreamStats struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
	Frames    int    `json:"frames"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}
