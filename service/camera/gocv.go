package camera

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/edgevision/zed-edge/model"
	"github.com/edgevision/zed-edge/service/config"
)

const inferenceSize = 640

// gocvSession drives a physical camera through OpenCV. When a model path
// is configured it also runs an ONNX detection net against every grabbed
// frame; without a model the session still captures, reporting no
// detections.
type gocvSession struct {
	cfgSvc config.IService
	webcam *gocv.VideoCapture
	net    gocv.Net
	hasNet bool
	ready  bool
}

func NewGocv(cfgSvc config.IService) ISession {
	return &gocvSession{
		cfgSvc: cfgSvc,
	}
}

func (s *gocvSession) Open() error {
	webcam, err := gocv.OpenVideoCapture(s.cfgSvc.GetCameraSource())
	if err != nil {
		return xerrors.Errorf("opening capture source %s: %w", s.cfgSvc.GetCameraSource(), err)
	}
	s.webcam = webcam

	modelPath := s.cfgSvc.GetModelPath()
	if modelPath != "" {
		// WARNING: net is not thread-safe. The session is exclusively
		// owned by the capture loop, so a single net is enough.
		net := gocv.ReadNet(modelPath, "")
		if net.Empty() {
			s.webcam.Close()
			s.webcam = nil
			return xerrors.Errorf("reading detection model %s", modelPath)
		}
		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			s.webcam.Close()
			s.webcam = nil
			return xerrors.Errorf("setting net backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			s.webcam.Close()
			s.webcam = nil
			return xerrors.Errorf("setting net target: %w", err)
		}
		s.net = net
		s.hasNet = true
	}

	s.ready = true
	return nil
}

func (s *gocvSession) CaptureOne() (CaptureResult, error) {
	if s.webcam == nil || !s.ready {
		return CaptureResult{}, HardError{Inner: errNotOpen}
	}

	if !s.webcam.IsOpened() {
		return CaptureResult{}, HardError{Inner: fmt.Errorf("capture device no longer open")}
	}

	img := gocv.NewMat()
	if ok := s.webcam.Read(&img); !ok || img.Empty() {
		img.Close() // Crucial to close the image to avoid memory leaks
		return CaptureResult{}, fmt.Errorf("grab miss")
	}

	result := CaptureResult{Image: img}
	if s.hasNet {
		result.Detections = s.detect(img)
	}

	return result, nil
}

// detect runs the configured net against the frame and converts its rows
// into SDK-shaped detections. The row layout is cx, cy, w, h, objectness,
// class scores.
func (s *gocvSession) detect(frame gocv.Mat) []model.Detection {
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(inferenceSize, inferenceSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil
	}

	reshaped := output.Reshape(1, dims[1])
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		reshaped.Close()
		return nil
	}
	defer reshaped.Close()

	var detections []model.Detection
	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, err := row.DataPtrFloat32()
		row.Close()
		if err != nil || len(data) < 6 {
			continue
		}

		objectness := data[4]
		classScores := data[5:]
		classID := 0
		classScore := float32(0.0)
		for j, score := range classScores {
			if score > classScore {
				classScore = score
				classID = j
			}
		}

		cx := data[0] * float32(frame.Cols()) / inferenceSize
		cy := data[1] * float32(frame.Rows()) / inferenceSize
		w := data[2] * float32(frame.Cols()) / inferenceSize
		h := data[3] * float32(frame.Rows()) / inferenceSize
		x0 := int(cx - w/2)
		y0 := int(cy - h/2)
		x1 := x0 + int(w)
		y1 := y0 + int(h)

		detections = append(detections, model.Detection{
			RawClass:   model.ObjectClass(classID),
			Confidence: objectness * classScore,
			Box: [4]image.Point{
				image.Pt(x0, y0),
				image.Pt(x1, y0),
				image.Pt(x1, y1),
				image.Pt(x0, y1),
			},
		})
	}

	return detections
}

func (s *gocvSession) Close() error {
	s.ready = false

	var err error
	if s.webcam != nil {
		err = s.webcam.Close()
		s.webcam = nil
	}
	if s.hasNet {
		s.net.Close()
		s.hasNet = false
	}
	return err
}

func (s *gocvSession) IsReady() bool {
	return s.ready && s.webcam != nil && s.webcam.IsOpened()
}

func (s *gocvSession) SDKVersion() string {
	return "OpenCV " + gocv.Version()
}
