package config

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML override loaded when CONFIG_FILE is set.
// Environment variables win over file values, file values win over defaults.
// A zero or empty file value counts as unset, so the file cannot force a
// knob to zero; use the corresponding env var for that.
type fileConfig struct {
	HTTPPort              int     `yaml:"httpPort"`
	CameraSource          string  `yaml:"cameraSource"`
	ModelPath             string  `yaml:"modelPath"`
	ActiveCaptureMillis   int     `yaml:"activeCaptureMillis"`
	IdleCaptureMillis     int     `yaml:"idleCaptureMillis"`
	MaxFailures           int     `yaml:"maxConsecutiveFailures"`
	ConfidenceThreshold   float32 `yaml:"confidenceThreshold"`
	JPEGQuality           int     `yaml:"jpegQuality"`
	DeviceID              string  `yaml:"deviceId"`
	DeviceName            string  `yaml:"deviceName"`
	AdvertiseURL          string  `yaml:"advertiseUrl"`
	GatewayURL            string  `yaml:"gatewayUrl"`
}

type envService struct {
	file fileConfig
}

func NewEnv() (IService, error) {
	svc := &envService{}

	path := os.Getenv("CONFIG_FILE")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &svc.file); err != nil {
			return nil, xerrors.Errorf("parsing config file %s: %w", path, err)
		}
	}

	return svc, nil
}

func (svc *envService) GetHTTPPort() int {
	return svc.intValue("HTTP_PORT", svc.file.HTTPPort, 5000)
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return svc.intValue("MODE_MAX_SHUTDOWN_TIME", 0, 5)
}

func (svc *envService) GetCameraSource() string {
	return svc.stringValue("CAMERA_SOURCE", svc.file.CameraSource, "0")
}

func (svc *envService) GetModelPath() string {
	return svc.stringValue("MODEL_PATH", svc.file.ModelPath, "")
}

func (svc *envService) GetActiveCaptureInterval() time.Duration {
	// ~10 captures/sec while at least one stream is attached
	return time.Duration(svc.intValue("ACTIVE_CAPTURE_MILLIS", svc.file.ActiveCaptureMillis, 100)) * time.Millisecond
}

func (svc *envService) GetIdleCaptureInterval() time.Duration {
	// ~2 captures/sec with nobody watching; metrics still advance
	return time.Duration(svc.intValue("IDLE_CAPTURE_MILLIS", svc.file.IdleCaptureMillis, 500)) * time.Millisecond
}

func (svc *envService) GetSoftFailureDelay() time.Duration {
	return 100 * time.Millisecond
}

func (svc *envService) GetMaxConsecutiveFailures() int {
	return svc.intValue("MAX_CONSECUTIVE_FAILURES", svc.file.MaxFailures, 10)
}

// The three cooldowns are deliberately asymmetric: a threshold-triggered
// close is a fast retry, open failures and hard session faults back off
// longer. The values are kept as-is from field-tuned behavior.
func (svc *envService) GetThresholdCloseCooldown() time.Duration {
	return time.Duration(svc.intValue("THRESHOLD_CLOSE_COOLDOWN_SECS", 0, 1)) * time.Second
}

func (svc *envService) GetOpenFailureCooldown() time.Duration {
	return time.Duration(svc.intValue("OPEN_FAILURE_COOLDOWN_SECS", 0, 5)) * time.Second
}

func (svc *envService) GetHardFailureCooldown() time.Duration {
	return time.Duration(svc.intValue("HARD_FAILURE_COOLDOWN_SECS", 0, 5)) * time.Second
}

func (svc *envService) GetConfidenceThreshold() float32 {
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	if svc.file.ConfidenceThreshold > 0 {
		return svc.file.ConfidenceThreshold
	}
	return 0.5
}

func (svc *envService) GetJPEGQuality() int {
	return svc.intValue("JPEG_QUALITY", svc.file.JPEGQuality, 85)
}

func (svc *envService) GetCaptureLogInterval() int {
	return svc.intValue("CAPTURE_LOG_INTERVAL", 0, 500)
}

func (svc *envService) GetDeviceID() string {
	return svc.stringValue("DEVICE_ID", svc.file.DeviceID, "zed-edge-1")
}

func (svc *envService) GetDeviceName() string {
	return svc.stringValue("DEVICE_NAME", svc.file.DeviceName, "ZED Edge Node")
}

func (svc *envService) GetAdvertiseURL() string {
	return svc.stringValue("ADVERTISE_URL", svc.file.AdvertiseURL, "")
}

func (svc *envService) GetGatewayURL() string {
	return svc.stringValue("GATEWAY_URL", svc.file.GatewayURL, "")
}

func (svc *envService) intValue(key string, fileValue, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fileValue != 0 {
		return fileValue
	}
	return fallback
}

func (svc *envService) stringValue(key, fileValue, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return fallback
}
