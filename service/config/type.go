package config

import "time"

type IService interface {
	GetHTTPPort() int
	GetModeMaxShutdownTime() int

	GetCameraSource() string
	GetModelPath() string
	GetActiveCaptureInterval() time.Duration
	GetIdleCaptureInterval() time.Duration
	GetSoftFailureDelay() time.Duration
	GetMaxConsecutiveFailures() int
	GetThresholdCloseCooldown() time.Duration
	GetOpenFailureCooldown() time.Duration
	GetHardFailureCooldown() time.Duration

	GetConfidenceThreshold() float32
	GetJPEGQuality() int
	GetCaptureLogInterval() int

	GetDeviceID() string
	GetDeviceName() string
	GetAdvertiseURL() string
	GetGatewayURL() string
}
