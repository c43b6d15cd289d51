package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/edgevision/zed-edge/service/config"
	"github.com/edgevision/zed-edge/service/lgr"
)

const registerTimeout = 5 * time.Second

type httpService struct {
	cfgSvc config.IService
	client *http.Client
}

func NewHTTP(cfgSvc config.IService) IService {
	return &httpService{
		cfgSvc: cfgSvc,
		client: &http.Client{Timeout: registerTimeout},
	}
}

// Register posts {id, name, url} to the gateway's /devices endpoint.
// A 409 means the device is already registered and is treated as success.
// When no gateway is configured the call is a no-op.
func (svc *httpService) Register(ctx context.Context) error {
	gatewayURL := svc.cfgSvc.GetGatewayURL()
	if gatewayURL == "" {
		lgr.Logger.Debug("no gateway configured, skipping registration")
		return nil
	}

	payload := map[string]string{
		"id":   svc.cfgSvc.GetDeviceID(),
		"name": svc.cfgSvc.GetDeviceName(),
		"url":  svc.cfgSvc.GetAdvertiseURL(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Errorf("marshaling registration payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL+"/devices", bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.client.Do(req)
	if err != nil {
		return xerrors.Errorf("posting registration to gateway: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusConflict:
		lgr.Logger.Info(
			"registered with gateway",
			slog.String("gateway", gatewayURL),
			slog.String("deviceID", svc.cfgSvc.GetDeviceID()),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	default:
		return xerrors.Errorf("gateway rejected registration: status %d", resp.StatusCode)
	}
}

type fakeService struct {
}

func NewFake() IService {
	return &fakeService{}
}

func (svc *fakeService) Register(_ context.Context) error {
	return nil
}
