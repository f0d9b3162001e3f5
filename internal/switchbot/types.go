package switchbot

import (
	"encoding/json"
	"strings"

	"github.com/micro-ha/switchbot-cloud/internal/model"
)

const statusSuccess = 100

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

type deviceRow struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	DeviceType  string `json:"deviceType"`
	HubDeviceID string `json:"hubDeviceId"`
}

type remoteRow struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	RemoteType  string `json:"remoteType"`
	HubDeviceID string `json:"hubDeviceId"`
}

type deviceListBody struct {
	DeviceList         []deviceRow `json:"deviceList"`
	InfraredRemoteList []remoteRow `json:"infraredRemoteList"`
}

// WebhookConfiguration lists the URLs currently registered with the cloud.
type WebhookConfiguration struct {
	URLs []string `json:"urls"`
}

func mapDevices(body deviceListBody) []model.Device {
	items := make([]model.Device, 0, len(body.DeviceList)+len(body.InfraredRemoteList))
	for _, row := range body.DeviceList {
		id := strings.TrimSpace(row.DeviceID)
		if id == "" {
			continue
		}
		items = append(items, model.Device{
			ID:    id,
			Name:  strings.TrimSpace(row.DeviceName),
			Type:  strings.TrimSpace(row.DeviceType),
			HubID: strings.TrimSpace(row.HubDeviceID),
			Kind:  model.KindDevice,
		})
	}
	for _, row := range body.InfraredRemoteList {
		id := strings.TrimSpace(row.DeviceID)
		if id == "" {
			continue
		}
		items = append(items, model.Device{
			ID:    id,
			Name:  strings.TrimSpace(row.DeviceName),
			Type:  strings.TrimSpace(row.RemoteType),
			HubID: strings.TrimSpace(row.HubDeviceID),
			Kind:  model.KindRemote,
		})
	}
	return items
}
