package handlers

import (
	"net/http"
	"time"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

type deviceView struct {
	model.Device
	WebhookDriven bool           `json:"webhook_driven"`
	Data          model.Snapshot `json:"data"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

func viewOf(device model.Device, c *coordinator.Coordinator) deviceView {
	view := deviceView{
		Device:        device,
		WebhookDriven: c.WebhookDriven(),
		Data:          c.Data(),
	}
	if ts := c.LastUpdated(); !ts.IsZero() {
		view.UpdatedAt = &ts
	}
	if err := c.LastError(); err != nil {
		view.LastError = err.Error()
	}
	return view
}

// ListDevices returns the categorized device set.
func (a *API) ListDevices(w http.ResponseWriter, _ *http.Request) {
	if !a.entry.Ready() {
		writeError(w, http.StatusConflict, "not_ready", "Entry not set up")
		return
	}
	set := a.entry.Devices()
	categories := make(map[model.Category][]deviceView, len(model.Categories))
	for _, category := range model.Categories {
		entries := set.Entries(category)
		views := make([]deviceView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, viewOf(entry.Device, entry.Coordinator))
		}
		categories[category] = views
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// ListSnapshots returns the last persisted state of every device, including
// devices whose coordinator is not loaded.
func (a *API) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_disabled", "Storage not available")
		return
	}
	items, err := a.db.ListSnapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if items == nil {
		items = []model.SnapshotRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetDevice returns one coordinator's device and state.
func (a *API) GetDevice(w http.ResponseWriter, _ *http.Request, deviceID string) {
	c, ok := a.entry.Coordinator(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(c.Device(), c))
}
