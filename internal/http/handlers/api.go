package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carlmjohnson/versioninfo"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
	"github.com/micro-ha/switchbot-cloud/internal/registry"
)

// Poller triggers an asynchronous poll cycle.
type Poller interface {
	TriggerRefresh()
}

// Entry is the loaded config entry the API reads from.
type Entry interface {
	Ready() bool
	Devices() *registry.DeviceSet
	Coordinator(deviceID string) (*coordinator.Coordinator, bool)
	HandleWebhook(webhookID string, body []byte) error
}

// Store exposes the persisted snapshots and a liveness check.
type Store interface {
	Ping(ctx context.Context) error
	ListSnapshots(ctx context.Context) ([]model.SnapshotRecord, error)
}

// API groups HTTP handlers and dependencies.
type API struct {
	entry  Entry
	poller Poller
	stream *Stream
	db     Store
	logger *slog.Logger
}

// New creates HTTP handlers with explicit dependencies. db may be nil.
func New(entry Entry, poller Poller, stream *Stream, db Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		entry:  entry,
		poller: poller,
		stream: stream,
		db:     db,
		logger: logger,
	}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports liveness, entry readiness and the build version.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if a.db != nil {
		if err := a.db.Ping(r.Context()); err != nil {
			a.logger.Warn("storage ping failed", "err", err)
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"ready":   a.entry.Ready(),
		"version": versioninfo.Short(),
	})
}

// Refresh schedules an immediate poll of polling devices.
func (a *API) Refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
