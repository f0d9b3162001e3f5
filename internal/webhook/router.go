// Package webhook routes pushed state changes to coordinators and keeps the
// cloud's webhook registration in line with the expected URL.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

const (
	eventTypeChangeReport = "changeReport"
	eventVersion          = "1"
)

// Lookup finds the coordinator registered for a device id.
type Lookup interface {
	Lookup(deviceID string) (*coordinator.Coordinator, bool)
}

type Router struct {
	coordinators Lookup
	logger       *slog.Logger
}

func NewRouter(coordinators Lookup, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{coordinators: coordinators, logger: logger}
}

// Handle dispatches body and logs any rejection. It never fails.
func (r *Router) Handle(body []byte) {
	if err := r.Dispatch(body); err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			r.logger.Warn("webhook payload rejected", "reason", verr.Reason)
		case errors.Is(err, ErrUnknownDevice):
			r.logger.Warn("webhook for unknown device", "err", err)
		default:
			r.logger.Error("webhook dispatch failed", "err", err)
		}
	}
}

// Dispatch validates a changeReport payload and hands its context to the
// coordinator named by deviceMac.
func (r *Router) Dispatch(body []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return invalid("not a json object")
	}

	if value, ok := payload["eventType"].(string); !ok || value != eventTypeChangeReport {
		return invalid("unexpected eventType %v", payload["eventType"])
	}
	if value, ok := payload["eventVersion"].(string); !ok || value != eventVersion {
		return invalid("unexpected eventVersion %v", payload["eventVersion"])
	}

	raw, ok := payload["context"].(map[string]any)
	if !ok {
		return invalid("context missing or not an object")
	}
	if _, ok := raw["deviceType"]; !ok {
		return invalid("context.deviceType missing")
	}
	macValue, ok := raw["deviceMac"]
	if !ok {
		return invalid("context.deviceMac missing")
	}
	mac, ok := macValue.(string)
	if !ok {
		return fmt.Errorf("%w: deviceMac %v", ErrUnknownDevice, macValue)
	}

	c, ok := r.coordinators.Lookup(mac)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, mac)
	}

	r.logger.Debug("webhook update", "device_id", mac, "device_type", raw["deviceType"])
	c.SetUpdatedData(model.Snapshot(raw))
	return nil
}
