// Package registry owns the coordinators of one config entry and builds the
// categorized device set consumed by entity platforms.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/micro-ha/switchbot-cloud/internal/classifier"
	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

// Registry maps device ids to their single coordinator.
type Registry struct {
	api        coordinator.StatusFetcher
	classifier *classifier.Classifier
	logger     *slog.Logger

	mu           sync.Mutex
	coordinators map[string]*coordinator.Coordinator
	order        []string

	refreshes singleflight.Group
}

func New(api coordinator.StatusFetcher, c *classifier.Classifier, logger *slog.Logger) *Registry {
	if c == nil {
		c = classifier.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		api:          api,
		classifier:   c,
		logger:       logger,
		coordinators: map[string]*coordinator.Coordinator{},
	}
}

// Obtain returns the coordinator for device, creating it on first use, and
// makes sure it has been refreshed once. Concurrent callers for the same id
// share one coordinator and one in-flight refresh. The webhook flag only
// applies when the coordinator is created.
func (r *Registry) Obtain(ctx context.Context, device model.Device, updateByWebhook bool) (*coordinator.Coordinator, error) {
	c := r.insertIfAbsent(device, updateByWebhook)
	if c.HasData() {
		return c, nil
	}

	_, err, _ := r.refreshes.Do(device.ID, func() (any, error) {
		if c.HasData() {
			return nil, nil
		}
		return nil, c.Refresh(ctx)
	})
	if err != nil {
		return c, err
	}
	return c, nil
}

func (r *Registry) insertIfAbsent(device model.Device, updateByWebhook bool) *coordinator.Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.coordinators[device.ID]; ok {
		return existing
	}
	c := coordinator.New(r.api, device, updateByWebhook, r.logger)
	r.coordinators[device.ID] = c
	r.order = append(r.order, device.ID)
	return c
}

func (r *Registry) Lookup(deviceID string) (*coordinator.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coordinators[deviceID]
	return c, ok
}

// All returns coordinators in creation order.
func (r *Registry) All() []*coordinator.Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*coordinator.Coordinator, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.coordinators[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coordinators)
}

func (r *Registry) AnyWebhookDriven() bool {
	for _, c := range r.All() {
		if c.WebhookDriven() {
			return true
		}
	}
	return false
}

// Clear drops every coordinator. Used when the owning entry unloads.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coordinators = map[string]*coordinator.Coordinator{}
	r.order = nil
}
