package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/micro-ha/switchbot-cloud/internal/classifier"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

// Build classifies every device, obtains its coordinator and joins all
// first refreshes before returning. A device whose first refresh fails is
// left out of the set and reported in the failures map; it does not affect
// its siblings.
func (r *Registry) Build(ctx context.Context, devices []model.Device) (*DeviceSet, map[string]error) {
	out := newCollector()

	var (
		failMu   sync.Mutex
		failures = map[string]error{}
	)

	var g errgroup.Group
	for index, device := range devices {
		g.Go(func() error {
			if err := r.buildDevice(ctx, index, device, out); err != nil {
				failMu.Lock()
				failures[device.ID] = err
				failMu.Unlock()
				r.logger.Warn("device refresh failed", "device_id", device.ID, "device_type", device.Type, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return out.deviceSet(), failures
}

func (r *Registry) buildDevice(ctx context.Context, index int, device model.Device, out *collector) error {
	decisions := r.classifier.Classify(device)
	if len(decisions) == 0 {
		return nil
	}

	c, err := r.Obtain(ctx, device, classifier.WebhookDriven(decisions))
	if err != nil {
		return err
	}

	data := c.Data()
	for _, decision := range decisions {
		category, ok := decision.Resolve(data)
		if !ok {
			continue
		}
		out.add(category, index, Entry{Device: device, Coordinator: c})
	}
	return nil
}
