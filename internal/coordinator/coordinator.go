// Package coordinator keeps the latest known state of one cloud device and
// fans updates out to subscribers.
package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/micro-ha/switchbot-cloud/internal/model"
)

// StatusFetcher is the cloud capability used to refresh a device.
type StatusFetcher interface {
	DeviceStatus(ctx context.Context, deviceID string) (model.Snapshot, error)
}

// Listener receives every new snapshot. Listeners run synchronously on the
// goroutine that produced the update and must not block.
type Listener func(device model.Device, data model.Snapshot)

type Coordinator struct {
	api     StatusFetcher
	device  model.Device
	webhook bool
	logger  *slog.Logger

	mu          sync.RWMutex
	data        model.Snapshot
	lastErr     error
	lastUpdated time.Time

	subMu     sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

func New(api StatusFetcher, device model.Device, updateByWebhook bool, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		api:       api,
		device:    device,
		webhook:   updateByWebhook,
		logger:    logger.With("device_id", device.ID, "device_type", device.Type),
		listeners: map[uint64]Listener{},
	}
}

func (c *Coordinator) Device() model.Device {
	return c.device
}

// WebhookDriven reports whether state only changes through pushed events.
func (c *Coordinator) WebhookDriven() bool {
	return c.webhook
}

// Polls reports whether periodic refreshes reach the network.
func (c *Coordinator) Polls() bool {
	return !c.webhook && !c.device.IsRemote()
}

// Data returns the last snapshot, nil before the first successful refresh.
// Callers must treat it as read-only.
func (c *Coordinator) Data() model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

func (c *Coordinator) HasData() bool {
	return c.Data() != nil
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// Refresh fetches the current state. Webhook-driven coordinators only fetch
// to seed their first snapshot; remotes have no status endpoint and are
// seeded with an empty snapshot.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.device.IsRemote() {
		if c.HasData() {
			return nil
		}
		c.store(model.Snapshot{}, nil)
		c.notify(model.Snapshot{})
		return nil
	}
	if c.webhook && c.HasData() {
		return nil
	}

	data, err := c.api.DeviceStatus(ctx, c.device.ID)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	if data == nil {
		data = model.Snapshot{}
	}
	c.store(data, nil)
	c.notify(data)
	return nil
}

// SetUpdatedData replaces the snapshot with a pushed one and notifies
// subscribers without touching the network.
func (c *Coordinator) SetUpdatedData(data model.Snapshot) {
	if data == nil {
		data = model.Snapshot{}
	}
	c.store(data, nil)
	c.notify(data)
}

// Subscribe registers listener and returns a function removing it.
func (c *Coordinator) Subscribe(listener Listener) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.listeners, id)
			c.subMu.Unlock()
		})
	}
}

// NotifyCurrent hands the current snapshot to every subscriber without
// fetching. It does nothing before the first refresh.
func (c *Coordinator) NotifyCurrent() {
	c.mu.RLock()
	data := c.data
	c.mu.RUnlock()
	if data == nil {
		return
	}
	c.notify(data)
}

func (c *Coordinator) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.listeners)
}

func (c *Coordinator) store(data model.Snapshot, err error) {
	c.mu.Lock()
	c.data = data
	c.lastErr = err
	c.lastUpdated = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Coordinator) notify(data model.Snapshot) {
	c.subMu.Lock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	snapshot := make([]Listener, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, c.listeners[id])
	}
	c.subMu.Unlock()

	for _, listener := range snapshot {
		listener(c.device, data)
	}
	c.logger.Debug("coordinator updated", "listeners", len(snapshot))
}
