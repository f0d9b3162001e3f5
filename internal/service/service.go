// Package service runs the lifecycle of one SwitchBot cloud config entry:
// discovery, coordinator fan-out, webhook wiring and unload.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/micro-ha/switchbot-cloud/internal/classifier"
	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
	"github.com/micro-ha/switchbot-cloud/internal/pkg/utils"
	"github.com/micro-ha/switchbot-cloud/internal/registry"
	"github.com/micro-ha/switchbot-cloud/internal/storage"
	"github.com/micro-ha/switchbot-cloud/internal/switchbot"
	"github.com/micro-ha/switchbot-cloud/internal/webhook"
)

const DefaultTitle = "SwitchBot Cloud"

// CloudAPI is everything the entry needs from the SwitchBot cloud.
type CloudAPI interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	coordinator.StatusFetcher
	webhook.Configurator
}

// EntryStore persists the entry record holding the webhook id.
type EntryStore interface {
	LoadEntry(ctx context.Context, entryID string) (model.Entry, error)
	CreateEntry(ctx context.Context, entry model.Entry) error
	SaveEntry(ctx context.Context, entry model.Entry) error
}

// Hook is attached to every coordinator after setup. The returned function
// detaches it on unload.
type Hook func(c *coordinator.Coordinator) (detach func())

type Options struct {
	EntryID     string
	Title       string
	ExternalURL string
	Classifier  *classifier.Classifier
	Hooks       []Hook
}

type Service struct {
	api    CloudAPI
	store  EntryStore
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	ready    bool
	entry    model.Entry
	registry *registry.Registry
	router   *webhook.Router
	devices  *registry.DeviceSet
	detach   []func()
}

func New(api CloudAPI, store EntryStore, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EntryID == "" {
		opts.EntryID = "default"
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New()
	}
	return &Service{
		api:    api,
		store:  store,
		opts:   opts,
		logger: logger.With("entry_id", opts.EntryID),
	}
}

// Setup discovers devices, builds the categorized set and, when any
// coordinator depends on pushes, makes sure the webhook is registered.
// Authentication failures, including those hit by a first refresh, return
// ErrSetupFailed; connectivity failures return ErrNotReady. In both cases no
// state is kept.
func (s *Service) Setup(ctx context.Context) error {
	if s.Ready() {
		return nil
	}

	devices, err := s.api.ListDevices(ctx)
	if err != nil {
		switch {
		case switchbot.IsAuthError(err):
			s.logger.Error("invalid authentication while connecting to switchbot api", "err", err)
			return fmt.Errorf("%w: %w", ErrSetupFailed, err)
		case errors.Is(err, switchbot.ErrCannotConnect):
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		default:
			return fmt.Errorf("%w: list devices: %w", ErrSetupFailed, err)
		}
	}
	s.logger.Debug("devices listed", "count", len(devices), "devices", devices)

	reg := registry.New(s.api, s.opts.Classifier, s.logger)
	set, failures := reg.Build(ctx, devices)
	for deviceID, err := range failures {
		if switchbot.IsAuthError(err) {
			reg.Clear()
			s.logger.Error("invalid authentication while refreshing device", "device_id", deviceID, "err", err)
			return fmt.Errorf("%w: refresh %s: %w", ErrSetupFailed, deviceID, err)
		}
	}
	s.logger.Info("device set built",
		"devices", len(devices),
		"coordinators", reg.Len(),
		"failed", len(failures),
	)

	entry, err := s.loadEntry(ctx)
	if err != nil {
		reg.Clear()
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	var detach []func()
	for _, c := range reg.All() {
		for _, hook := range s.opts.Hooks {
			if fn := hook(c); fn != nil {
				detach = append(detach, fn)
			}
		}
		if len(s.opts.Hooks) > 0 {
			c.NotifyCurrent()
		}
	}

	pushed := reg.AnyWebhookDriven()
	if pushed && entry.WebhookID == "" {
		entry.WebhookID = webhook.GenerateID()
		if err := s.saveEntry(ctx, &entry); err != nil {
			s.logger.Warn("persist webhook id failed", "err", err)
		}
	}

	s.mu.Lock()
	s.ready = true
	s.entry = entry
	s.registry = reg
	s.router = webhook.NewRouter(reg, s.logger)
	s.devices = set
	s.detach = detach
	s.mu.Unlock()

	// Pushes can arrive as soon as the cloud accepts the URL.
	if pushed {
		s.registerWebhook(ctx, entry.WebhookID)
	}
	return nil
}

func (s *Service) registerWebhook(ctx context.Context, webhookID string) {
	s.mu.RLock()
	externalURL := s.opts.ExternalURL
	s.mu.RUnlock()

	if externalURL == "" {
		s.logger.Warn("external url not configured, webhook registration skipped", "webhook_name", s.WebhookName())
		return
	}
	webhook.Reconcile(ctx, s.api, webhook.URL(externalURL, webhookID)).Log(s.logger)
}

// SetExternalURL changes the public base URL. A loaded entry that uses a
// webhook registers it again under the new address.
func (s *Service) SetExternalURL(ctx context.Context, externalURL string) {
	s.mu.Lock()
	changed := s.opts.ExternalURL != externalURL
	s.opts.ExternalURL = externalURL
	ready, webhookID := s.ready, s.entry.WebhookID
	s.mu.Unlock()

	if changed && ready && webhookID != "" {
		s.registerWebhook(ctx, webhookID)
	}
}

func (s *Service) loadEntry(ctx context.Context) (model.Entry, error) {
	now := utils.NowUTC()
	fresh := model.Entry{ID: s.opts.EntryID, Title: s.opts.Title, CreatedAt: now, UpdatedAt: now}
	if s.store == nil {
		return fresh, nil
	}
	entry, err := s.store.LoadEntry(ctx, s.opts.EntryID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err := s.store.CreateEntry(ctx, fresh)
		if errors.Is(err, storage.ErrConflict) {
			return s.store.LoadEntry(ctx, s.opts.EntryID)
		}
		if err != nil {
			return model.Entry{}, err
		}
		return fresh, nil
	case err != nil:
		return model.Entry{}, err
	}
	return entry, nil
}

func (s *Service) saveEntry(ctx context.Context, entry *model.Entry) error {
	entry.UpdatedAt = utils.NowUTC()
	if s.store == nil {
		return nil
	}
	return s.store.SaveEntry(ctx, *entry)
}

// Unload detaches hooks and drops every coordinator so Setup can run again.
func (s *Service) Unload(ctx context.Context) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	detach := s.detach
	reg := s.registry
	s.ready = false
	s.registry = nil
	s.router = nil
	s.devices = nil
	s.detach = nil
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	reg.Clear()
	s.logger.Info("entry unloaded")
	return nil
}

// HandleWebhook routes a pushed payload addressed to webhookID. Payload
// problems are logged by the router and never returned.
func (s *Service) HandleWebhook(webhookID string, body []byte) error {
	s.mu.RLock()
	ready, router, expected := s.ready, s.router, s.entry.WebhookID
	s.mu.RUnlock()

	if !ready {
		return ErrNotLoaded
	}
	if expected == "" || webhookID != expected {
		return ErrUnknownWebhook
	}
	s.logger.Info("webhook received", "bytes", len(body))
	router.Handle(body)
	return nil
}

func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Service) Devices() *registry.DeviceSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices
}

func (s *Service) Coordinator(deviceID string) (*coordinator.Coordinator, bool) {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return nil, false
	}
	return reg.Lookup(deviceID)
}

// Coordinators returns every coordinator in creation order, or nil before
// setup.
func (s *Service) Coordinators() []*coordinator.Coordinator {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return nil
	}
	return reg.All()
}

func (s *Service) WebhookID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry.WebhookID
}

// WebhookName is the display name of the registered webhook.
func (s *Service) WebhookName() string {
	if s.opts.Title == DefaultTitle {
		return DefaultTitle
	}
	return DefaultTitle + " " + s.opts.Title
}
