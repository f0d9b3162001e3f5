package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
	"github.com/micro-ha/switchbot-cloud/internal/storage"
	"github.com/micro-ha/switchbot-cloud/internal/switchbot"
)

type fakeCloud struct {
	mu       sync.Mutex
	devices  []model.Device
	listErrs []error
	statuses map[string]model.Snapshot
	failures map[string]error
	urls     []string
	calls    []string
	onSetup  func()
}

func (f *fakeCloud) ListDevices(context.Context) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return f.devices, nil
}

func (f *fakeCloud) DeviceStatus(_ context.Context, deviceID string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[deviceID]; err != nil {
		return nil, err
	}
	if status, ok := f.statuses[deviceID]; ok {
		return status.Clone(), nil
	}
	return model.Snapshot{}, nil
}

func (f *fakeCloud) GetWebhookConfiguration(context.Context) (switchbot.WebhookConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "query")
	return switchbot.WebhookConfiguration{URLs: f.urls}, nil
}

func (f *fakeCloud) SetupWebhook(_ context.Context, url string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "setup "+url)
	f.urls = []string{url}
	onSetup := f.onSetup
	f.mu.Unlock()
	if onSetup != nil {
		onSetup()
	}
	return nil
}

func (f *fakeCloud) DeleteWebhook(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+url)
	return nil
}

func (f *fakeCloud) callLog() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.calls, ",")
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]model.Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[string]model.Entry{}}
}

func (m *memoryStore) LoadEntry(_ context.Context, entryID string) (model.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return model.Entry{}, storage.ErrNotFound
	}
	return entry, nil
}

func (m *memoryStore) CreateEntry(_ context.Context, entry model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; ok {
		return storage.ErrConflict
	}
	m.entries[entry.ID] = entry
	return nil
}

func (m *memoryStore) SaveEntry(_ context.Context, entry model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleCloud() *fakeCloud {
	return &fakeCloud{
		devices: []model.Device{
			{ID: "AA:BB", Type: "Bot", Kind: model.KindDevice},
			{ID: "VAC", Type: "K10+", Kind: model.KindDevice},
			{ID: "AC", Type: "Air Conditioner", Kind: model.KindRemote},
			{ID: "CURTAIN", Type: "Curtain", Kind: model.KindDevice},
		},
		statuses: map[string]model.Snapshot{
			"AA:BB": {"deviceMode": "pressMode"},
		},
	}
}

func TestSetup_BuildsDevicesAndRegistersWebhook(t *testing.T) {
	ctx := context.Background()
	cloud := sampleCloud()
	store := newMemoryStore()
	svc := New(cloud, store, Options{EntryID: "main", ExternalURL: "https://ha.example"}, testLogger())

	if err := svc.Setup(ctx); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if !svc.Ready() {
		t.Fatalf("service should be ready")
	}
	set := svc.Devices()
	if len(set.Buttons) != 1 || len(set.Vacuums) != 1 || len(set.Climates) != 1 || len(set.Switches) != 1 {
		t.Fatalf("unexpected device set %+v", set)
	}
	if len(svc.Coordinators()) != 3 {
		t.Fatalf("expected 3 coordinators, got %d", len(svc.Coordinators()))
	}

	webhookID := svc.WebhookID()
	if webhookID == "" {
		t.Fatalf("expected a webhook id")
	}
	stored, _ := store.LoadEntry(ctx, "main")
	if stored.WebhookID != webhookID {
		t.Fatalf("webhook id not persisted: %+v", stored)
	}
	want := "list,query,setup https://ha.example/api/webhook/" + webhookID
	if got := cloud.callLog(); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}

func TestSetup_ReusesPersistedWebhookID(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	store.entries["main"] = model.Entry{ID: "main", Title: "Home", WebhookID: "persisted"}
	cloud := sampleCloud()
	cloud.urls = []string{"https://ha.example/api/webhook/persisted"}

	svc := New(cloud, store, Options{EntryID: "main", ExternalURL: "https://ha.example"}, testLogger())
	if err := svc.Setup(ctx); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if svc.WebhookID() != "persisted" {
		t.Fatalf("webhook id = %q, want persisted", svc.WebhookID())
	}
	if got := cloud.callLog(); got != "list,query" {
		t.Fatalf("calls = %s, want list,query", got)
	}
}

func TestSetup_NoWebhookWithoutPushDevices(t *testing.T) {
	cloud := &fakeCloud{devices: []model.Device{{ID: "M", Type: "Meter", Kind: model.KindDevice}}}
	svc := New(cloud, newMemoryStore(), Options{ExternalURL: "https://ha.example"}, testLogger())

	if err := svc.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if svc.WebhookID() != "" {
		t.Fatalf("no webhook id expected")
	}
	if got := cloud.callLog(); got != "list" {
		t.Fatalf("calls = %s, want list", got)
	}
}

func TestSetup_ErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		onRefresh bool
		want      error
	}{
		{"auth", switchbot.ErrInvalidAuth, false, ErrSetupFailed},
		{"connect", switchbot.ErrCannotConnect, false, ErrNotReady},
		{"api", &switchbot.APIError{Endpoint: "/v1.1/devices", StatusCode: 190}, false, ErrSetupFailed},
		{"auth on refresh", fmt.Errorf("status AA:BB: %w", switchbot.ErrInvalidAuth), true, ErrSetupFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cloud := sampleCloud()
			if tc.onRefresh {
				cloud.failures = map[string]error{"AA:BB": tc.err}
			} else {
				cloud.listErrs = []error{tc.err}
			}
			svc := New(cloud, newMemoryStore(), Options{}, testLogger())

			err := svc.Setup(context.Background())
			if !errors.Is(err, tc.want) || !errors.Is(err, tc.err) {
				t.Fatalf("Setup() error = %v, want %v wrapping %v", err, tc.want, tc.err)
			}
			if svc.Ready() || svc.Devices() != nil || svc.Coordinators() != nil {
				t.Fatalf("failed setup must not keep state")
			}
		})
	}
}

func TestSetupWithRetry_RetriesNotReady(t *testing.T) {
	cloud := sampleCloud()
	cloud.listErrs = []error{switchbot.ErrCannotConnect, switchbot.ErrCannotConnect}
	svc := New(cloud, newMemoryStore(), Options{}, testLogger())

	err := svc.SetupWithRetry(context.Background(), RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2})
	if err != nil {
		t.Fatalf("SetupWithRetry() error: %v", err)
	}
	if got := cloud.callLog(); !strings.HasPrefix(got, "list,list,list") {
		t.Fatalf("expected three list attempts, got %s", got)
	}
}

func TestSetupWithRetry_StopsOnAuthError(t *testing.T) {
	cloud := sampleCloud()
	cloud.listErrs = []error{switchbot.ErrInvalidAuth}
	svc := New(cloud, newMemoryStore(), Options{}, testLogger())

	err := svc.SetupWithRetry(context.Background(), RetryConfig{InitialDelay: time.Millisecond})
	if !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("expected ErrSetupFailed, got %v", err)
	}
	if got := cloud.callLog(); got != "list" {
		t.Fatalf("auth failure must not be retried, calls = %s", got)
	}
}

func TestHandleWebhook_RoutesByID(t *testing.T) {
	svc := New(sampleCloud(), newMemoryStore(), Options{}, testLogger())
	if err := svc.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	body := []byte(`{"eventType":"changeReport","eventVersion":"1","context":{"deviceType":"K10+","deviceMac":"VAC","workingStatus":"Cleaning"}}`)

	if err := svc.HandleWebhook("wrong", body); !errors.Is(err, ErrUnknownWebhook) {
		t.Fatalf("expected ErrUnknownWebhook, got %v", err)
	}
	if err := svc.HandleWebhook(svc.WebhookID(), body); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}
	c, ok := svc.Coordinator("VAC")
	if !ok || c.Data().String("workingStatus") != "Cleaning" {
		t.Fatalf("vacuum data not updated")
	}
	if err := svc.HandleWebhook(svc.WebhookID(), []byte("garbage")); err != nil {
		t.Fatalf("invalid payloads are swallowed, got %v", err)
	}
}

func TestUnload_DetachesHooks(t *testing.T) {
	var mu sync.Mutex
	attached := map[string]int{}
	hook := func(c *coordinator.Coordinator) func() {
		mu.Lock()
		attached[c.Device().ID]++
		mu.Unlock()
		unsubscribe := c.Subscribe(func(model.Device, model.Snapshot) {})
		return func() {
			unsubscribe()
			mu.Lock()
			attached[c.Device().ID]--
			mu.Unlock()
		}
	}

	ctx := context.Background()
	svc := New(sampleCloud(), newMemoryStore(), Options{Hooks: []Hook{hook}}, testLogger())
	if err := svc.Setup(ctx); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if len(attached) != 3 {
		t.Fatalf("expected hooks on 3 coordinators, got %v", attached)
	}
	vac, _ := svc.Coordinator("VAC")

	if err := svc.Unload(ctx); err != nil {
		t.Fatalf("Unload() error: %v", err)
	}
	for id, n := range attached {
		if n != 0 {
			t.Fatalf("hook on %s not detached", id)
		}
	}
	if vac.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after unload")
	}
	if svc.Ready() || len(svc.Coordinators()) != 0 {
		t.Fatalf("unload must drop coordinators")
	}
	if err := svc.HandleWebhook("any", nil); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if err := svc.Unload(ctx); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("second unload should report ErrNotLoaded, got %v", err)
	}

	if err := svc.Setup(ctx); err != nil {
		t.Fatalf("setup after unload: %v", err)
	}
}

func TestSetup_HooksSeeFirstRefresh(t *testing.T) {
	cloud := &fakeCloud{
		devices: []model.Device{
			{ID: "PLUG", Type: "Plug", Kind: model.KindDevice},
			{ID: "VAC", Type: "K10+", Kind: model.KindDevice},
		},
		statuses: map[string]model.Snapshot{
			"PLUG": {"power": "on"},
			"VAC":  {"workingStatus": "StandBy"},
		},
	}

	var mu sync.Mutex
	seen := map[string]model.Snapshot{}
	hook := func(c *coordinator.Coordinator) func() {
		return c.Subscribe(func(device model.Device, data model.Snapshot) {
			mu.Lock()
			seen[device.ID] = data
			mu.Unlock()
		})
	}

	svc := New(cloud, nil, Options{Hooks: []Hook{hook}}, testLogger())
	if err := svc.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["PLUG"].String("power") != "on" {
		t.Fatalf("plug snapshot not delivered to hook, got %v", seen)
	}
	if seen["VAC"].String("workingStatus") != "StandBy" {
		t.Fatalf("vacuum snapshot not delivered to hook, got %v", seen)
	}
}

func TestSetup_AcceptsPushesWhileRegistering(t *testing.T) {
	cloud := sampleCloud()
	svc := New(cloud, newMemoryStore(), Options{ExternalURL: "https://ha.example"}, testLogger())

	body := []byte(`{"eventType":"changeReport","eventVersion":"1","context":{"deviceType":"K10+","deviceMac":"VAC","workingStatus":"Cleaning"}}`)
	var pushErr error
	cloud.onSetup = func() {
		pushErr = svc.HandleWebhook(svc.WebhookID(), body)
	}

	if err := svc.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if pushErr != nil {
		t.Fatalf("push during registration rejected: %v", pushErr)
	}
	c, ok := svc.Coordinator("VAC")
	if !ok || c.Data().String("workingStatus") != "Cleaning" {
		t.Fatalf("push during registration not applied")
	}
}

func TestWebhookName(t *testing.T) {
	if got := New(nil, nil, Options{}, nil).WebhookName(); got != "SwitchBot Cloud" {
		t.Fatalf("WebhookName() = %q", got)
	}
	if got := New(nil, nil, Options{Title: "Home"}, nil).WebhookName(); got != "SwitchBot Cloud Home" {
		t.Fatalf("WebhookName() = %q", got)
	}
}

func TestSetExternalURL_ReregistersWebhook(t *testing.T) {
	ctx := context.Background()
	cloud := sampleCloud()
	svc := New(cloud, newMemoryStore(), Options{}, testLogger())
	if err := svc.Setup(ctx); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if got := cloud.callLog(); got != "list" {
		t.Fatalf("no registration without external url, calls = %s", got)
	}

	svc.SetExternalURL(ctx, "https://ha.example")
	svc.SetExternalURL(ctx, "https://ha.example")

	want := "list,query,setup https://ha.example/api/webhook/" + svc.WebhookID()
	if got := cloud.callLog(); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}
