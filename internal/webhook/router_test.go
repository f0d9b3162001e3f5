package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

type noopFetcher struct{}

func (noopFetcher) DeviceStatus(context.Context, string) (model.Snapshot, error) {
	return model.Snapshot{}, nil
}

type mapLookup map[string]*coordinator.Coordinator

func (m mapLookup) Lookup(deviceID string) (*coordinator.Coordinator, bool) {
	c, ok := m[deviceID]
	return c, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBot(t *testing.T) (*coordinator.Coordinator, *int) {
	t.Helper()
	c := coordinator.New(noopFetcher{}, model.Device{ID: "AA:BB", Type: "Bot", Kind: model.KindDevice}, false, testLogger())
	calls := 0
	c.Subscribe(func(model.Device, model.Snapshot) { calls++ })
	return c, &calls
}

func TestDispatchUpdatesKnownDevice(t *testing.T) {
	bot, calls := newBot(t)
	router := NewRouter(mapLookup{"AA:BB": bot}, testLogger())

	err := router.Dispatch([]byte(`{"eventType":"changeReport","eventVersion":"1","context":{"deviceType":"Bot","deviceMac":"AA:BB"}}`))
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected exactly one notification, got %d", *calls)
	}
	data := bot.Data()
	if len(data) != 2 || data.String("deviceType") != "Bot" || data.String("deviceMac") != "AA:BB" {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestDispatchUnknownDevice(t *testing.T) {
	bot, calls := newBot(t)
	router := NewRouter(mapLookup{"AA:BB": bot}, testLogger())

	err := router.Dispatch([]byte(`{"eventType":"changeReport","eventVersion":"1","context":{"deviceType":"Bot","deviceMac":"CC:DD"}}`))
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if *calls != 0 || bot.HasData() {
		t.Fatalf("unknown device must not change any coordinator")
	}
}

func TestDispatchRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"missing eventType", `{"eventVersion":"1","context":{"deviceType":"Bot","deviceMac":"AA:BB"}}`},
		{"wrong eventType", `{"eventType":"other","eventVersion":"1","context":{"deviceType":"Bot","deviceMac":"AA:BB"}}`},
		{"missing eventVersion", `{"eventType":"changeReport","context":{"deviceType":"Bot","deviceMac":"AA:BB"}}`},
		{"eventVersion 2", `{"eventType":"changeReport","eventVersion":"2","context":{"deviceType":"Bot","deviceMac":"AA:BB"}}`},
		{"numeric eventVersion", `{"eventType":"changeReport","eventVersion":1,"context":{"deviceType":"Bot","deviceMac":"AA:BB"}}`},
		{"missing context", `{"eventType":"changeReport","eventVersion":"1"}`},
		{"context string", `{"eventType":"changeReport","eventVersion":"1","context":"AA:BB"}`},
		{"missing deviceType", `{"eventType":"changeReport","eventVersion":"1","context":{"deviceMac":"AA:BB"}}`},
		{"missing deviceMac", `{"eventType":"changeReport","eventVersion":"1","context":{"deviceType":"Bot"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bot, calls := newBot(t)
			router := NewRouter(mapLookup{"AA:BB": bot}, testLogger())

			err := router.Dispatch([]byte(tc.body))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if *calls != 0 || bot.HasData() {
				t.Fatalf("rejected payload must not touch the coordinator")
			}
		})
	}
}

func TestHandleNeverPanicsOnGarbage(t *testing.T) {
	router := NewRouter(mapLookup{}, testLogger())
	router.Handle(nil)
	router.Handle([]byte(`{"eventType":"changeReport","eventVersion":"1","context":{"deviceType":"Bot","deviceMac":42}}`))
}
