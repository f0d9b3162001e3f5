package classifier

import (
	"reflect"
	"testing"

	"github.com/micro-ha/switchbot-cloud/internal/model"
)

func device(deviceType string) model.Device {
	return model.Device{ID: "D-" + deviceType, Type: deviceType, Kind: model.KindDevice}
}

func remote(remoteType string) model.Device {
	return model.Device{ID: "R-" + remoteType, Type: remoteType, Kind: model.KindRemote}
}

func staticCategories(t *testing.T, decisions []Decision) []model.Category {
	t.Helper()
	out := []model.Category{}
	for _, d := range decisions {
		if d.Kind != DecisionStatic {
			continue
		}
		category, ok := d.Resolve(nil)
		if !ok {
			t.Fatalf("static decision %q did not resolve", d.Rule)
		}
		out = append(out, category)
	}
	return out
}

func TestClassifyStaticRules(t *testing.T) {
	tests := []struct {
		name   string
		device model.Device
		want   []model.Category
	}{
		{"air conditioner remote", remote("DIY Air Conditioner"), []model.Category{model.CategoryClimate, model.CategorySwitch}},
		{"plain remote", remote("TV"), []model.Category{model.CategorySwitch}},
		{"plug", device("Plug"), []model.Category{model.CategorySwitch}},
		{"plug mini", device("Plug Mini (US)"), []model.Category{model.CategorySwitch, model.CategorySensor}},
		{"relay 1pm", device("Relay Switch 1PM"), []model.Category{model.CategorySwitch, model.CategorySensor}},
		{"relay 1", device("Relay Switch 1"), []model.Category{model.CategorySwitch}},
		{"meter", device("Meter"), []model.Category{model.CategorySensor}},
		{"meter pro co2", device("MeterPro(CO2)"), []model.Category{model.CategorySensor}},
		{"hub 2", device("Hub 2"), []model.Category{model.CategorySensor}},
		{"vacuum", device("K10+ Pro"), []model.Category{model.CategoryVacuum}},
		{"lock", device("Smart Lock Pro"), []model.Category{model.CategoryLock}},
		{"unknown", device("Curtain"), []model.Category{}},
		{"device named like ac", device("Air Conditioner"), []model.Category{}},
		{"remote named like plug", remote("Plug"), []model.Category{model.CategorySwitch}},
	}

	c := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := staticCategories(t, c.Classify(tc.device))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Classify(%+v) = %v, want %v", tc.device, got, tc.want)
			}
		})
	}
}

func TestOnlyVacuumIsWebhookDriven(t *testing.T) {
	c := New()
	for _, deviceType := range vacuumTypes {
		if !WebhookDriven(c.Classify(device(deviceType))) {
			t.Fatalf("%q should be webhook driven", deviceType)
		}
	}
	for _, d := range []model.Device{device("Plug"), device("Meter"), device("Bot"), device("Smart Lock"), remote("Air Conditioner")} {
		if WebhookDriven(c.Classify(d)) {
			t.Fatalf("%+v should not be webhook driven", d)
		}
	}
}

func TestBotDecisionIsDeferredUntilSnapshot(t *testing.T) {
	decisions := New().Classify(device("Bot"))
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	bot := decisions[0]
	if bot.Kind != DecisionDeferred {
		t.Fatalf("expected deferred decision, got %v", bot.Kind)
	}
	if _, ok := bot.Resolve(nil); ok {
		t.Fatalf("deferred decision must not resolve without snapshot")
	}

	tests := []struct {
		snapshot model.Snapshot
		want     model.Category
	}{
		{model.Snapshot{"deviceMode": "pressMode"}, model.CategoryButton},
		{model.Snapshot{"deviceMode": "switchMode"}, model.CategorySwitch},
		{model.Snapshot{"deviceMode": "customizeMode"}, model.CategorySwitch},
		{model.Snapshot{}, model.CategorySwitch},
	}
	for _, tc := range tests {
		got, ok := bot.Resolve(tc.snapshot)
		if !ok || got != tc.want {
			t.Fatalf("Resolve(%v) = %q/%v, want %q", tc.snapshot, got, ok, tc.want)
		}
	}
}

func TestBotRemoteIsNotDeferred(t *testing.T) {
	decisions := New().Classify(remote("Bot"))
	for _, d := range decisions {
		if d.Kind == DecisionDeferred {
			t.Fatalf("remote must not match bot rule")
		}
	}
}

func TestCustomRuleTable(t *testing.T) {
	c := New(Rule{Name: "curtain", Match: DeviceTypePrefix("Curtain"), Category: model.CategorySwitch})
	got := staticCategories(t, c.Classify(device("Curtain3")))
	if !reflect.DeepEqual(got, []model.Category{model.CategorySwitch}) {
		t.Fatalf("unexpected categories %v", got)
	}
	if len(c.Classify(device("Plug"))) != 0 {
		t.Fatalf("custom table must not include default rules")
	}
}
