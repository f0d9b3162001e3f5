package classifier

import (
	"strings"

	"github.com/micro-ha/switchbot-cloud/internal/model"
)

// Predicate matches a device from the cloud device list.
type Predicate func(model.Device) bool

// Refinement picks the final category from a refreshed snapshot.
type Refinement func(model.Snapshot) model.Category

// Rule maps matching devices to a category. Exactly one of Category and
// Refine is set.
type Rule struct {
	Name          string
	Match         Predicate
	Category      model.Category
	Refine        Refinement
	WebhookDriven bool
}

var sensorTypes = []string{
	"Meter",
	"MeterPlus",
	"WoIOSensor",
	"Hub 2",
	"MeterPro",
	"MeterPro(CO2)",
	"Relay Switch 1PM",
	"Plug Mini (US)",
	"Plug Mini (JP)",
}

var vacuumTypes = []string{
	"K10+",
	"K10+ Pro",
	"Robot Vacuum Cleaner S1",
	"Robot Vacuum Cleaner S1 Plus",
}

// DefaultRules is evaluated top to bottom; every matching rule contributes.
var DefaultRules = []Rule{
	{
		Name:     "climate",
		Match:    RemoteTypeSuffix("Air Conditioner"),
		Category: model.CategoryClimate,
	},
	{
		Name: "switch",
		Match: Any(
			AnyRemote(),
			DeviceTypePrefix("Plug"),
			DeviceTypeIn("Relay Switch 1PM", "Relay Switch 1"),
		),
		Category: model.CategorySwitch,
	},
	{
		Name:     "sensor",
		Match:    DeviceTypeIn(sensorTypes...),
		Category: model.CategorySensor,
	},
	{
		Name:          "vacuum",
		Match:         DeviceTypeIn(vacuumTypes...),
		Category:      model.CategoryVacuum,
		WebhookDriven: true,
	},
	{
		Name:     "lock",
		Match:    DeviceTypePrefix("Smart Lock"),
		Category: model.CategoryLock,
	},
	{
		Name:   "bot",
		Match:  DeviceTypeIn("Bot"),
		Refine: ByDeviceMode("pressMode", model.CategoryButton, model.CategorySwitch),
	},
}

func AnyRemote() Predicate {
	return func(d model.Device) bool {
		return d.IsRemote()
	}
}

func RemoteTypeSuffix(suffix string) Predicate {
	return func(d model.Device) bool {
		return d.IsRemote() && strings.HasSuffix(d.Type, suffix)
	}
}

func DeviceTypePrefix(prefix string) Predicate {
	return func(d model.Device) bool {
		return !d.IsRemote() && strings.HasPrefix(d.Type, prefix)
	}
}

func DeviceTypeIn(types ...string) Predicate {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(d model.Device) bool {
		if d.IsRemote() {
			return false
		}
		_, ok := set[d.Type]
		return ok
	}
}

func Any(predicates ...Predicate) Predicate {
	return func(d model.Device) bool {
		for _, p := range predicates {
			if p(d) {
				return true
			}
		}
		return false
	}
}

// ByDeviceMode resolves to match when the snapshot's deviceMode equals mode.
func ByDeviceMode(mode string, match, otherwise model.Category) Refinement {
	return func(s model.Snapshot) model.Category {
		if s.String("deviceMode") == mode {
			return match
		}
		return otherwise
	}
}
