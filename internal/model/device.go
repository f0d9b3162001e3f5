package model

import (
	"fmt"
	"time"
)

// Kind distinguishes directly addressable devices from IR remotes.
type Kind string

const (
	KindDevice Kind = "device"
	KindRemote Kind = "remote"
)

type Category string

const (
	CategoryButton  Category = "button"
	CategoryClimate Category = "climate"
	CategorySwitch  Category = "switch"
	CategorySensor  Category = "sensor"
	CategoryVacuum  Category = "vacuum"
	CategoryLock    Category = "lock"
)

// Categories lists every category in presentation order.
var Categories = []Category{
	CategoryButton,
	CategoryClimate,
	CategorySwitch,
	CategorySensor,
	CategoryVacuum,
	CategoryLock,
}

// Device is one entry of the cloud device list. Remotes are IR-controlled
// virtual devices behind a hub.
type Device struct {
	ID    string `json:"device_id"`
	Name  string `json:"device_name"`
	Type  string `json:"device_type"`
	HubID string `json:"hub_device_id,omitempty"`
	Kind  Kind   `json:"kind"`
}

func (d Device) IsRemote() bool {
	return d.Kind == KindRemote
}

// Snapshot is the last known device state as reported by the cloud.
type Snapshot map[string]any

// String returns the value at key rendered as a string, or "" when absent.
func (s Snapshot) String(key string) string {
	value, ok := s[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprintf("%v", value)
}

func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out
}

// Entry is the persisted configuration entry owning all coordinators.
type Entry struct {
	ID        string    `json:"entry_id"`
	Title     string    `json:"title"`
	WebhookID string    `json:"webhook_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotRecord is the stored copy of a coordinator's last snapshot.
type SnapshotRecord struct {
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Data       Snapshot  `json:"data"`
	UpdatedAt  time.Time `json:"updated_at"`
}
