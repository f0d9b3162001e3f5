package registry

import (
	"sort"
	"sync"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

// Entry pairs a cloud device with its coordinator.
type Entry struct {
	Device      model.Device
	Coordinator *coordinator.Coordinator
}

// DeviceSet is the categorized output handed to entity platforms. It is
// read-only once Build returns.
type DeviceSet struct {
	Buttons  []Entry
	Climates []Entry
	Switches []Entry
	Sensors  []Entry
	Vacuums  []Entry
	Locks    []Entry
}

// Entries returns the sequence for category.
func (s *DeviceSet) Entries(category model.Category) []Entry {
	if s == nil {
		return nil
	}
	switch category {
	case model.CategoryButton:
		return s.Buttons
	case model.CategoryClimate:
		return s.Climates
	case model.CategorySwitch:
		return s.Switches
	case model.CategorySensor:
		return s.Sensors
	case model.CategoryVacuum:
		return s.Vacuums
	case model.CategoryLock:
		return s.Locks
	default:
		return nil
	}
}

func (s *DeviceSet) slot(category model.Category) *[]Entry {
	switch category {
	case model.CategoryButton:
		return &s.Buttons
	case model.CategoryClimate:
		return &s.Climates
	case model.CategorySwitch:
		return &s.Switches
	case model.CategorySensor:
		return &s.Sensors
	case model.CategoryVacuum:
		return &s.Vacuums
	case model.CategoryLock:
		return &s.Locks
	default:
		return nil
	}
}

type positioned struct {
	index int
	entry Entry
}

// collector gathers entries from concurrent builders. A device id lands in
// a category at most once, at the position of its first input occurrence.
type collector struct {
	mu      sync.Mutex
	buckets map[model.Category]map[string]positioned
}

func newCollector() *collector {
	return &collector{buckets: map[model.Category]map[string]positioned{}}
}

func (c *collector) add(category model.Category, index int, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.buckets[category]
	if !ok {
		bucket = map[string]positioned{}
		c.buckets[category] = bucket
	}
	if existing, ok := bucket[entry.Device.ID]; ok && existing.index <= index {
		return
	}
	bucket[entry.Device.ID] = positioned{index: index, entry: entry}
}

func (c *collector) deviceSet() *DeviceSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := &DeviceSet{}
	for _, category := range model.Categories {
		bucket := c.buckets[category]
		items := make([]positioned, 0, len(bucket))
		for _, item := range bucket {
			items = append(items, item)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })

		slot := set.slot(category)
		for _, item := range items {
			*slot = append(*slot, item.entry)
		}
	}
	return set
}
