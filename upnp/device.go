package upnp

import (
	"sync"
)

// Device is a renderer discovered on the local network. Identity is
// the Location URL: two records with the same location are the same
// device.
type Device struct {
	// Name is the human-readable device name, resolved from the
	// description document. Falls back to a placeholder derived from
	// the sender's address when the document is unavailable.
	Name string
	// Location is the URL of the device description document.
	Location string
	// Server is the SSDP advertisement banner, or "Unknown".
	Server string
}

func (dev *Device) String() string {
	return dev.Name + " - " + dev.Server
}

// Cache holds devices across discovery runs, keyed by location. It is
// safe for concurrent use; a stale list is better than an empty one
// while a fresh scan runs. Entries are only ever superseded, never
// removed.
type Cache struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string
}

func NewCache() *Cache {
	return &Cache{devices: make(map[string]*Device)}
}

// Put inserts or replaces the device record for dev.Location.
func (c *Cache) Put(dev *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.devices[dev.Location]; !ok {
		c.order = append(c.order, dev.Location)
	}
	c.devices[dev.Location] = dev
}

// Snapshot returns the cached devices in insertion order.
func (c *Cache) Snapshot() []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()

	devices := make([]*Device, 0, len(c.order))
	for _, loc := range c.order {
		devices = append(devices, c.devices[loc])
	}

	return devices
}

// Len returns the number of cached devices.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.devices)
}
