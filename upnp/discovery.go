package upnp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"screenbeam/upnp/internal/ssdp"
)

// DefaultSearchTimeout is used by Stream when the context carries no
// deadline.
const DefaultSearchTimeout = 5 * time.Second

const descriptionTimeout = 3 * time.Second

// Discoverer scans the local network for UPnP renderers. Discovered
// devices are written into the shared Cache, which may be read
// concurrently by other goroutines; several Discover calls may run at
// once against the same cache.
type Discoverer struct {
	cache  *Cache
	logger *slog.Logger
	client *http.Client

	// search is swapped out in tests to feed synthetic responses.
	search func(timeout time.Duration, logger *slog.Logger, onResponse func(*ssdp.Response)) error
}

// NewDiscoverer returns a Discoverer writing into cache. A nil logger
// falls back to slog.Default.
func NewDiscoverer(cache *Cache, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Discoverer{
		cache:  cache,
		logger: logger,
		client: &http.Client{
			Timeout:   descriptionTimeout,
			Transport: noProxyTransport(),
		},
		search: ssdp.Search,
	}
}

// Discover multicasts SSDP search queries and collects unique devices
// until timeout elapses. onFound, if non-nil, is invoked synchronously
// once per newly confirmed device with the device and a snapshot of
// all devices found so far in this run; it must not block for long or
// it eats the scan's timing budget. Responses are deduplicated by
// location. On a socket failure the devices found so far are returned
// along with the error.
func (d *Discoverer) Discover(timeout time.Duration, onFound func(dev *Device, found []*Device)) ([]*Device, error) {
	seen := make(map[string]bool)
	var devices []*Device

	err := d.search(timeout, d.logger, func(resp *ssdp.Response) {
		if seen[resp.Location] {
			return
		}
		seen[resp.Location] = true

		dev := &Device{
			Name:     d.resolveName(resp),
			Location: resp.Location,
			Server:   resp.Server,
		}
		devices = append(devices, dev)
		if d.cache != nil {
			d.cache.Put(dev)
		}

		d.logger.Info("device found", "name", dev.Name, "location", dev.Location)

		if onFound != nil {
			onFound(dev, append([]*Device(nil), devices...))
		}
	})
	if err != nil {
		d.logger.Error("discovery aborted", "error", err, "found", len(devices))
	} else {
		d.logger.Info("discovery complete", "found", len(devices))
	}

	return devices, err
}

// Stream runs a scan on its own goroutine and delivers devices on the
// returned channel as they are confirmed, so the consumer drains them
// on its own schedule. The channel is closed when the scan finishes.
// The scan duration is the context deadline, or DefaultSearchTimeout
// without one.
func (d *Discoverer) Stream(ctx context.Context) <-chan *Device {
	timeout := DefaultSearchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	ch := make(chan *Device, 4)
	go func() {
		defer close(ch)

		d.Discover(timeout, func(dev *Device, _ []*Device) {
			select {
			case ch <- dev:
			case <-ctx.Done():
			}
		})
	}()

	return ch
}

// resolveName fetches the description document behind an SSDP response
// and extracts a display name. Failures are non-fatal: the device is
// still usable for control, so a placeholder name built from the
// sender's address is returned instead.
func (d *Discoverer) resolveName(resp *ssdp.Response) string {
	placeholder := "Device at " + resp.From.IP.String()

	desc, err := fetchDescription(d.client, resp.Location)
	if err != nil {
		d.logger.Debug("description fetch failed", "location", resp.Location, "error", err)
		return placeholder
	}

	if name := desc.name(); name != "" {
		return name
	}

	return placeholder
}
