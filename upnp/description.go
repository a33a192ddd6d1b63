package upnp

import (
	"encoding/xml"
	"net/http"
	"strings"
)

// description mirrors the parts of a UPnP device description document
// this package cares about: naming and the service list, including
// services of embedded devices.
type description struct {
	XMLName xml.Name          `xml:"root"`
	Device  descriptionDevice `xml:"device"`
}

type descriptionDevice struct {
	FriendlyName string               `xml:"friendlyName"`
	ModelName    string               `xml:"modelName"`
	Services     []descriptionService `xml:"serviceList>service"`
	Devices      []descriptionDevice  `xml:"deviceList>device"`
}

type descriptionService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

// name returns the friendly name, falling back to the model name.
func (d *description) name() string {
	if n := strings.TrimSpace(d.Device.FriendlyName); n != "" {
		return n
	}

	return strings.TrimSpace(d.Device.ModelName)
}

// controlURL walks the device tree and returns the control URL of the
// first service whose type matches the given URN prefix. Devices
// expose several services; matching by prefix keeps the version suffix
// out of the comparison.
func (d *description) controlURL(urnPrefix string) (string, bool) {
	return d.Device.controlURL(urnPrefix)
}

func (d *descriptionDevice) controlURL(urnPrefix string) (string, bool) {
	for _, svc := range d.Services {
		if strings.HasPrefix(svc.ServiceType, urnPrefix) {
			return svc.ControlURL, true
		}
	}
	for _, sub := range d.Devices {
		if u, ok := sub.controlURL(urnPrefix); ok {
			return u, true
		}
	}

	return "", false
}

// fetchDescription retrieves and parses the description document at
// location using the given client.
func fetchDescription(client *http.Client, location string) (*description, error) {
	resp, err := client.Get(location)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	desc := new(description)
	if err := xml.NewDecoder(resp.Body).Decode(desc); err != nil {
		return nil, err
	}

	return desc, nil
}

// noProxyTransport returns a transport that bypasses any configured
// HTTP proxy. Description fetches and control actions always target
// the local subnet, where a proxy would break or misroute them.
func noProxyTransport() *http.Transport {
	return &http.Transport{Proxy: nil}
}
