package upnp

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"screenbeam/upnp/internal/didl"
	"screenbeam/upnp/internal/soap"
)

const (
	// AVTransportURN is the versioned service URN used in SOAP action
	// headers and envelope namespaces.
	AVTransportURN = "urn:schemas-upnp-org:service:AVTransport:1"

	// avTransportPrefix matches any AVTransport service version in a
	// description document's service list.
	avTransportPrefix = "urn:schemas-upnp-org:service:AVTransport"

	controlTimeout = 10 * time.Second
	resolveTimeout = 5 * time.Second
)

// Protocol info strings advertised in DIDL-Lite metadata, chosen by
// the stream URL's extension.
const (
	protocolInfoMPEGTS = "http-get:*:video/mp2t:*"
	protocolInfoHLS    = "http-get:*:application/vnd.apple.mpegurl:*"
)

// streamTitle is the media title shown by renderers in their overlay.
const streamTitle = "Screen Share"

// ControlPoint drives playback on one renderer via AVTransport SOAP
// actions. The control endpoint is resolved once, at construction,
// from the device description document; if resolution fails, every
// action returns false without attempting network I/O.
type ControlPoint struct {
	location string
	endpoint *url.URL
	logger   *slog.Logger
	client   *http.Client
}

// NewControlPoint resolves the AVTransport control endpoint of the
// device described at location. Resolution failure is not an error at
// construction time; it surfaces as failed actions.
func NewControlPoint(location string, logger *slog.Logger) *ControlPoint {
	if logger == nil {
		logger = slog.Default()
	}

	cp := &ControlPoint{
		location: location,
		logger:   logger,
		client: &http.Client{
			Timeout:   controlTimeout,
			Transport: noProxyTransport(),
		},
	}
	cp.resolve()

	return cp
}

// resolve locates the controlURL nested under the AVTransport service
// block and makes it absolute against the description document's own
// URL. Taking the first controlURL in the document would be wrong: a
// device exposes several services and ConnectionManager usually comes
// first.
func (cp *ControlPoint) resolve() {
	client := &http.Client{Timeout: resolveTimeout, Transport: noProxyTransport()}

	desc, err := fetchDescription(client, cp.location)
	if err != nil {
		cp.logger.Error("description fetch failed", "location", cp.location, "error", err)
		return
	}

	path, ok := desc.controlURL(avTransportPrefix)
	if !ok {
		cp.logger.Error("no AVTransport control URL in description", "location", cp.location)
		return
	}

	base, err := url.Parse(cp.location)
	if err != nil {
		cp.logger.Error("invalid description location", "location", cp.location, "error", err)
		return
	}
	ref, err := url.Parse(path)
	if err != nil {
		cp.logger.Error("invalid control URL", "controlURL", path, "error", err)
		return
	}

	cp.endpoint = base.ResolveReference(ref)
	cp.logger.Info("control endpoint resolved", "endpoint", cp.endpoint)
}

// Endpoint returns the resolved control endpoint, or nil if
// resolution failed.
func (cp *ControlPoint) Endpoint() *url.URL {
	return cp.endpoint
}

// SetAVTransportURI tells the renderer where to pull the media from,
// with DIDL-Lite metadata describing one video item. The protocol
// info is inferred from the URL's extension: a transport-stream
// suffix selects MPEG-TS, anything else the Apple playlist type.
func (cp *ControlPoint) SetAVTransportURI(mediaURL string) bool {
	protocolInfo := protocolInfoHLS
	if strings.HasSuffix(mediaURL, ".ts") {
		protocolInfo = protocolInfoMPEGTS
	}

	metadata, err := didl.VideoItem(streamTitle, protocolInfo, mediaURL)
	if err != nil {
		cp.logger.Error("building metadata failed", "error", err)
		return false
	}

	return cp.invoke("SetAVTransportURI", []soap.Arg{
		{Name: "CurrentURI", Value: mediaURL},
		{Name: "CurrentURIMetaData", Value: metadata},
	})
}

// Play starts playback at normal speed.
func (cp *ControlPoint) Play() bool {
	return cp.invoke("Play", []soap.Arg{{Name: "Speed", Value: "1"}})
}

// Stop halts playback.
func (cp *ControlPoint) Stop() bool {
	return cp.invoke("Stop", nil)
}

// invoke posts a SOAP envelope for the named action to the control
// endpoint. Success is a 2xx response; transport errors and other
// statuses are logged and reported as false, never propagated.
func (cp *ControlPoint) invoke(action string, args []soap.Arg) bool {
	if cp.endpoint == nil {
		cp.logger.Warn("no control endpoint, action dropped", "action", action)
		return false
	}

	soapReq := &soap.Request{
		Action: &soap.Action{Namespace: AVTransportURN, Name: action},
		Args:   append([]soap.Arg{{Name: "InstanceID", Value: "0"}}, args...),
	}

	req, err := http.NewRequest(http.MethodPost, cp.endpoint.String(), strings.NewReader(soapReq.String()))
	if err != nil {
		cp.logger.Error("building control request failed", "action", action, "error", err)
		return false
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", soapReq.Action.Header())

	resp, err := cp.client.Do(req)
	if err != nil {
		cp.logger.Error("control action failed", "action", action, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cp.logger.Error("control action rejected", "action", action, "status", resp.StatusCode)
		return false
	}

	cp.logger.Info("control action ok", "action", action)

	return true
}
