// Package ssdp implements the client side of Simple Service Discovery
// Protocol: multicast M-SEARCH queries and unicast response collection.
package ssdp

import (
	"bufio"
	"bytes"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	MulticastIPv4Addr = "239.255.255.250:1900"
	MTU               = 8192

	// Spacing between successive M-SEARCH sends. Constrained renderer
	// network stacks drop back-to-back datagrams.
	sendSpacing = 100 * time.Millisecond

	// Each read polls with a short deadline so the wall-clock timeout
	// is honoured regardless of response volume.
	readInterval = 2 * time.Second
)

// SearchTargets lists the ST values queried during a scan. Renderers
// answer an inconsistent subset of these, so all four are sent.
var SearchTargets = []string{
	"ssdp:all",
	"upnp:rootdevice",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"urn:schemas-upnp-org:service:AVTransport:1",
}

// Response is one SSDP reply to an M-SEARCH query.
type Response struct {
	// Location is the URL of the device description document.
	Location string
	// Server is the advertisement banner, or "Unknown" if absent.
	Server string
	// From is the address the reply was received from.
	From *net.UDPAddr
}

// Search multicasts M-SEARCH queries for every entry in SearchTargets
// and invokes onResponse for each reply that carries a LOCATION header,
// until timeout elapses. Replies without a location and datagrams that
// do not parse as HTTP responses are discarded. Search returns early
// only on a socket failure; responses seen up to that point have
// already been delivered.
func Search(timeout time.Duration, logger *slog.Logger, onResponse func(*Response)) error {
	if logger == nil {
		logger = slog.Default()
	}

	raddr, err := net.ResolveUDPAddr("udp4", MulticastIPv4Addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadBuffer(MTU)

	mx := int(timeout.Seconds())
	if mx < 1 {
		mx = 1
	}

	for _, st := range SearchTargets {
		req := &http.Request{
			Method: "M-SEARCH",
			URL:    &url.URL{Opaque: "*"},
			Host:   MulticastIPv4Addr,
			Header: http.Header{
				"MAN": []string{`"ssdp:discover"`},
				"MX":  []string{strconv.Itoa(mx)},
				"ST":  []string{st},
			},
		}

		buf := new(bytes.Buffer)
		req.Write(buf)

		if _, err := conn.WriteTo(buf.Bytes(), raddr); err != nil {
			return err
		}

		time.Sleep(sendSpacing)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, MTU)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > readInterval {
			remaining = readInterval
		}
		conn.SetReadDeadline(time.Now().Add(remaining))

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if err, ok := err.(net.Error); ok && err.Timeout() {
				continue
			}

			return err
		}

		resp, ok := parseResponse(buf[:n], from)
		if !ok {
			logger.Debug("discarding unparseable datagram", "from", from)
			continue
		}

		onResponse(resp)
	}
}

// parseResponse decodes one datagram as an HTTP response and extracts
// the LOCATION and SERVER headers. Header lookup via net/http is
// case-insensitive by construction. A reply without a location is not
// a usable discovery result and is rejected.
func parseResponse(datagram []byte, from *net.UDPAddr) (*Response, bool) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(datagram)), nil)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, false
	}

	server := resp.Header.Get("Server")
	if server == "" {
		server = "Unknown"
	}

	return &Response{Location: loc, Server: server, From: from}, true
}
