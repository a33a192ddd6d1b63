package upnp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// renderer fakes a device: serves the description document at /desc.xml
// and records SOAP posts to /avt/control.
type renderer struct {
	srv      *httptest.Server
	requests atomic.Int64

	lastAction string
	lastBody   string
}

func newRenderer(t *testing.T) *renderer {
	t.Helper()

	r := new(renderer)
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)

		switch req.URL.Path {
		case "/desc.xml":
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(descriptionDoc))
		case "/avt/control":
			body, _ := io.ReadAll(req.Body)
			r.lastAction = req.Header.Get("SOAPAction")
			r.lastBody = string(body)
			w.Write([]byte("<ok/>"))
		default:
			http.NotFound(w, req)
		}
	}))
	t.Cleanup(r.srv.Close)

	return r
}

func TestControlPointResolvesAVTransportEndpoint(t *testing.T) {
	r := newRenderer(t)

	cp := NewControlPoint(r.srv.URL+"/desc.xml", quietLogger())
	if cp.Endpoint() == nil {
		t.Fatal("endpoint not resolved")
	}

	// The document's first controlURL belongs to ConnectionManager;
	// the AVTransport one must be selected instead.
	if got, want := cp.Endpoint().String(), r.srv.URL+"/avt/control"; got != want {
		t.Errorf("endpoint = %s, want %s", got, want)
	}
}

func TestControlPointUnresolvedActionsNoOp(t *testing.T) {
	r := newRenderer(t)

	// Point at a URL whose description has no AVTransport service.
	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`<root><device><friendlyName>x</friendlyName></device></root>`))
	}))
	defer bare.Close()

	cp := NewControlPoint(bare.URL, quietLogger())
	if cp.Endpoint() != nil {
		t.Fatal("endpoint should be unresolved")
	}

	before := r.requests.Load()
	if cp.SetAVTransportURI("http://host/stream.m3u8") {
		t.Error("SetAVTransportURI should fail without endpoint")
	}
	if cp.Play() {
		t.Error("Play should fail without endpoint")
	}
	if cp.Stop() {
		t.Error("Stop should fail without endpoint")
	}
	if r.requests.Load() != before {
		t.Error("actions without an endpoint must not perform network I/O")
	}
}

func TestPlayEnvelope(t *testing.T) {
	r := newRenderer(t)
	cp := NewControlPoint(r.srv.URL+"/desc.xml", quietLogger())

	if !cp.Play() {
		t.Fatal("Play failed")
	}

	if r.lastAction != `"urn:schemas-upnp-org:service:AVTransport:1#Play"` {
		t.Errorf("unexpected SOAPAction: %s", r.lastAction)
	}
	if strings.Count(r.lastBody, "<Speed>1</Speed>") != 1 {
		t.Errorf("expected exactly one Speed argument:\n%s", r.lastBody)
	}
	if !strings.Contains(r.lastBody, "<InstanceID>0</InstanceID>") {
		t.Errorf("expected InstanceID 0:\n%s", r.lastBody)
	}
	start := strings.Index(r.lastBody, "<u:Play")
	end := strings.Index(r.lastBody, "</u:Play>")
	speed := strings.Index(r.lastBody, "<Speed>")
	if speed < start || speed > end {
		t.Errorf("Speed not nested under u:Play:\n%s", r.lastBody)
	}
}

func TestStopEnvelope(t *testing.T) {
	r := newRenderer(t)
	cp := NewControlPoint(r.srv.URL+"/desc.xml", quietLogger())

	if !cp.Stop() {
		t.Fatal("Stop failed")
	}
	if r.lastAction != `"urn:schemas-upnp-org:service:AVTransport:1#Stop"` {
		t.Errorf("unexpected SOAPAction: %s", r.lastAction)
	}
}

func TestSetAVTransportURIProtocolInfo(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"http://host/stream.ts", "http-get:*:video/mp2t:*"},
		{"http://host/stream.m3u8", "http-get:*:application/vnd.apple.mpegurl:*"},
	}

	for _, tc := range cases {
		r := newRenderer(t)
		cp := NewControlPoint(r.srv.URL+"/desc.xml", quietLogger())

		if !cp.SetAVTransportURI(tc.url) {
			t.Fatalf("SetAVTransportURI(%s) failed", tc.url)
		}

		// Protocol info carries no XML metacharacters, so it shows up
		// verbatim even inside the escaped metadata argument.
		if !strings.Contains(r.lastBody, tc.want) {
			t.Errorf("envelope for %s missing protocol info %s:\n%s", tc.url, tc.want, r.lastBody)
		}
		if !strings.Contains(r.lastBody, "<CurrentURI>"+tc.url+"</CurrentURI>") {
			t.Errorf("envelope missing CurrentURI:\n%s", r.lastBody)
		}
	}
}

func TestControlActionFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/desc.xml" {
			w.Write([]byte(descriptionDoc))
			return
		}
		http.Error(w, "upnp error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cp := NewControlPoint(srv.URL+"/desc.xml", quietLogger())
	if cp.Play() {
		t.Error("non-2xx response must report failure")
	}
}
