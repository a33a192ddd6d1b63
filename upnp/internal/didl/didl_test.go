package didl

import (
	"strings"
	"testing"
)

func TestVideoItem(t *testing.T) {
	out, err := VideoItem("Screen Share", "http-get:*:video/mp2t:*", "http://192.168.1.10:5000/stream.ts")
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"`,
		`<item id="0" parentID="-1" restricted="1">`,
		`<dc:title>Screen Share</dc:title>`,
		`<upnp:class>object.item.videoItem</upnp:class>`,
		`<res protocolInfo="http-get:*:video/mp2t:*">http://192.168.1.10:5000/stream.ts</res>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in:\n%s", want, out)
		}
	}
}

func TestVideoItemEscaping(t *testing.T) {
	out, err := VideoItem(`A & B <show>`, "http-get:*:video/mp2t:*", "http://host/s.ts?a=1&b=2")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, "A &amp; B &lt;show&gt;") {
		t.Errorf("title not escaped:\n%s", out)
	}
	if !strings.Contains(out, "a=1&amp;b=2") {
		t.Errorf("resource URL not escaped:\n%s", out)
	}
}
