// Package didl builds DIDL-Lite metadata fragments describing media
// items, as carried in AVTransport SetAVTransportURI requests.
package didl

import (
	"encoding/xml"
)

// Res represents a res element: one resource the item is available at.
type Res struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	URL          string `xml:",chardata"`
}

// Item represents an item element.
type Item struct {
	XMLName    xml.Name `xml:"item"`
	ID         string   `xml:"id,attr"`
	ParentID   string   `xml:"parentID,attr"`
	Restricted string   `xml:"restricted,attr"`
	Title      string   `xml:"dc:title"`
	Class      string   `xml:"upnp:class"`
	Res        Res      `xml:"res"`
}

// Document represents a DIDL-Lite document.
type Document struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	XMLNS   string   `xml:"xmlns,attr"`
	XMLNSDC string   `xml:"xmlns:dc,attr"`
	XMLNSUP string   `xml:"xmlns:upnp,attr"`
	Items   []Item   `xml:"item"`
}

// VideoItem renders a DIDL-Lite document describing a single video
// item available at mediaURL. The result is well-formed XML with all
// values escaped; it is embedded as an argument of a SOAP request and
// escaped a second time there.
func VideoItem(title, protocolInfo, mediaURL string) (string, error) {
	doc := &Document{
		XMLNS:   "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		XMLNSDC: "http://purl.org/dc/elements/1.1/",
		XMLNSUP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
		Items: []Item{
			{
				ID:         "0",
				ParentID:   "-1",
				Restricted: "1",
				Title:      title,
				Class:      "object.item.videoItem",
				Res: Res{
					ProtocolInfo: protocolInfo,
					URL:          mediaURL,
				},
			},
		},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}

	return string(out), nil
}
