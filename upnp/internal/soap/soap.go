// Package soap builds SOAP 1.1 request envelopes for invoking UPnP
// control actions.
package soap

import (
	"encoding/xml"
	"io"
	"strings"
	"text/template"
)

// Action identifies a control action within a service namespace.
type Action struct {
	Namespace string
	Name      string
}

// Header returns the value for the SOAPACTION request header.
func (a *Action) Header() string {
	return `"` + a.Namespace + "#" + a.Name + `"`
}

// Arg is a single named action argument. Arguments keep their order,
// as some renderers reject envelopes with reordered arguments.
type Arg struct {
	Name  string
	Value string
}

// Request is a control action invocation to be rendered as a SOAP
// envelope. Argument values are XML-escaped during rendering, so
// callers may pass raw URLs and metadata fragments.
type Request struct {
	Action *Action
	Args   []Arg
}

const requestTemplate = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:{{.Action.Name}} xmlns:u="{{.Action.Namespace}}">
    {{- range .Args }}
      <{{.Name}}>{{escape .Value}}</{{.Name}}>
    {{- end}}
    </u:{{.Action.Name}}>
  </s:Body>
</s:Envelope>
`

var requestTpl = template.Must(template.New("request").Funcs(template.FuncMap{
	"escape": func(s string) string {
		b := new(strings.Builder)
		err := xml.EscapeText(b, []byte(s))
		if err != nil {
			panic(err)
		}

		return b.String()
	},
}).Parse(requestTemplate))

// WriteTo renders the envelope to w.
func (req *Request) WriteTo(w io.Writer) error {
	return requestTpl.Execute(w, req)
}

// String renders the envelope as a string.
func (req *Request) String() string {
	b := new(strings.Builder)
	if err := req.WriteTo(b); err != nil {
		return ""
	}

	return b.String()
}
