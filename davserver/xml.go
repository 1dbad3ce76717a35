package davserver

import (
	"fmt"
	"io"
	"strings"

	svnbridge "github.com/HYDPublic/SvnBridge"
)

// The namespace triple every multi-status envelope declares, plus the
// custom-properties namespace added in extended mode.
const (
	nsDav       = "DAV:"
	nsSvn       = "http://subversion.tigris.org/xmlns/svn/"
	nsSvnDav    = "http://subversion.tigris.org/xmlns/dav/"
	nsSvnCustom = "http://subversion.tigris.org/xmlns/custom/"
)

// multiStatus accumulates response elements for a 207 envelope.
type multiStatus struct {
	extended  bool // declare the custom-properties namespace
	responses []string
}

// addResponse appends one D:response with a propstat for the found props.
func (m *multiStatus) addResponse(href string, props []propValue) {
	var b strings.Builder
	fmt.Fprintf(&b, "<D:response>\n<D:href>%s</D:href>\n<D:propstat>\n<D:prop>\n", href)
	for _, p := range props {
		if p.raw {
			fmt.Fprintf(&b, "<%s>%s</%s>\n", p.name, p.value, p.name)
		} else {
			fmt.Fprintf(&b, "<%s>%s</%s>\n", p.name, svnbridge.EscapeXML(p.value), p.name)
		}
	}
	b.WriteString("</D:prop>\n<D:status>HTTP/1.1 200 OK</D:status>\n</D:propstat>\n</D:response>\n")
	m.responses = append(m.responses, b.String())
}

type propValue struct {
	name  string
	value string
	raw   bool // value is pre-built XML, not text
}

// write emits the whole envelope.
func (m *multiStatus) write(w io.Writer) {
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	fmt.Fprintf(w, "<D:multistatus xmlns:D=\"%s\" xmlns:S=\"%s\" xmlns:V=\"%s\"", nsDav, nsSvn, nsSvnDav)
	if m.extended {
		fmt.Fprintf(w, " xmlns:C=\"%s\"", nsSvnCustom)
	}
	fmt.Fprintf(w, ">\n")
	for _, r := range m.responses {
		io.WriteString(w, r)
	}
	fmt.Fprintf(w, "</D:multistatus>\n")
}
