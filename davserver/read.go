package davserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/item"
	"github.com/HYDPublic/SvnBridge/tfs"
)

func (h *Handler) serveOptions(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("DAV", "1,2")
	w.Header().Add("DAV", "version-control,checkout,working-resource")
	w.Header().Set("Allow", "OPTIONS,GET,HEAD,PROPFIND,PUT,DELETE,MKCOL,MKACTIVITY,PROPPATCH,MERGE,REPORT")
	w.Header().Set("content-type", "text/xml; charset=\"utf-8\"")
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n"+
		"<D:options-response xmlns:D=\"DAV:\">\n"+
		"<D:activity-collection-set><D:href>/!svn/act/</D:href></D:activity-collection-set>\n"+
		"</D:options-response>\n")
	return nil
}

// requestDeclaresCustomNamespace sniffs the request body for the
// custom-properties namespace declaration, switching the response envelope
// into extended-namespaces mode.
func requestDeclaresCustomNamespace(body []byte) bool {
	return strings.Contains(string(body), nsSvnCustom)
}

func (h *Handler) servePropfind(w http.ResponseWriter, r *http.Request) error {
	depth, err := parseDepth(r)
	if err != nil {
		return err
	}
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}

	body := make([]byte, 0)
	if r.Body != nil {
		buf := make([]byte, 64<<10)
		n, _ := r.Body.Read(buf)
		body = buf[:n]
	}

	revision := res.revision
	if revision < 0 {
		if revision, err = h.latestRevision(); err != nil {
			return err
		}
	}

	ms := &multiStatus{extended: requestDeclaresCustomNamespace(body)}

	switch res.kind {
	case resourceVCC:
		ms.addResponse("/!svn/vcc/default", []propValue{
			{name: "D:checked-in", value: fmt.Sprintf("<D:href>/!svn/bln/%d</D:href>", revision), raw: true},
		})
	case resourceBaseline:
		ms.addResponse(fmt.Sprintf("/!svn/bln/%d", res.revision), []propValue{
			{name: "D:baseline-collection", value: fmt.Sprintf("<D:href>/!svn/bc/%d/</D:href>", res.revision), raw: true},
			{name: "D:version-name", value: fmt.Sprintf("%d", res.revision)},
		})
	case resourcePlain, resourceBaselineCollection, resourceVersion:
		items, err := h.Meta.QueryItems(revision, res.path, depth)
		if err != nil {
			return errors.Wrapf(err, "listing %s at %d", res.path, revision)
		}
		if len(items) == 0 {
			return errNotFound(res.path)
		}
		for _, it := range items {
			ms.addResponse("/"+hrefEncode(clientPath(it.Name)), h.itemProps(it, revision))
		}
	default:
		return errMethodNotAllowed(r.Method)
	}

	w.Header().Set("content-type", "text/xml; charset=\"utf-8\"")
	w.WriteHeader(http.StatusMultiStatus)
	ms.write(w)
	return nil
}

func (h *Handler) itemProps(it *item.Item, revision int) []propValue {
	props := []propValue{
		{name: "D:version-name", value: fmt.Sprintf("%d", it.Revision())},
		{name: "D:checked-in",
			value: fmt.Sprintf("<D:href>/!svn/ver/%d/%s</D:href>", it.Revision(), hrefEncode(clientPath(it.Name))),
			raw:   true},
		{name: "V:baseline-relative-path", value: clientPath(it.Name)},
	}
	if it.Kind == item.Folder {
		props = append(props, propValue{name: "D:resourcetype", value: "<D:collection/>", raw: true})
	} else {
		props = append(props, propValue{name: "D:resourcetype", value: ""})
		props = append(props, propValue{name: "D:getcontentlength", value: fmt.Sprintf("%d", it.Size)})
	}
	if it.Author != "" {
		props = append(props, propValue{name: "D:creator-displayname", value: it.Author})
	}
	if !it.LastModified.IsZero() {
		props = append(props, propValue{name: "D:creationdate", value: it.LastModified.UTC().Format(time.RFC3339)})
	}
	return props
}

func (h *Handler) serveGet(w http.ResponseWriter, r *http.Request) error {
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}
	revision := res.revision
	if revision < 0 {
		if revision, err = h.latestRevision(); err != nil {
			return err
		}
	}
	items, err := h.Meta.QueryItems(revision, res.path, tfs.RecursionNone)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errNotFound(res.path)
	}
	it := items[0]
	if it.Kind == item.Folder {
		return h.serveFolderListing(w, it, revision)
	}
	src := it.Source()
	data, md5hex, err := h.Source.ReadFile(&src)
	if err != nil {
		return errors.Wrapf(err, "reading %s", it.Name)
	}
	w.Header().Set("content-type", "application/octet-stream")
	if md5hex != "" {
		w.Header().Set("ETag", fmt.Sprintf("\"%s\"", md5hex))
	}
	_, err = w.Write(data)
	return err
}

// serveFolderListing renders a minimal HTML index, the way browsers see a
// repository directory.
func (h *Handler) serveFolderListing(w http.ResponseWriter, folder *item.Item, revision int) error {
	children, err := h.Meta.QueryItems(revision, folder.Name, tfs.RecursionOneLevel)
	if err != nil {
		return err
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>Revision %d: /%s</title></head><body>\n",
		revision, svnbridge.EscapeXML(clientPath(folder.Name)))
	fmt.Fprintf(w, "<h2>Revision %d: /%s</h2>\n<ul>\n", revision, svnbridge.EscapeXML(clientPath(folder.Name)))
	for _, c := range children {
		if h.Policy.EqualPaths(c.Name, folder.Name) {
			continue
		}
		_, leaf := svnbridge.SplitPath(c.Name)
		suffix := ""
		if c.Kind == item.Folder {
			suffix = "/"
		}
		fmt.Fprintf(w, "<li><a href=\"/%s%s\">%s%s</a></li>\n",
			hrefEncode(clientPath(c.Name)), suffix, svnbridge.EscapeXML(leaf), suffix)
	}
	fmt.Fprintf(w, "</ul></body></html>\n")
	return nil
}
