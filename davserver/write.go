package davserver

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	svnbridge "github.com/HYDPublic/SvnBridge"
)

func (h *Handler) serveMkActivity(w http.ResponseWriter, r *http.Request) error {
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}
	if res.kind != resourceActivity {
		return errMethodNotAllowed(r.Method)
	}
	if _, err := uuid.Parse(res.activity); err != nil {
		return &davError{statusCode: http.StatusBadRequest,
			err: errors.Wrapf(err, "activity id %q", res.activity)}
	}
	if err := h.Source.MakeActivity(res.activity); err != nil {
		return &davError{statusCode: http.StatusConflict, err: err}
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Location", locationFor(r, "/!svn/act/"+res.activity))
	w.WriteHeader(http.StatusCreated)
	return nil
}

// locationFor synthesizes the Location echo from the request host.
func locationFor(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, path)
}

func (h *Handler) servePut(w http.ResponseWriter, r *http.Request) error {
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}
	if res.kind != resourceWorking {
		return errMethodNotAllowed(r.Method)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	// End-to-end hash guards. An absent header means the client skipped
	// the check.
	if base := r.Header.Get("X-SVN-Base-Fulltext-MD5"); base != "" {
		if existing, err := h.Source.GetItemInActivity(res.activity, res.path); err == nil && existing != nil {
			data, current, rerr := h.Source.ReadFile(existing)
			if rerr == nil {
				if current == "" {
					sum := md5.Sum(data)
					current = hex.EncodeToString(sum[:])
				}
				if !strings.EqualFold(base, current) {
					return errChecksumMismatch(res.path, base, current)
				}
			}
		}
	}
	if want := r.Header.Get("X-SVN-Result-Fulltext-MD5"); want != "" {
		sum := md5.Sum(body)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(want, got) {
			return errChecksumMismatch(res.path, want, got)
		}
	}

	created, err := h.Source.WriteFile(res.activity, res.path, body)
	if err != nil {
		return errors.Wrapf(err, "writing %s", res.path)
	}
	if created {
		w.Header().Set("Location", locationFor(r, "/"+hrefEncode(clientPath(res.path))))
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func (h *Handler) serveMkcol(w http.ResponseWriter, r *http.Request) error {
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}
	if res.kind != resourceWorking {
		return errMethodNotAllowed(r.Method)
	}
	if err := h.Source.MakeCollection(res.activity, res.path); err != nil {
		return &davError{statusCode: http.StatusConflict, err: err}
	}
	w.Header().Set("Location", locationFor(r, "/"+hrefEncode(clientPath(res.path))))
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *Handler) serveDelete(w http.ResponseWriter, r *http.Request) error {
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}
	switch res.kind {
	case resourceActivity:
		if err := h.Source.DeleteActivity(res.activity); err != nil {
			return errNotFound(res.activity)
		}
	case resourceWorking:
		if err := h.Source.DeleteItem(res.activity, res.path); err != nil {
			return errNotFound(res.path)
		}
	default:
		return errMethodNotAllowed(r.Method)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type proppatchReq struct {
	XMLName xml.Name        `xml:"propertyupdate"`
	Sets    []proppatchProp `xml:"set>prop"`
	Removes []proppatchProp `xml:"remove>prop"`
}

type proppatchProp struct {
	Inner []rawProp `xml:",any"`
}

type rawProp struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (h *Handler) serveProppatch(w http.ResponseWriter, r *http.Request) error {
	res, err := parseResource(r.URL.Path)
	if err != nil {
		return err
	}
	if res.kind != resourceWorking && res.kind != resourceWorkingBaseline {
		return errMethodNotAllowed(r.Method)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	var req proppatchReq
	if err := xml.Unmarshal(body, &req); err != nil {
		return &davError{statusCode: http.StatusBadRequest, err: err}
	}

	apply := func(p rawProp, remove bool) error {
		name := p.XMLName.Local
		// The commit message travels as the log property on the working
		// baseline.
		if name == "log" || res.kind == resourceWorkingBaseline {
			return h.Source.SetActivityComment(res.activity, svnbridge.UnescapeXML(p.Value))
		}
		if remove {
			return h.Source.RemoveProperty(res.activity, res.path, name)
		}
		return h.Source.SetProperty(res.activity, res.path, name, p.Value)
	}
	var applied []string
	for _, set := range req.Sets {
		for _, p := range set.Inner {
			if err := apply(p, false); err != nil {
				return errors.Wrapf(err, "setting %s", p.XMLName.Local)
			}
			applied = append(applied, p.XMLName.Local)
		}
	}
	for _, rm := range req.Removes {
		for _, p := range rm.Inner {
			if err := apply(p, true); err != nil {
				return errors.Wrapf(err, "removing %s", p.XMLName.Local)
			}
			applied = append(applied, p.XMLName.Local)
		}
	}

	ms := &multiStatus{extended: requestDeclaresCustomNamespace(body)}
	props := make([]propValue, 0, len(applied))
	for _, name := range applied {
		props = append(props, propValue{name: "S:" + name, value: ""})
	}
	ms.addResponse("/"+hrefEncode(clientPath(res.path)), props)
	w.Header().Set("content-type", "text/xml; charset=\"utf-8\"")
	w.WriteHeader(http.StatusMultiStatus)
	ms.write(w)
	return nil
}

type mergeReq struct {
	XMLName xml.Name `xml:"merge"`
	Href    string   `xml:"source>href"`
}

func (h *Handler) serveMerge(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	var req mergeReq
	if err := xml.Unmarshal(body, &req); err != nil {
		return &davError{statusCode: http.StatusBadRequest, err: err}
	}
	res, err := parseResource(strings.TrimSpace(req.Href))
	if err != nil || res.kind != resourceActivity {
		return &davError{statusCode: http.StatusBadRequest,
			err: errors.Errorf("merge source %q does not name an activity", req.Href)}
	}

	newRev, err := h.Source.Commit(res.activity)
	if err != nil {
		return &davError{statusCode: http.StatusConflict, err: err}
	}
	// A commit changes what every revision-less read would see.
	h.Meta.Clear()

	w.Header().Set("content-type", "text/xml; charset=\"utf-8\"")
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n"+
		"<D:merge-response xmlns:D=\"DAV:\">\n"+
		"<D:updated-set>\n"+
		"<D:response>\n"+
		"<D:href>/!svn/vcc/default</D:href>\n"+
		"<D:propstat><D:prop>\n"+
		"<D:resourcetype><D:baseline/></D:resourcetype>\n"+
		"<D:version-name>%d</D:version-name>\n"+
		"</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>\n"+
		"</D:response>\n"+
		"</D:updated-set>\n"+
		"</D:merge-response>\n", newRev)
	return nil
}
