package davserver

import (
	"net/http"
	"strconv"
	"strings"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/tfs"
)

// resourceKind classifies the URL shapes the client addresses.
type resourceKind int

const (
	resourcePlain resourceKind = iota
	resourceVCC                // /!svn/vcc/default
	resourceBaseline           // /!svn/bln/N
	resourceBaselineCollection // /!svn/bc/N/path
	resourceVersion            // /!svn/ver/N/path
	resourceActivity           // /!svn/act/uuid
	resourceWorking            // /!svn/wrk/uuid/path
	resourceWorkingBaseline    // /!svn/wbl/uuid/N
)

// resource is a parsed request URL.
type resource struct {
	kind     resourceKind
	revision int // -1 when the URL names no revision
	path     string
	activity string
}

// parseResource decodes a request URL path into the server-side resource
// it names. Plain paths map below the repository root sigil.
func parseResource(urlPath string) (*resource, error) {
	urlPath = svnbridge.DecodePercent(urlPath)
	urlPath = strings.TrimPrefix(urlPath, "/")

	if !strings.HasPrefix(urlPath, "!svn/") {
		return &resource{
			kind:     resourcePlain,
			revision: -1,
			path:     svnbridge.JoinPath(svnbridge.ServerRootPath, urlPath),
		}, nil
	}

	rest := strings.TrimPrefix(urlPath, "!svn/")
	seg := rest
	var tail string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		seg, tail = rest[:i], rest[i+1:]
	}

	switch seg {
	case "vcc":
		return &resource{kind: resourceVCC, revision: -1, path: svnbridge.ServerRootPath}, nil
	case "bln":
		rev, err := strconv.Atoi(tail)
		if err != nil {
			return nil, errUnsupportedPath("/" + urlPath)
		}
		return &resource{kind: resourceBaseline, revision: rev, path: svnbridge.ServerRootPath}, nil
	case "bc", "ver":
		revStr := tail
		var below string
		if i := strings.IndexByte(tail, '/'); i >= 0 {
			revStr, below = tail[:i], tail[i+1:]
		}
		rev, err := strconv.Atoi(revStr)
		if err != nil {
			return nil, errUnsupportedPath("/" + urlPath)
		}
		kind := resourceBaselineCollection
		if seg == "ver" {
			kind = resourceVersion
		}
		return &resource{
			kind:     kind,
			revision: rev,
			path:     svnbridge.JoinPath(svnbridge.ServerRootPath, below),
		}, nil
	case "act":
		return &resource{kind: resourceActivity, revision: -1, activity: tail}, nil
	case "wrk":
		act := tail
		var below string
		if i := strings.IndexByte(tail, '/'); i >= 0 {
			act, below = tail[:i], tail[i+1:]
		}
		return &resource{
			kind:     resourceWorking,
			revision: -1,
			activity: act,
			path:     svnbridge.JoinPath(svnbridge.ServerRootPath, below),
		}, nil
	case "wbl":
		act := tail
		rev := -1
		if i := strings.IndexByte(tail, '/'); i >= 0 {
			act = tail[:i]
			if n, err := strconv.Atoi(tail[i+1:]); err == nil {
				rev = n
			}
		}
		return &resource{kind: resourceWorkingBaseline, revision: rev, activity: act}, nil
	}
	return nil, errUnsupportedPath("/" + urlPath)
}

// parseDepth maps the Depth header onto a recursion mode. Only the three
// protocol tokens are recognized.
func parseDepth(r *http.Request) (tfs.RecursionType, error) {
	switch d := r.Header.Get("Depth"); d {
	case "", "0":
		return tfs.RecursionNone, nil
	case "1":
		return tfs.RecursionOneLevel, nil
	case "infinity":
		return tfs.RecursionFull, nil
	default:
		return tfs.RecursionNone, errUnsupportedDepth(d)
	}
}

// latestRevision asks upstream for the newest changeset by probing the
// repository root.
func (h *Handler) latestRevision() (int, error) {
	items, err := h.Source.QueryItems(svnbridge.ServerRootPath, tfs.RecursionNone, tfs.LatestVersion(), tfs.NonDeleted, tfs.ItemAny)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, errNotFound(svnbridge.ServerRootPath)
	}
	return items[0].RemoteChangesetID, nil
}

// hrefEncode prepares a server path for embedding in a D:href element:
// percent-encoding first, then XML entity escaping.
func hrefEncode(path string) string {
	return svnbridge.EscapeXML(svnbridge.EncodePercent(path))
}

// clientPath strips the root sigil for URLs echoed back to the client.
func clientPath(serverPath string) string {
	p := strings.TrimPrefix(serverPath, svnbridge.ServerRootPath)
	p = strings.TrimPrefix(p, svnbridge.ServerRootSigil)
	return strings.TrimPrefix(p, "/")
}
