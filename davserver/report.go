package davserver

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/item"
	"github.com/HYDPublic/SvnBridge/loader"
	"github.com/HYDPublic/SvnBridge/update"
)

// robTimeout bounds each consumer-side wait for one file's content.
const robTimeout = 30 * time.Minute

type updateReportReq struct {
	XMLName        xml.Name      `xml:"update-report"`
	SrcPath        string        `xml:"src-path"`
	TargetRevision string        `xml:"target-revision"`
	UpdateTarget   string        `xml:"update-target"`
	Entries        []reportEntry `xml:"entry"`
	Missing        []string      `xml:"missing"`
}

type reportEntry struct {
	Rev        int    `xml:"rev,attr"`
	StartEmpty bool   `xml:"start-empty,attr"`
	Path       string `xml:",chardata"`
}

func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	var req updateReportReq
	if err := xml.Unmarshal(body, &req); err != nil || req.XMLName.Local != "update-report" {
		return &davError{statusCode: http.StatusNotImplemented,
			err: errors.New("unsupported report body")}
	}

	checkoutRoot, err := checkoutRootFromSrc(req.SrcPath, req.UpdateTarget)
	if err != nil {
		return err
	}

	target := -1
	if req.TargetRevision != "" {
		target, err = strconv.Atoi(req.TargetRevision)
		if err != nil {
			return &davError{statusCode: http.StatusBadRequest,
				err: errors.Errorf("bad target-revision %q", req.TargetRevision)}
		}
	}
	if target < 0 {
		if target, err = h.latestRevision(); err != nil {
			return err
		}
	}

	// The client's state vector: reported entries and locally-missing
	// paths, all rooted below the checkout path.
	state := update.NewClientState(h.Policy)
	fromRev := -1
	for _, e := range req.Entries {
		p := checkoutRoot
		if e.Path != "" {
			p = svnbridge.JoinPath(checkoutRoot, svnbridge.DecodePercent(e.Path))
		}
		if !e.StartEmpty {
			state.AddExisting(p, e.Rev)
		}
		if e.Path == "" && (fromRev < 0 || e.Rev < fromRev) {
			fromRev = e.Rev
		}
	}
	for _, m := range req.Missing {
		state.AddMissing(svnbridge.JoinPath(checkoutRoot, svnbridge.DecodePercent(m)), "")
	}
	if fromRev < 0 {
		fromRev = 0
	}

	forward := target >= fromRev
	lo, hi := fromRev, target
	if !forward {
		lo, hi = target, fromRev
	}
	changesets, err := h.Source.QueryHistory(checkoutRoot, lo, hi)
	if err != nil {
		return errors.Wrap(err, "querying history")
	}

	engine := update.NewEngine(item.NewFolder(checkoutRoot), target, state, h.Meta, h.Source, h.Policy, h.DebugLog)
	if err := engine.Replay(changesets, forward); err != nil {
		return err
	}
	if err := engine.Finalize(); err != nil {
		return err
	}

	// Prefetch runs behind the stream; cancel reclaims it on any exit.
	ld := loader.New(h.fetcher(), engine.Root(), h.Loader, h.DebugLog, h.Registry)
	loaderDone := make(chan error, 1)
	go func() { loaderDone <- ld.Start() }()
	defer func() {
		ld.Cancel()
		<-loaderDone
	}()

	w.Header().Set("content-type", "text/xml; charset=\"utf-8\"")
	g := &reportGen{
		w:       w,
		ld:      ld,
		state:   state,
		policy:  h.Policy,
		fromRev: fromRev,
		target:  target,
	}
	return g.run(engine.Root())
}

// checkoutRootFromSrc maps the client's src-path URL onto the server path
// the working copy is rooted at.
func checkoutRootFromSrc(src, updateTarget string) (string, error) {
	if src == "" {
		return "", &davError{statusCode: http.StatusBadRequest,
			err: errors.New("update-report without src-path")}
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", &davError{statusCode: http.StatusBadRequest,
			err: errors.Wrapf(err, "bad src-path %q", src)}
	}
	root := svnbridge.JoinPath(svnbridge.ServerRootPath, svnbridge.DecodePercent(u.Path))
	if updateTarget != "" {
		root = svnbridge.JoinPath(root, svnbridge.DecodePercent(updateTarget))
	}
	return root, nil
}

// fetcher adapts the upstream download call for the loader.
func (h *Handler) fetcher() loader.Fetcher {
	return loader.FetcherFunc(func(it *item.Item) ([]byte, string, error) {
		src := it.Source()
		return h.Source.ReadFile(&src)
	})
}

// reportGen walks the finalized operation tree in child order and streams
// the update-report body. Stubs never reach it.
type reportGen struct {
	w       io.Writer
	ld      *loader.Loader
	state   *update.ClientState
	policy  svnbridge.CasePolicy
	fromRev int
	target  int
}

func (g *reportGen) run(root *item.Item) error {
	fmt.Fprintf(g.w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	fmt.Fprintf(g.w, "<S:update-report xmlns:S=\"svn:\" xmlns:V=\"%s\" xmlns:D=\"DAV:\" send-all=\"true\">\n",
		nsSvnDav)
	fmt.Fprintf(g.w, "<S:target-revision rev=\"%d\"/>\n", g.target)

	fmt.Fprintf(g.w, "<S:open-directory rev=\"%d\">\n", g.fromRev)
	g.emitVersionProps(root)
	if err := g.children(root); err != nil {
		return err
	}
	fmt.Fprintf(g.w, "</S:open-directory>\n")
	fmt.Fprintf(g.w, "</S:update-report>\n")

	if f, ok := g.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (g *reportGen) children(folder *item.Item) error {
	for _, child := range folder.Children {
		if err := g.entry(child); err != nil {
			return err
		}
	}
	return nil
}

func (g *reportGen) entry(it *item.Item) error {
	_, leaf := svnbridge.SplitPath(it.Name)
	name := svnbridge.EscapeXML(leaf)

	switch it.Kind {
	case item.DeleteFile, item.DeleteFolder:
		fmt.Fprintf(g.w, "<S:delete-entry name=\"%s\"/>\n", name)
		return nil

	case item.Missing:
		// A path that cannot be materialized at the target produces no
		// entry; the client's report already accounts for it.
		return nil

	case item.StubFolder:
		return errors.Wrap(update.ErrStubSurvived, it.Name)

	case item.Folder:
		elem := "S:add-directory"
		if g.state.HasAtLeast(it.Name, it.ItemRevision) && !it.OriginallyDeleted {
			elem = "S:open-directory"
			fmt.Fprintf(g.w, "<%s name=\"%s\" rev=\"%d\">\n", elem, name, g.fromRev)
		} else {
			fmt.Fprintf(g.w, "<%s name=\"%s\">\n", elem, name)
		}
		g.emitVersionProps(it)
		if err := g.children(it); err != nil {
			return err
		}
		fmt.Fprintf(g.w, "</%s>\n", elem)
		return nil

	case item.File:
		elem := "S:add-file"
		if it.Edit || (g.state.HasAtLeast(it.Name, it.ItemRevision) && !it.OriginallyDeleted) {
			elem = "S:open-file"
			fmt.Fprintf(g.w, "<%s name=\"%s\" rev=\"%d\">\n", elem, name, g.fromRev)
		} else {
			fmt.Fprintf(g.w, "<%s name=\"%s\">\n", elem, name)
		}
		g.emitVersionProps(it)

		data, md5hex, ok := g.ld.TryRob(it, robTimeout)
		if !ok {
			return errors.Errorf("no content for %s within the wait budget", it.Name)
		}
		fmt.Fprintf(g.w, "<S:txdelta>%s</S:txdelta>\n",
			base64.StdEncoding.EncodeToString(svndiff0(data)))
		if md5hex != "" {
			fmt.Fprintf(g.w, "<S:prop><V:md5-checksum>%s</V:md5-checksum></S:prop>\n", md5hex)
		}
		fmt.Fprintf(g.w, "</%s>\n", elem)

		if f, ok := g.w.(http.Flusher); ok {
			f.Flush()
		}
		return nil
	}
	return nil
}

// emitVersionProps writes the standard entry props: checked-in href,
// version name, author, and date.
func (g *reportGen) emitVersionProps(it *item.Item) {
	rev := it.Revision()
	fmt.Fprintf(g.w, "<D:checked-in><D:href>/!svn/ver/%d/%s</D:href></D:checked-in>\n",
		rev, hrefEncode(clientPath(it.Name)))
	fmt.Fprintf(g.w, "<S:set-prop name=\"svn:entry:committed-rev\">%d</S:set-prop>\n", rev)
	if !it.LastModified.IsZero() {
		fmt.Fprintf(g.w, "<S:set-prop name=\"svn:entry:committed-date\">%s</S:set-prop>\n",
			it.LastModified.UTC().Format(time.RFC3339Nano))
	}
	if it.Author != "" {
		fmt.Fprintf(g.w, "<S:set-prop name=\"svn:entry:last-author\">%s</S:set-prop>\n",
			svnbridge.EscapeXML(it.Author))
	}
	for k, v := range it.Properties {
		fmt.Fprintf(g.w, "<S:set-prop name=\"%s\">%s</S:set-prop>\n",
			svnbridge.EscapeXML(k), svnbridge.EscapeXML(v))
	}
}
