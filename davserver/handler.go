// Package davserver serves the WebDAV versioning dialect over the bridge
// core: the metadata cache answers listings, the update engine computes
// diffs, and the item loader prefetches file content while reports stream.
package davserver

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rcrowley/go-metrics"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/cache"
	"github.com/HYDPublic/SvnBridge/loader"
	"github.com/HYDPublic/SvnBridge/tfs"
)

// Config assembles the collaborators a Handler needs. Everything is
// constructed in main and threaded through; the handler owns no hidden
// state.
type Config struct {
	Source   tfs.SourceControl
	Meta     *cache.MetaCache
	Policy   svnbridge.CasePolicy
	Loader   loader.Config
	Log      *log.Logger
	DebugLog *log.Logger
	Registry metrics.Registry

	// InformativeErrors reports internal error messages to HTTP clients.
	// Leave off on publicly reachable servers.
	InformativeErrors bool
}

// Handler is the HTTP face of the bridge.
type Handler struct {
	Config
	router *mux.Router

	requests metrics.Counter
	errors   metrics.Counter
}

// NewHandler wires the route table to the request methods.
func NewHandler(c Config) *Handler {
	if c.Log == nil {
		c.Log = log.New(io.Discard, "", 0)
	}
	if c.DebugLog == nil {
		c.DebugLog = log.New(io.Discard, "", 0)
	}
	h := &Handler{
		Config:   c,
		requests: metrics.NewRegisteredCounter("davserver.requests", c.Registry),
		errors:   metrics.NewRegisteredCounter("davserver.errors", c.Registry),
	}
	r := NewRouter(nil)
	r.Get(RouteStats).Handler(h.handler(h.serveStats))
	r.Get(RouteOptions).Handler(h.handler(h.serveOptions))
	r.Get(RoutePropfind).Handler(h.handler(h.servePropfind))
	r.Get(RouteReport).Handler(h.handler(h.serveReport))
	r.Get(RouteGet).Handler(h.handler(h.serveGet))
	r.Get(RoutePut).Handler(h.handler(h.servePut))
	r.Get(RouteMkActivity).Handler(h.handler(h.serveMkActivity))
	r.Get(RouteMkcol).Handler(h.handler(h.serveMkcol))
	r.Get(RouteDelete).Handler(h.handler(h.serveDelete))
	r.Get(RouteProppatch).Handler(h.handler(h.serveProppatch))
	r.Get(RouteMerge).Handler(h.handler(h.serveMerge))
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handler wraps f to handle errors it returns. Errors after f has written
// a status or body cannot be reported; they are logged and the response
// body simply ends where f stopped.
func (h *Handler) handler(f handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Inc(1)
		rw := newRecorder(w)
		err := f(rw, r)
		if err != nil {
			h.errors.Inc(1)
			c := errorHTTPStatusCode(err)
			h.Log.Printf("HTTP %d error serving %s %q: %s.", c, r.Method, r.URL.RequestURI(), err)
			if rw.Code == 0 {
				writeErrorEnvelope(w, err, c, h.InformativeErrors)
			}
		}
	})
}

// responseRecorder records the HTTP status code and body length of the
// underlying ResponseWriter.
type responseRecorder struct {
	Code       int
	BodyLength int

	underlying http.ResponseWriter
}

func newRecorder(underlying http.ResponseWriter) *responseRecorder {
	return &responseRecorder{underlying: underlying}
}

func (rw *responseRecorder) Header() http.Header {
	return rw.underlying.Header()
}

func (rw *responseRecorder) Write(buf []byte) (int, error) {
	rw.BodyLength += len(buf)
	if rw.Code == 0 {
		rw.Code = http.StatusOK
	}
	return rw.underlying.Write(buf)
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.Code = code
	rw.underlying.WriteHeader(code)
}

func (rw *responseRecorder) Flush() {
	if f, ok := rw.underlying.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements net/http.Hijacker.
func (rw *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return rw.underlying.(http.Hijacker).Hijack()
}

// writeJSON writes a JSON Content-Type header and a JSON-encoded object.
func writeJSON(w http.ResponseWriter, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &davError{statusCode: http.StatusInternalServerError, err: err}
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	_, err = w.Write(data)
	return err
}
