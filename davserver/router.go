package davserver

import "github.com/gorilla/mux"

const (
	// Route names.
	RouteStats      = "svnbridge:stats"
	RouteOptions    = "svnbridge:options"
	RoutePropfind   = "svnbridge:propfind"
	RouteReport     = "svnbridge:report"
	RouteGet        = "svnbridge:get"
	RoutePut        = "svnbridge:put"
	RouteMkActivity = "svnbridge:mkactivity"
	RouteMkcol      = "svnbridge:mkcol"
	RouteDelete     = "svnbridge:delete"
	RouteProppatch  = "svnbridge:proppatch"
	RouteMerge      = "svnbridge:merge"
)

// NewRouter matches the WebDAV versioning surface the command-line client
// speaks. Dispatch is by method: the client addresses ordinary resource
// paths plus the !svn special namespace, and the path shape is resolved by
// the handlers.
func NewRouter(parent *mux.Router) *mux.Router {
	if parent == nil {
		parent = mux.NewRouter()
	}
	parent.SkipClean(true)

	parent.Path("/!stats").Methods("GET").Name(RouteStats)
	parent.PathPrefix("/").Methods("OPTIONS").Name(RouteOptions)
	parent.PathPrefix("/").Methods("PROPFIND").Name(RoutePropfind)
	parent.PathPrefix("/").Methods("REPORT").Name(RouteReport)
	parent.PathPrefix("/").Methods("GET").Name(RouteGet)
	parent.PathPrefix("/").Methods("PUT").Name(RoutePut)
	parent.PathPrefix("/").Methods("MKACTIVITY").Name(RouteMkActivity)
	parent.PathPrefix("/").Methods("MKCOL").Name(RouteMkcol)
	parent.PathPrefix("/").Methods("DELETE").Name(RouteDelete)
	parent.PathPrefix("/").Methods("PROPPATCH").Name(RouteProppatch)
	parent.PathPrefix("/").Methods("MERGE").Name(RouteMerge)

	return parent
}
