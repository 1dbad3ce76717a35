package davserver

import (
	"fmt"
	"net/http"

	svnbridge "github.com/HYDPublic/SvnBridge"
)

// davError maps a failure onto an HTTP status and the numeric error code
// carried in the versioning client's error envelope.
type davError struct {
	statusCode int
	code       int // apr error code echoed to the client; 0 for none
	err        error
}

func (e davError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return http.StatusText(e.statusCode)
}

func (e davError) httpStatusCode() int { return e.statusCode }

func errNotFound(path string) error {
	return &davError{
		statusCode: http.StatusNotFound,
		code:       160013,
		err:        fmt.Errorf("path not found: %s", path),
	}
}

func errChecksumMismatch(path, want, got string) error {
	return &davError{
		statusCode: http.StatusConflict,
		code:       160004,
		err:        fmt.Errorf("checksum mismatch for %s: expected %s, actual %s", path, want, got),
	}
}

func errUnsupportedDepth(depth string) error {
	return &davError{
		statusCode: http.StatusBadRequest,
		err:        fmt.Errorf("unsupported depth %q", depth),
	}
}

func errUnsupportedPath(path string) error {
	return &davError{
		statusCode: http.StatusInternalServerError,
		err:        fmt.Errorf("unsupported special path: %s", path),
	}
}

func errMethodNotAllowed(method string) error {
	return &davError{
		statusCode: http.StatusMethodNotAllowed,
		err:        fmt.Errorf("method %s not allowed here", method),
	}
}

// errorHTTPStatusCode returns the HTTP status that most closely describes
// err.
func errorHTTPStatusCode(err error) int {
	type httpStatusCoder interface {
		httpStatusCode() int
	}
	if err, ok := err.(httpStatusCoder); ok {
		return err.httpStatusCode()
	}
	return http.StatusInternalServerError
}

// writeErrorEnvelope emits the client-parseable error body: a DAV error
// element with the human-readable message and numeric code.
func writeErrorEnvelope(w http.ResponseWriter, err error, status int, informative bool) {
	code := 0
	if de, ok := err.(*davError); ok {
		code = de.code
	}
	msg := http.StatusText(status)
	if informative {
		msg = err.Error()
	}
	w.Header().Set("content-type", "text/xml; charset=\"utf-8\"")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n"+
		"<D:error xmlns:D=\"DAV:\" xmlns:m=\"http://apache.org/dav/xmlns\" xmlns:C=\"svn:\">\n"+
		"<C:error/>\n"+
		"<m:human-readable errcode=\"%d\">\n%s\n</m:human-readable>\n"+
		"</D:error>\n", code, svnbridge.EscapeXML(msg))
}
