package davserver

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testActivity = "5b4bbf37-d710-4b62-b384-3e87b23bf2a7"

func TestCommitRoundTrip(t *testing.T) {
	setupHandlerTest()
	defer teardownHandlerTest()

	resp, _ := davRequest(t, "MKACTIVITY", "/!svn/act/"+testActivity, "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/!svn/act/"+testActivity)

	content := "new file body\n"
	sum := md5.Sum([]byte(content))
	resp, _ = davRequest(t, "PUT", "/!svn/wrk/"+testActivity+"/proj/new.txt", content,
		map[string]string{"X-SVN-Result-Fulltext-MD5": hex.EncodeToString(sum[:])})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Overwriting through the same activity is a no-op write.
	resp, _ = davRequest(t, "PUT", "/!svn/wrk/"+testActivity+"/proj/new.txt", content, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	logBody := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:" xmlns:S="svn:">` +
		`<D:set><D:prop><S:log>add new.txt</S:log></D:prop></D:set></D:propertyupdate>`
	resp, _ = davRequest(t, "PROPPATCH", "/!svn/wrk/"+testActivity+"/proj/new.txt", logBody, nil)
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	mergeBody := `<?xml version="1.0"?><D:merge xmlns:D="DAV:"><D:source><D:href>/!svn/act/` +
		testActivity + `</D:href></D:source></D:merge>`
	resp, body := davRequest(t, "MERGE", "/", mergeBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "merge-response")
	assert.Contains(t, body, "<D:version-name>6</D:version-name>")

	// The committed content is readable at the new head.
	resp, got := davRequest(t, "GET", "/proj/new.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, got)
}

func TestPutChecksumMismatch(t *testing.T) {
	setupHandlerTest()
	defer teardownHandlerTest()

	resp, _ := davRequest(t, "MKACTIVITY", "/!svn/act/"+testActivity, "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := davRequest(t, "PUT", "/!svn/wrk/"+testActivity+"/proj/bad.txt", "payload",
		map[string]string{"X-SVN-Result-Fulltext-MD5": "00000000000000000000000000000000"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "errcode=\"160004\"")
	assert.Contains(t, body, "checksum mismatch")
}

func TestPutWithoutChecksumSkipsCheck(t *testing.T) {
	setupHandlerTest()
	defer teardownHandlerTest()

	resp, _ := davRequest(t, "MKACTIVITY", "/!svn/act/"+testActivity, "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = davRequest(t, "PUT", "/!svn/wrk/"+testActivity+"/proj/unchecked.txt", "anything", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestMkcolAndDelete(t *testing.T) {
	setupHandlerTest()
	defer teardownHandlerTest()

	resp, _ := davRequest(t, "MKACTIVITY", "/!svn/act/"+testActivity, "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = davRequest(t, "MKCOL", "/!svn/wrk/"+testActivity+"/proj/newdir", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = davRequest(t, "DELETE", "/!svn/wrk/"+testActivity+"/proj/readme.txt", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = davRequest(t, "DELETE", "/!svn/act/"+testActivity, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMkActivityRejectsBadID(t *testing.T) {
	setupHandlerTest()
	defer teardownHandlerTest()

	resp, _ := davRequest(t, "MKACTIVITY", "/!svn/act/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
