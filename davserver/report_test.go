package davserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/cache"
	"github.com/HYDPublic/SvnBridge/tfs"
)

func setupReportTest() {
	testFake = tfs.NewFake()
	testFake.SetSnapshot(4,
		&tfs.SourceItem{RemoteName: "$/proj", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/readme.txt", ItemType: tfs.ItemFile, RemoteChangesetID: 4},
	)
	testFake.SetSnapshot(5,
		&tfs.SourceItem{RemoteName: "$/proj", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/readme.txt", ItemType: tfs.ItemFile, RemoteChangesetID: 5},
		&tfs.SourceItem{RemoteName: "$/proj/src", ItemType: tfs.ItemFolder, RemoteChangesetID: 5},
		&tfs.SourceItem{RemoteName: "$/proj/src/main.c", ItemType: tfs.ItemFile, RemoteChangesetID: 5},
	)
	testFake.SetContent(5, "$/proj/readme.txt", []byte("updated readme\n"))
	testFake.SetContent(5, "$/proj/src/main.c", []byte("int main(void) { return 0; }\n"))
	testFake.AddChangeset(&tfs.Changeset{ID: 5, Changes: []tfs.SourceItemChange{
		{Item: tfs.SourceItem{RemoteName: "$/proj/src", ItemType: tfs.ItemFolder, RemoteChangesetID: 5},
			ChangeType: tfs.ChangeAdd},
		{Item: tfs.SourceItem{RemoteName: "$/proj/src/main.c", ItemType: tfs.ItemFile, RemoteChangesetID: 5},
			ChangeType: tfs.ChangeAdd},
		{Item: tfs.SourceItem{RemoteName: "$/proj/readme.txt", ItemType: tfs.ItemFile, RemoteChangesetID: 5},
			ChangeType: tfs.ChangeEdit},
	}})

	policy := svnbridge.CasePolicy{Sensitive: false}
	testHandler = NewHandler(Config{
		Source:            testFake,
		Meta:              cache.New(testFake, policy, nil, nil),
		Policy:            policy,
		InformativeErrors: true,
	})
	server = httptest.NewServer(testHandler)
}

func TestUpdateReportStreamsDiff(t *testing.T) {
	setupReportTest()
	defer teardownHandlerTest()

	body := `<?xml version="1.0" encoding="utf-8"?>` +
		`<S:update-report xmlns:S="svn:">` +
		`<S:src-path>` + server.URL + `/proj</S:src-path>` +
		`<S:target-revision>5</S:target-revision>` +
		`<S:entry rev="4"></S:entry>` +
		`</S:update-report>`

	resp, out := davRequest(t, "REPORT", "/proj", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, out, `<S:target-revision rev="5"/>`)
	assert.Contains(t, out, `<S:add-directory name="src">`)
	assert.Contains(t, out, `<S:add-file name="main.c">`)
	assert.Contains(t, out, `<S:open-file name="readme.txt"`)
	// txdelta payloads are base64 svndiff0; the header encodes to U1ZO.
	assert.Contains(t, out, "<S:txdelta>U1ZO")
	assert.Contains(t, out, "md5-checksum")
	assert.NotContains(t, out, "stub", "no stub reaches the generator")
}

func TestUpdateReportEmitsDeleteEntry(t *testing.T) {
	setupReportTest()
	defer teardownHandlerTest()

	testFake.SetSnapshot(6,
		&tfs.SourceItem{RemoteName: "$/proj", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/src", ItemType: tfs.ItemFolder, RemoteChangesetID: 5},
		&tfs.SourceItem{RemoteName: "$/proj/src/main.c", ItemType: tfs.ItemFile, RemoteChangesetID: 5},
	)
	testFake.AddChangeset(&tfs.Changeset{ID: 6, Changes: []tfs.SourceItemChange{
		{Item: tfs.SourceItem{RemoteName: "$/proj/readme.txt", ItemType: tfs.ItemFile, RemoteChangesetID: 6},
			ChangeType: tfs.ChangeDelete},
	}})

	body := `<?xml version="1.0" encoding="utf-8"?>` +
		`<S:update-report xmlns:S="svn:">` +
		`<S:src-path>` + server.URL + `/proj</S:src-path>` +
		`<S:target-revision>6</S:target-revision>` +
		`<S:entry rev="5"></S:entry>` +
		`</S:update-report>`

	resp, out := davRequest(t, "REPORT", "/proj", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out, `<S:delete-entry name="readme.txt"/>`)
	assert.NotContains(t, out, "add-file")
}

func TestUpdateReportUnsupportedBody(t *testing.T) {
	setupReportTest()
	defer teardownHandlerTest()

	resp, _ := davRequest(t, "REPORT", "/proj", `<S:log-report xmlns:S="svn:"/>`, nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
