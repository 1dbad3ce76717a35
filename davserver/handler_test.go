package davserver

import (
	"net/http/httptest"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/cache"
	"github.com/HYDPublic/SvnBridge/tfs"
)

var (
	testHandler *Handler
	testFake    *tfs.Fake
	server      *httptest.Server
)

func setupHandlerTest() {
	testFake = tfs.NewFake()
	testFake.SetSnapshot(5,
		&tfs.SourceItem{RemoteName: "$/proj", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/readme.txt", ItemType: tfs.ItemFile, Author: "alice"},
		&tfs.SourceItem{RemoteName: "$/proj/src", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/src/main.c", ItemType: tfs.ItemFile},
	)
	testFake.SetContent(5, "$/proj/readme.txt", []byte("hello bridge\n"))
	testFake.SetContent(5, "$/proj/src/main.c", []byte("int main(void) { return 0; }\n"))

	policy := svnbridge.CasePolicy{Sensitive: false}
	testHandler = NewHandler(Config{
		Source:            testFake,
		Meta:              cache.New(testFake, policy, nil, nil),
		Policy:            policy,
		InformativeErrors: true,
	})
	server = httptest.NewServer(testHandler)
}

func teardownHandlerTest() {
	server.Close()
}
