package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/tfs"
)

var policy = svnbridge.CasePolicy{Sensitive: false}

func TestEffectiveRevision(t *testing.T) {
	it := &Item{ItemRevision: 3, PropertyRevision: 7, SubItemRevision: 5}
	assert.Equal(t, 7, it.Revision())
	it.SubItemRevision = 9
	assert.Equal(t, 9, it.Revision())
}

func TestStubChildrenBelongToTheRealFolder(t *testing.T) {
	real := NewFolder("$/p/dir")
	stub := NewStub(real)

	child := &Item{Name: "$/p/dir/a", Kind: File}
	stub.Attach(child)

	require.Len(t, real.Children, 1, "children accumulate on the wrapped folder")
	assert.Same(t, child, stub.FindChild(policy, "$/P/DIR/A"))

	unwrapped := stub.Unwrap()
	assert.Same(t, real, unwrapped)
	require.Len(t, unwrapped.Children, 1)
}

func TestRemoveAndReplaceChild(t *testing.T) {
	root := NewFolder("$/p")
	a := &Item{Name: "$/p/a", Kind: File}
	b := &Item{Name: "$/p/b", Kind: File}
	root.Attach(a)
	root.Attach(b)

	repl := NewDelete("$/p/a", false)
	require.True(t, root.ReplaceChild(policy, a, repl))
	assert.Same(t, repl, root.Children[0], "replacement keeps the traversal position")

	require.True(t, root.RemoveChild(policy, "$/P/B"))
	require.Len(t, root.Children, 1)
	assert.False(t, root.RemoveChild(policy, "$/p/b"))
}

func TestCloneIsDeep(t *testing.T) {
	root := NewFolder("$/p")
	f := &Item{
		Name:       "$/p/f",
		Kind:       File,
		Content:    []byte("abc"),
		Properties: map[string]string{"k": "v"},
	}
	root.Attach(f)

	cp := root.Clone()
	cp.Children[0].Content[0] = 'z'
	cp.Children[0].Properties["k"] = "w"
	cp.Children[0].Name = "renamed"

	assert.Equal(t, byte('a'), f.Content[0])
	assert.Equal(t, "v", f.Properties["k"])
	assert.Equal(t, "$/p/f", f.Name)
}

func TestWalkDepthFirstInsertionOrder(t *testing.T) {
	root := NewFolder("$/p")
	dir := NewFolder("$/p/d")
	root.Attach(dir)
	dir.Attach(&Item{Name: "$/p/d/x", Kind: File})
	root.Attach(&Item{Name: "$/p/y", Kind: File})

	var order []string
	_ = root.Walk(func(it *Item) error {
		order = append(order, it.Name)
		return nil
	})
	assert.Equal(t, []string{"$/p", "$/p/d", "$/p/d/x", "$/p/y"}, order)
}

func TestFromSourceRoundTrip(t *testing.T) {
	src := &tfs.SourceItem{
		ID:                9,
		RemoteName:        "$/p/f.txt",
		ItemType:          tfs.ItemFile,
		RemoteChangesetID: 12,
		Author:            "alice",
		Size:              42,
		Properties:        map[string]string{"svn:eol-style": "native"},
	}
	it := FromSource(src)
	assert.Equal(t, File, it.Kind)
	assert.Equal(t, 12, it.ItemRevision)
	assert.Equal(t, 12, it.PropertyRevision, "items carrying properties take the property revision")

	back := it.Source()
	assert.Equal(t, src.ID, back.ID)
	assert.Equal(t, src.RemoteName, back.RemoteName)
	assert.Equal(t, tfs.ItemFile, back.ItemType)
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, NewDelete("$/p/x", false).IsDelete())
	assert.True(t, NewDelete("$/p/x", true).IsDelete())
	assert.False(t, NewFolder("$/p").IsDelete())
	assert.True(t, NewFolder("$/p").IsContainer())
	assert.True(t, NewStub(NewFolder("$/p")).IsContainer())
	assert.False(t, NewMissing("$/p/x", true).IsContainer())
}
