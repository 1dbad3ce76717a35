package item

import (
	"time"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/tfs"
)

// Kind tags an Item. Behavior that varies per kind is a switch on the tag,
// not an interface hierarchy.
type Kind int

const (
	File Kind = iota
	Folder
	DeleteFile
	DeleteFolder
	StubFolder
	Missing
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Folder:
		return "folder"
	case DeleteFile:
		return "delete-file"
	case DeleteFolder:
		return "delete-folder"
	case StubFolder:
		return "stub-folder"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// Item is a node in the virtual versioned filesystem. A Folder owns its
// Children in insertion order; that order is the traversal order for every
// downstream consumer. A StubFolder wraps the real folder it stands in for.
type Item struct {
	Name string // server-relative path, forward-slash separated
	Kind Kind
	ID   int

	ItemRevision     int
	PropertyRevision int
	SubItemRevision  int

	LastModified time.Time
	Author       string
	Properties   map[string]string

	Size        int64
	Content     []byte
	ContentHash string // hex MD5
	DownloadURL string

	OriginallyDeleted bool
	DataLoaded        bool

	// Edit distinguishes a missing marker that stands for a
	// would-have-been-edit from one standing for a would-have-been-add.
	Edit bool

	// PropertyOnly marks an item placed in the tree only because a
	// property change touched it.
	PropertyOnly bool

	Children []*Item
	Real     *Item // StubFolder only
}

// FromSource converts an upstream source item.
func FromSource(src *tfs.SourceItem) *Item {
	kind := File
	if src.ItemType == tfs.ItemFolder {
		kind = Folder
	}
	it := &Item{
		Name:         src.RemoteName,
		Kind:         kind,
		ID:           src.ID,
		ItemRevision: src.RemoteChangesetID,
		LastModified: src.RemoteDate,
		Author:       src.Author,
		Size:         src.Size,
		DownloadURL:  src.DownloadURL,
	}
	if len(src.Properties) > 0 {
		it.Properties = make(map[string]string, len(src.Properties))
		for k, v := range src.Properties {
			it.Properties[k] = v
		}
		it.PropertyRevision = src.RemoteChangesetID
	}
	return it
}

// Source converts back to the upstream representation, for calls that need
// the original identity.
func (it *Item) Source() tfs.SourceItem {
	t := tfs.ItemFile
	if it.Kind == Folder || it.Kind == StubFolder || it.Kind == DeleteFolder {
		t = tfs.ItemFolder
	}
	return tfs.SourceItem{
		ID:                it.ID,
		RemoteName:        it.Name,
		ItemType:          t,
		RemoteChangesetID: it.ItemRevision,
		RemoteDate:        it.LastModified,
		Author:            it.Author,
		Size:              it.Size,
		DownloadURL:       it.DownloadURL,
	}
}

func NewFolder(name string) *Item { return &Item{Name: name, Kind: Folder} }

func NewDelete(name string, folder bool) *Item {
	k := DeleteFile
	if folder {
		k = DeleteFolder
	}
	return &Item{Name: name, Kind: k}
}

func NewMissing(name string, edit bool) *Item {
	return &Item{Name: name, Kind: Missing, Edit: edit}
}

// NewStub wraps a real folder in a stub placeholder. The stub records that
// no operation has been decided for this path yet; children accumulate on
// the wrapped folder.
func NewStub(real *Item) *Item {
	return &Item{Name: real.Name, Kind: StubFolder, Real: real}
}

// Revision is the effective revision: the maximum of the item, property,
// and sub-item revisions.
func (it *Item) Revision() int {
	r := it.ItemRevision
	if it.PropertyRevision > r {
		r = it.PropertyRevision
	}
	if it.SubItemRevision > r {
		r = it.SubItemRevision
	}
	return r
}

// IsDelete reports whether the item is a delete tombstone.
func (it *Item) IsDelete() bool {
	return it.Kind == DeleteFile || it.Kind == DeleteFolder
}

// IsContainer reports whether children can be attached beneath the item.
func (it *Item) IsContainer() bool {
	return it.Kind == Folder || it.Kind == StubFolder
}

// container resolves where children live: a stub's children belong to the
// folder it wraps.
func (it *Item) container() *Item {
	if it.Kind == StubFolder {
		return it.Real
	}
	return it
}

// Attach appends child to the item's child sequence, transferring
// ownership.
func (it *Item) Attach(child *Item) {
	c := it.container()
	c.Children = append(c.Children, child)
}

// FindChild returns the direct child whose path equals name under the
// policy, or nil.
func (it *Item) FindChild(policy svnbridge.CasePolicy, name string) *Item {
	for _, child := range it.container().Children {
		if policy.EqualPaths(child.Name, name) {
			return child
		}
	}
	return nil
}

// RemoveChild unlinks the direct child whose path equals name. It reports
// whether anything was removed.
func (it *Item) RemoveChild(policy svnbridge.CasePolicy, name string) bool {
	c := it.container()
	for i, child := range c.Children {
		if policy.EqualPaths(child.Name, name) {
			c.Children = append(c.Children[:i], c.Children[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceChild swaps old for new in place, keeping the child's position in
// the traversal order. It reports whether old was found.
func (it *Item) ReplaceChild(policy svnbridge.CasePolicy, old, repl *Item) bool {
	c := it.container()
	for i, child := range c.Children {
		if child == old {
			c.Children[i] = repl
			return true
		}
	}
	return false
}

// Unwrap resolves a stub to its wrapped folder, carrying over any children
// attached while the stub stood in. Non-stubs return themselves.
func (it *Item) Unwrap() *Item {
	if it.Kind != StubFolder {
		return it
	}
	return it.Real
}

// Clone deep-copies the item and everything below it.
func (it *Item) Clone() *Item {
	cp := *it
	if it.Properties != nil {
		cp.Properties = make(map[string]string, len(it.Properties))
		for k, v := range it.Properties {
			cp.Properties[k] = v
		}
	}
	if it.Content != nil {
		cp.Content = append([]byte(nil), it.Content...)
	}
	if it.Real != nil {
		cp.Real = it.Real.Clone()
	}
	if it.Children != nil {
		cp.Children = make([]*Item, len(it.Children))
		for i, child := range it.Children {
			cp.Children[i] = child.Clone()
		}
	}
	return &cp
}

// Walk visits the item and everything below it depth-first in insertion
// order. Returning an error stops the walk.
func (it *Item) Walk(fn func(*Item) error) error {
	if err := fn(it); err != nil {
		return err
	}
	for _, child := range it.container().Children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}
