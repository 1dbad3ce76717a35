package tfs

import (
	"strings"
	"time"
)

// ItemType narrows a query to files, folders, or both.
type ItemType int

const (
	ItemAny ItemType = iota
	ItemFile
	ItemFolder
)

// RecursionType is the listing depth of a query.
type RecursionType int

const (
	RecursionNone RecursionType = iota
	RecursionOneLevel
	RecursionFull
)

func (r RecursionType) String() string {
	switch r {
	case RecursionNone:
		return "none"
	case RecursionOneLevel:
		return "one-level"
	case RecursionFull:
		return "full"
	}
	return "unknown"
}

// DeletedState controls whether deleted items are visible to a query.
type DeletedState int

const (
	NonDeleted DeletedState = iota
	Deleted
	AnyDeletedState
)

// VersionSpec names a repository version: a numbered changeset, or the
// latest one.
type VersionSpec struct {
	Latest    bool
	Changeset int
}

func LatestVersion() VersionSpec          { return VersionSpec{Latest: true} }
func ChangesetVersion(id int) VersionSpec { return VersionSpec{Changeset: id} }

// ChangeType is the flag set attached to a source item change.
type ChangeType uint16

const (
	ChangeNone   ChangeType = 0
	ChangeAdd    ChangeType = 1 << iota
	ChangeEdit
	ChangeDelete
	ChangeRename
	ChangeMerge
	ChangeBranch
	ChangeUndelete
)

func (c ChangeType) Has(flag ChangeType) bool { return c&flag != 0 }

func (c ChangeType) String() string {
	if c == ChangeNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag ChangeType
		name string
	}{
		{ChangeAdd, "add"},
		{ChangeEdit, "edit"},
		{ChangeDelete, "delete"},
		{ChangeRename, "rename"},
		{ChangeMerge, "merge"},
		{ChangeBranch, "branch"},
		{ChangeUndelete, "undelete"},
	} {
		if c.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// SourceItem is one versioned item as reported by the source control
// server.
type SourceItem struct {
	ID                int
	RemoteName        string // server path, forward-slash separated, $-rooted
	ItemType          ItemType
	RemoteChangesetID int
	RemoteDate        time.Time
	Author            string
	Size              int64
	DownloadURL       string
	Properties        map[string]string
}

// SourceItemChange is one change record inside a changeset. Rename records
// carry the path the item had before the rename.
type SourceItemChange struct {
	Item         SourceItem
	ChangeType   ChangeType
	PreviousName string
}

// Changeset is a numbered, atomic, server-wide version of the repository.
type Changeset struct {
	ID      int
	Author  string
	Date    time.Time
	Comment string
	Changes []SourceItemChange
}
