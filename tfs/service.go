package tfs

import "errors"

var (
	// ErrNotFound is returned when a path or id does not exist at the
	// requested version.
	ErrNotFound = errors.New("item not found")

	// ErrNoActivity is returned for operations against an unknown
	// activity.
	ErrNoActivity = errors.New("no such activity")
)

// SourceControl is the upstream surface the bridge core consumes. One
// client value is bound to a server URL and a credential triple; the cache
// and the diff engine never see either.
type SourceControl interface {
	// QueryItems lists items at path. Results are ordered by the server;
	// callers needing path order sort themselves.
	QueryItems(path string, rec RecursionType, vs VersionSpec, ds DeletedState, it ItemType) ([]*SourceItem, error)

	// QueryItemsByID resolves item ids at a revision.
	QueryItemsByID(ids []int, revision int) ([]*SourceItem, error)

	// QueryHistory returns the changesets in (fromRev, toRev], oldest
	// first, touching path or anything below it.
	QueryHistory(path string, fromRev, toRev int) ([]*Changeset, error)

	// GetPreviousVersionOfItems resolves the version of each item
	// immediately preceding revision.
	GetPreviousVersionOfItems(items []SourceItem, revision int) ([]*SourceItem, error)

	// ReadFile downloads the full content of a file item, returning the
	// bytes and their hex MD5.
	ReadFile(item *SourceItem) ([]byte, string, error)

	// Write-path primitives, all scoped to an activity.
	MakeActivity(activity string) error
	DeleteActivity(activity string) error
	WriteFile(activity, path string, data []byte) (created bool, err error)
	MakeCollection(activity, path string) error
	DeleteItem(activity, path string) error
	SetProperty(activity, path, name, value string) error
	RemoveProperty(activity, path, name string) error
	SetActivityComment(activity, comment string) error
	GetItemInActivity(activity, path string) (*SourceItem, error)
	Commit(activity string) (int, error)
}
