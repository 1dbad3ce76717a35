// Package update replays a range of source changesets against a client's
// reported working-copy state, mutating a per-request tree into the
// add/edit/delete operations the versioning client must apply to reach the
// target revision.
package update

import (
	"io"
	"log"

	"github.com/pkg/errors"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/item"
	"github.com/HYDPublic/SvnBridge/tfs"
)

const (
	// PropFolder is the reserved directory where the upstream store keeps
	// versioning properties as sibling files.
	PropFolder = "..svnbridge"

	// FolderPropFile inside a PropFolder holds the properties of the
	// folder itself.
	FolderPropFile = ".svnbridge"
)

// Lister is the slice of the metadata cache the engine consumes.
type Lister interface {
	QueryItems(revision int, path string, rec tfs.RecursionType) ([]*item.Item, error)
}

// History resolves the previous-version identity of changed items, for
// renames.
type History interface {
	GetPreviousVersionOfItems(items []tfs.SourceItem, revision int) ([]*tfs.SourceItem, error)
}

// ErrStubSurvived reports a stub folder that was never resolved before
// hand-off; it indicates a replay bug.
var ErrStubSurvived = errors.New("stub folder survived finalization")

type renamedFolder struct {
	oldName string
	newName string
}

// Engine mutates a tree rooted at the checkout path. Changes are applied
// strictly in the order the caller presents them; that order carries
// meaning (delete before add in renames, changeset monotonicity).
type Engine struct {
	policy  svnbridge.CasePolicy
	meta    Lister
	history History
	log     *log.Logger

	root         *item.Item
	checkoutRoot string
	target       int
	state        *ClientState

	renamed []renamedFolder
}

// NewEngine builds an engine over root, which must be a folder named after
// the checkout root path.
func NewEngine(root *item.Item, target int, state *ClientState, meta Lister, history History, policy svnbridge.CasePolicy, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		policy:       policy,
		meta:         meta,
		history:      history,
		log:          logger,
		root:         root,
		checkoutRoot: root.Name,
		target:       target,
		state:        state,
	}
}

// Root returns the tree under mutation.
func (e *Engine) Root() *item.Item { return e.root }

// mapPropertyPath rewrites a path inside a property folder to the logical
// owner of the properties: the grandparent folder for a folder-properties
// file, a sibling file otherwise. propDir is true when path names a
// property folder itself, which carries no operation of its own.
func (e *Engine) mapPropertyPath(path string) (owner string, isProp, propDir bool) {
	dir, leaf := svnbridge.SplitPath(path)
	if e.policy.Equal(leaf, PropFolder) {
		return "", false, true
	}
	pdir, pleaf := svnbridge.SplitPath(dir)
	if !e.policy.Equal(pleaf, PropFolder) {
		return path, false, false
	}
	if e.policy.Equal(leaf, FolderPropFile) {
		return pdir, true, false
	}
	return svnbridge.JoinPath(pdir, leaf), true, false
}

// ApplyAdd processes an Add (or Branch/Undelete) change.
func (e *Engine) ApplyAdd(ch *tfs.SourceItemChange, forward bool) error {
	owner, isProp, propDir := e.mapPropertyPath(ch.Item.RemoteName)
	if propDir {
		return nil
	}
	return e.applyAddOrEdit(owner, ch.Item.RemoteChangesetID, false, isProp, forward, false)
}

// ApplyEdit processes an Edit change: the same walk as an add, with the
// edit flag set.
func (e *Engine) ApplyEdit(ch *tfs.SourceItemChange) error {
	owner, isProp, propDir := e.mapPropertyPath(ch.Item.RemoteName)
	if propDir {
		return nil
	}
	return e.applyAddOrEdit(owner, ch.Item.RemoteChangesetID, true, isProp, true, false)
}

// ApplyDelete processes a Delete change.
func (e *Engine) ApplyDelete(ch *tfs.SourceItemChange) error {
	owner, isProp, propDir := e.mapPropertyPath(ch.Item.RemoteName)
	if propDir {
		return nil
	}
	if isProp {
		// Removing a property blob is a property edit of its owner,
		// never a delete of a path the client can see.
		return e.applyAddOrEdit(owner, ch.Item.RemoteChangesetID, true, true, true, false)
	}
	return e.applyDelete(owner, ch.Item.ItemType == tfs.ItemFolder, ch.Item.RemoteChangesetID)
}

// ApplyRename processes a Rename change as a delete of the old path
// followed by an add of the new one, in that fixed order regardless of
// replay direction, because clients rely on delete preceding add in diff
// output. A side that falls outside the checkout root is suppressed: that
// path does not belong to the client's view.
func (e *Engine) ApplyRename(ch *tfs.SourceItemChange, forward bool) error {
	prevName := ch.PreviousName
	if prevName == "" {
		prevs, err := e.history.GetPreviousVersionOfItems([]tfs.SourceItem{ch.Item}, ch.Item.RemoteChangesetID)
		if err != nil {
			return errors.Wrapf(err, "resolving previous version of %s", ch.Item.RemoteName)
		}
		if len(prevs) == 0 || prevs[0] == nil {
			return errors.Errorf("no previous version for rename of %s", ch.Item.RemoteName)
		}
		prevName = prevs[0].RemoteName
	}

	oldName, newName := prevName, ch.Item.RemoteName
	if !forward {
		oldName, newName = newName, oldName
	}
	isFolder := ch.Item.ItemType == tfs.ItemFolder

	if e.policy.UnderRoot(e.checkoutRoot, oldName) {
		if err := e.applyDelete(oldName, isFolder, ch.Item.RemoteChangesetID); err != nil {
			return err
		}
	}
	if e.policy.UnderRoot(e.checkoutRoot, newName) {
		if err := e.applyAddOrEdit(newName, ch.Item.RemoteChangesetID, false, false, forward, true); err != nil {
			return err
		}
	}
	if isFolder {
		e.renamed = append(e.renamed, renamedFolder{oldName: oldName, newName: newName})
	}
	return nil
}

// fetchItem asks the metadata cache for path at the target revision.
func (e *Engine) fetchItem(path string) (*item.Item, error) {
	items, err := e.meta.QueryItems(e.target, path, tfs.RecursionNone)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if e.policy.EqualPaths(it.Name, path) {
			return it, nil
		}
	}
	return nil, nil
}

// applyAddOrEdit walks the path below the checkout root segment by
// segment. Every level gets a recorded state (a stub for an undecided
// intermediate, a missing marker or tombstone for an unmaterializable one)
// so a later delete can cancel a prior add.
func (e *Engine) applyAddOrEdit(path string, changeRev int, edit, propChange, forward, rename bool) error {
	if !e.policy.UnderRoot(e.checkoutRoot, path) {
		return nil
	}
	// Forward only: when backing out, the client's revisions sit above
	// every replayed change by construction.
	if forward && e.state.HasAtLeast(path, changeRev) {
		return nil
	}

	segs := e.relativeSegments(path)
	if len(segs) == 0 {
		// A change against the checkout root itself: only properties
		// can land here.
		if propChange && changeRev > e.root.PropertyRevision {
			e.root.PropertyRevision = changeRev
		}
		return nil
	}

	folder := e.root
	itemPath := e.checkoutRoot
	for i, seg := range segs {
		itemPath = svnbridge.JoinPath(itemPath, seg)
		final := i == len(segs)-1

		entry := folder.FindChild(e.policy, itemPath)
		if entry == nil {
			fetched, err := e.fetchItem(itemPath)
			if err != nil {
				return err
			}
			if fetched == nil {
				if final {
					m := item.NewMissing(itemPath, edit && !propChange)
					folder.Attach(m)
					return nil
				}
				// Intermediate with no backing folder at the
				// target: the whole subtree is gone.
				folder.Attach(item.NewDelete(itemPath, true))
				return nil
			}
			if final {
				fetched.Edit = edit
				if propChange {
					fetched.PropertyOnly = true
					if changeRev > fetched.PropertyRevision {
						fetched.PropertyRevision = changeRev
					}
				}
				folder.Attach(fetched)
				return nil
			}
			stub := item.NewStub(fetched)
			folder.Attach(stub)
			folder = stub
			continue
		}

		if entry.IsDelete() {
			if !final {
				// Subtree already tombstoned; nothing below it can
				// reach the client.
				return nil
			}
			switch {
			case rename:
				// Rename onto a deleted path: the add rides
				// alongside the delete so the client replaces with
				// history.
				fetched, err := e.fetchItem(itemPath)
				if err != nil {
					return err
				}
				if fetched != nil {
					folder.Attach(fetched)
				}
			case propChange:
				// A property-only change against a deleted path
				// cannot materialize; it leaves a missing marker
				// in place of the tombstone.
				folder.RemoveChild(e.policy, itemPath)
				folder.Attach(item.NewMissing(itemPath, false))
			case !edit:
				// Resurrection: the add cancels the delete.
				fetched, err := e.fetchItem(itemPath)
				if err != nil {
					return err
				}
				if fetched != nil {
					folder.RemoveChild(e.policy, itemPath)
					fetched.OriginallyDeleted = true
					folder.Attach(fetched)
				}
			}
			// A plain edit against a tombstone: the delete wins.
			return nil
		}

		if !final {
			if !entry.IsContainer() {
				// A file occupies an intermediate segment; the
				// change below it cannot be expressed.
				return nil
			}
			folder = entry
			continue
		}

		switch entry.Kind {
		case item.StubFolder:
			// Visited as the final element now: unwrap the stub into
			// its real folder, in place.
			real := entry.Unwrap()
			real.Edit = edit
			if propChange {
				real.PropertyOnly = real.PropertyOnly || len(real.Children) == 0
				if changeRev > real.PropertyRevision {
					real.PropertyRevision = changeRev
				}
			}
			folder.ReplaceChild(e.policy, entry, real)
		case item.Missing:
			if !propChange {
				if fetched, err := e.fetchItem(itemPath); err != nil {
					return err
				} else if fetched != nil {
					fetched.Edit = edit
					folder.ReplaceChild(e.policy, entry, fetched)
				}
			}
			// A property change promotes the prior missing marker by
			// leaving it in place.
		default:
			stale := (forward && entry.Revision() < changeRev) ||
				(!forward && entry.Revision() > changeRev)
			if stale {
				fetched, err := e.fetchItem(itemPath)
				if err != nil {
					return err
				}
				if fetched != nil {
					fetched.Children = entry.Children
					fetched.Edit = entry.Edit || edit
					fetched.OriginallyDeleted = entry.OriginallyDeleted
					fetched.PropertyOnly = entry.PropertyOnly && propChange
					folder.ReplaceChild(e.policy, entry, fetched)
				}
			} else if propChange && changeRev > entry.PropertyRevision {
				entry.PropertyRevision = changeRev
			}
		}
		return nil
	}
	return nil
}

// applyDelete walks path and reconciles the delete against whatever the
// replay has recorded there.
func (e *Engine) applyDelete(path string, isFolder bool, changeRev int) error {
	if !e.policy.UnderRoot(e.checkoutRoot, path) {
		return nil
	}
	if e.state.IsMissing(path) {
		// The client already knows the path is gone; drop any missing
		// marker a prior step left for it.
		e.pruneMissing(path)
		return nil
	}

	segs := e.relativeSegments(path)
	if len(segs) == 0 {
		return nil
	}

	folder := e.root
	itemPath := e.checkoutRoot
	for i, seg := range segs {
		itemPath = svnbridge.JoinPath(itemPath, seg)
		final := i == len(segs)-1

		entry := folder.FindChild(e.policy, itemPath)
		if !final {
			if entry == nil {
				fetched, err := e.fetchItem(itemPath)
				if err != nil {
					return err
				}
				if fetched == nil {
					// The intermediate folder is gone at the
					// target; its tombstone covers the leaf.
					folder.Attach(item.NewDelete(itemPath, true))
					return nil
				}
				stub := item.NewStub(fetched)
				folder.Attach(stub)
				folder = stub
				continue
			}
			if entry.IsDelete() {
				return nil
			}
			if !entry.IsContainer() {
				return nil
			}
			folder = entry
			continue
		}

		// Leaf reconciliation.
		if entry == nil {
			folder.Attach(item.NewDelete(itemPath, isFolder))
			return nil
		}
		switch {
		case entry.IsDelete():
			return nil
		case entry.Kind == item.StubFolder:
			folder.ReplaceChild(e.policy, entry, item.NewDelete(itemPath, true))
		case entry.Kind == item.Missing:
			if entry.Edit {
				folder.ReplaceChild(e.policy, entry, item.NewDelete(itemPath, isFolder))
			} else {
				folder.RemoveChild(e.policy, itemPath)
			}
		case entry.OriginallyDeleted:
			// The earlier resurrection is cancelled; back to a
			// tombstone.
			folder.RemoveChild(e.policy, itemPath)
			folder.Attach(item.NewDelete(itemPath, entry.Kind == item.Folder))
		case entry.PropertyOnly:
			folder.ReplaceChild(e.policy, entry, item.NewDelete(itemPath, entry.Kind == item.Folder))
		default:
			// A spurious add the client never saw; the delete cancels
			// it.
			folder.RemoveChild(e.policy, itemPath)
		}
		return nil
	}
	return nil
}

// pruneMissing unlinks a Missing marker at path, if one was recorded.
func (e *Engine) pruneMissing(path string) {
	segs := e.relativeSegments(path)
	folder := e.root
	itemPath := e.checkoutRoot
	for i, seg := range segs {
		itemPath = svnbridge.JoinPath(itemPath, seg)
		entry := folder.FindChild(e.policy, itemPath)
		if entry == nil {
			return
		}
		if i == len(segs)-1 {
			if entry.Kind == item.Missing {
				folder.RemoveChild(e.policy, itemPath)
			}
			return
		}
		if !entry.IsContainer() {
			return
		}
		folder = entry
	}
}

// relativeSegments splits off the part of path below the checkout root.
func (e *Engine) relativeSegments(path string) []string {
	all := svnbridge.Segments(path)
	rootSegs := svnbridge.Segments(e.checkoutRoot)
	if len(all) < len(rootSegs) {
		return nil
	}
	return all[len(rootSegs):]
}

// Finalize resolves surviving stubs into their real folders, propagates
// sub-item revisions upward, and runs the renamed-folder post-pass. After
// Finalize no stub reaches the response generator.
func (e *Engine) Finalize() error {
	if err := e.renamePostPass(); err != nil {
		return err
	}
	if err := resolveStubs(e.root); err != nil {
		return err
	}
	propagateSubItemRevision(e.root)
	return nil
}

func resolveStubs(it *item.Item) error {
	for i, child := range it.Children {
		if child.Kind == item.StubFolder {
			real := child.Unwrap()
			if real == nil {
				return errors.Wrap(ErrStubSurvived, child.Name)
			}
			it.Children[i] = real
			child = real
		}
		if err := resolveStubs(child); err != nil {
			return err
		}
	}
	return nil
}

func propagateSubItemRevision(it *item.Item) int {
	max := it.Revision()
	for _, child := range it.Children {
		if r := propagateSubItemRevision(child); r > max {
			max = r
		}
	}
	if it.Kind == item.Folder && max > it.SubItemRevision {
		it.SubItemRevision = max
	}
	return max
}

// renamePostPass scans renamed folders for client-held children at the old
// location that still need explicit deletes: when the delete side of the
// folder rename was suppressed, the children would otherwise linger in the
// client's working copy.
func (e *Engine) renamePostPass() error {
	for _, rf := range e.renamed {
		if e.hasDeleteCovering(rf.oldName) {
			continue
		}
		for _, child := range e.state.ExistingUnder(rf.oldName) {
			if e.state.IsMissing(child) {
				continue
			}
			if err := e.applyDelete(child, false, e.target); err != nil {
				return err
			}
		}
	}
	return nil
}

// hasDeleteCovering reports whether the tree already tombstones path or an
// ancestor of it.
func (e *Engine) hasDeleteCovering(path string) bool {
	if !e.policy.UnderRoot(e.checkoutRoot, path) {
		return false
	}
	segs := e.relativeSegments(path)
	folder := e.root
	itemPath := e.checkoutRoot
	for _, seg := range segs {
		itemPath = svnbridge.JoinPath(itemPath, seg)
		entry := folder.FindChild(e.policy, itemPath)
		if entry == nil {
			return false
		}
		if entry.IsDelete() {
			return true
		}
		if !entry.IsContainer() {
			return false
		}
		folder = entry
	}
	return false
}
