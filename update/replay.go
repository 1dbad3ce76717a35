package update

import (
	"github.com/HYDPublic/SvnBridge/tfs"
)

// Replay applies an ordered sequence of changesets to the tree. Forward
// replay processes oldest to newest; backward replay reverses the order
// and inverts each operation, backing the client out of a future revision.
func (e *Engine) Replay(changesets []*tfs.Changeset, forward bool) error {
	ordered := changesets
	if !forward {
		ordered = make([]*tfs.Changeset, len(changesets))
		for i, cs := range changesets {
			ordered[len(changesets)-1-i] = cs
		}
	}
	for _, cs := range ordered {
		changes := cs.Changes
		if !forward {
			changes = make([]tfs.SourceItemChange, len(cs.Changes))
			for i, ch := range cs.Changes {
				changes[len(cs.Changes)-1-i] = ch
			}
		}
		for i := range changes {
			if err := e.applyChange(&changes[i], forward); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyChange dispatches one change record on its flag set. Rename beats
// delete beats add: upstream records combine flags and the strongest
// operation decides the shape of the walk.
func (e *Engine) applyChange(ch *tfs.SourceItemChange, forward bool) error {
	ct := ch.ChangeType
	switch {
	case ct.Has(tfs.ChangeRename):
		return e.ApplyRename(ch, forward)
	case ct.Has(tfs.ChangeDelete):
		if forward {
			return e.ApplyDelete(ch)
		}
		// Undoing a delete re-materializes the path as it stood before.
		return e.ApplyAdd(ch, forward)
	case ct.Has(tfs.ChangeAdd), ct.Has(tfs.ChangeBranch), ct.Has(tfs.ChangeUndelete):
		if forward {
			return e.ApplyAdd(ch, forward)
		}
		// Undoing an add removes the path.
		return e.ApplyDelete(ch)
	case ct.Has(tfs.ChangeEdit), ct.Has(tfs.ChangeMerge):
		return e.ApplyEdit(ch)
	}
	return nil
}
