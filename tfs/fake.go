package tfs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory SourceControl for tests. Revisions are sparse
// snapshots: a query at revision r sees the greatest snapshot <= r.
type Fake struct {
	mu        sync.Mutex
	latest    int
	snapshots map[int]map[string]*SourceItem // revision -> path -> item
	content   map[string][]byte              // "path@rev" -> bytes
	history   []*Changeset
	acts      map[string]*fakeActivity

	// ReadDelay is applied to every ReadFile call.
	ReadDelay time.Duration
	// FailReads maps paths whose ReadFile should fail.
	FailReads map[string]error

	// Counters for asserting on upstream traffic.
	QueryItemsCalls int
	ReadFileCalls   int
}

type fakeActivity struct {
	comment string
	writes  []SourceItemChange
	files   map[string][]byte
}

// NewFake returns a Fake with an empty root at revision 1.
func NewFake() *Fake {
	f := &Fake{
		snapshots: make(map[int]map[string]*SourceItem),
		content:   make(map[string][]byte),
		acts:      make(map[string]*fakeActivity),
	}
	f.snapshots[1] = map[string]*SourceItem{
		"$/": {ID: 1, RemoteName: "$/", ItemType: ItemFolder, RemoteChangesetID: 1},
	}
	f.latest = 1
	return f
}

// SetSnapshot installs the full item table for a revision. Items are keyed
// by RemoteName; a root folder entry is added if missing.
func (f *Fake) SetSnapshot(rev int, items ...*SourceItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := make(map[string]*SourceItem, len(items)+1)
	table["$/"] = &SourceItem{ID: 1, RemoteName: "$/", ItemType: ItemFolder, RemoteChangesetID: rev}
	nextID := 100 + rev*1000
	for _, it := range items {
		cp := *it
		if cp.RemoteChangesetID == 0 {
			cp.RemoteChangesetID = rev
		}
		if cp.ID == 0 {
			cp.ID = nextID
			nextID++
		}
		table[cp.RemoteName] = &cp
	}
	f.snapshots[rev] = table
	if rev > f.latest {
		f.latest = rev
	}
}

// SetContent installs file bytes for a path at a revision and fixes the
// item's size to match.
func (f *Fake) SetContent(rev int, path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[contentKey(path, rev)] = data
	if table := f.tableAtLocked(rev); table != nil {
		if it, ok := table[path]; ok {
			it.Size = int64(len(data))
		}
	}
}

// AddChangeset appends a changeset to the history log.
func (f *Fake) AddChangeset(cs *Changeset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, cs)
	if cs.ID > f.latest {
		f.latest = cs.ID
	}
}

// Latest returns the newest revision the fake knows about.
func (f *Fake) Latest() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func contentKey(path string, rev int) string {
	return fmt.Sprintf("%s@%d", path, rev)
}

func (f *Fake) tableAtLocked(rev int) map[string]*SourceItem {
	best := -1
	for r := range f.snapshots {
		if r <= rev && r > best {
			best = r
		}
	}
	if best < 0 {
		return nil
	}
	return f.snapshots[best]
}

func (f *Fake) resolveLocked(vs VersionSpec) int {
	if vs.Latest {
		return f.latest
	}
	return vs.Changeset
}

func (f *Fake) QueryItems(path string, rec RecursionType, vs VersionSpec, ds DeletedState, it ItemType) ([]*SourceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryItemsCalls++

	rev := f.resolveLocked(vs)
	table := f.tableAtLocked(rev)
	if table == nil {
		return nil, nil
	}

	path = strings.TrimSuffix(path, "/")
	if path == "" || path == "$" {
		path = "$/"
	}

	var out []*SourceItem
	for name, item := range table {
		if !matches(name, path, rec) {
			continue
		}
		if it == ItemFile && item.ItemType != ItemFile {
			continue
		}
		if it == ItemFolder && item.ItemType != ItemFolder {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteName < out[j].RemoteName })
	return out, nil
}

func matches(name, path string, rec RecursionType) bool {
	name = strings.TrimSuffix(name, "/")
	qpath := strings.TrimSuffix(path, "/")
	if name == qpath {
		return true
	}
	below := strings.HasPrefix(name, qpath+"/") || (qpath == "$" && strings.HasPrefix(name, "$/"))
	if !below {
		return false
	}
	switch rec {
	case RecursionNone:
		return false
	case RecursionOneLevel:
		rest := strings.TrimPrefix(name, qpath+"/")
		return !strings.Contains(rest, "/")
	default:
		return true
	}
}

func (f *Fake) QueryItemsByID(ids []int, revision int) ([]*SourceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.tableAtLocked(revision)
	var out []*SourceItem
	for _, id := range ids {
		for _, item := range table {
			if item.ID == id {
				cp := *item
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) QueryHistory(path string, fromRev, toRev int) ([]*Changeset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Changeset
	for _, cs := range f.history {
		if cs.ID <= fromRev || cs.ID > toRev {
			continue
		}
		for _, ch := range cs.Changes {
			if matches(ch.Item.RemoteName, path, RecursionFull) || matches(ch.PreviousName, path, RecursionFull) {
				out = append(out, cs)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetPreviousVersionOfItems(items []SourceItem, revision int) ([]*SourceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*SourceItem, len(items))
	for i, it := range items {
		// Walk the history backwards for a rename record naming this
		// item; otherwise report the item as it was before revision.
		out[i] = f.previousLocked(it, revision)
	}
	return out, nil
}

func (f *Fake) previousLocked(it SourceItem, revision int) *SourceItem {
	for j := len(f.history) - 1; j >= 0; j-- {
		cs := f.history[j]
		if cs.ID > revision {
			continue
		}
		for _, ch := range cs.Changes {
			if ch.Item.ID == it.ID && ch.ChangeType.Has(ChangeRename) && ch.PreviousName != "" {
				cp := ch.Item
				cp.RemoteName = ch.PreviousName
				cp.RemoteChangesetID = cs.ID - 1
				return &cp
			}
		}
	}
	table := f.tableAtLocked(revision - 1)
	if prev, ok := table[it.RemoteName]; ok {
		cp := *prev
		return &cp
	}
	cp := it
	cp.RemoteChangesetID = revision - 1
	return &cp
}

func (f *Fake) ReadFile(item *SourceItem) ([]byte, string, error) {
	f.mu.Lock()
	f.ReadFileCalls++
	delay := f.ReadDelay
	failErr := f.FailReads[item.RemoteName]
	data, ok := f.content[contentKey(item.RemoteName, item.RemoteChangesetID)]
	if !ok {
		// Fall back to the newest content at or before the item's
		// revision.
		for r := item.RemoteChangesetID; r > 0 && !ok; r-- {
			data, ok = f.content[contentKey(item.RemoteName, r)]
		}
	}
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failErr != nil {
		return nil, "", failErr
	}
	sum := md5.Sum(data)
	return append([]byte(nil), data...), hex.EncodeToString(sum[:]), nil
}

func (f *Fake) MakeActivity(activity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.acts[activity]; ok {
		return fmt.Errorf("activity %s already exists", activity)
	}
	f.acts[activity] = &fakeActivity{files: make(map[string][]byte)}
	return nil
}

func (f *Fake) DeleteActivity(activity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.acts[activity]; !ok {
		return ErrNoActivity
	}
	delete(f.acts, activity)
	return nil
}

func (f *Fake) activityLocked(activity string) (*fakeActivity, error) {
	act, ok := f.acts[activity]
	if !ok {
		return nil, ErrNoActivity
	}
	return act, nil
}

func (f *Fake) WriteFile(activity, path string, data []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return false, err
	}
	table := f.tableAtLocked(f.latest)
	_, exists := table[path]
	if !exists {
		_, exists = act.files[path]
	}
	act.files[path] = append([]byte(nil), data...)
	ct := ChangeAdd
	if exists {
		ct = ChangeEdit
	}
	act.writes = append(act.writes, SourceItemChange{
		Item:       SourceItem{RemoteName: path, ItemType: ItemFile, Size: int64(len(data))},
		ChangeType: ct,
	})
	return !exists, nil
}

func (f *Fake) MakeCollection(activity, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return err
	}
	act.writes = append(act.writes, SourceItemChange{
		Item:       SourceItem{RemoteName: path, ItemType: ItemFolder},
		ChangeType: ChangeAdd,
	})
	return nil
}

func (f *Fake) DeleteItem(activity, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return err
	}
	table := f.tableAtLocked(f.latest)
	it, ok := table[path]
	if !ok {
		return ErrNotFound
	}
	act.writes = append(act.writes, SourceItemChange{Item: *it, ChangeType: ChangeDelete})
	return nil
}

func (f *Fake) SetProperty(activity, path, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return err
	}
	act.writes = append(act.writes, SourceItemChange{
		Item:       SourceItem{RemoteName: path, Properties: map[string]string{name: value}},
		ChangeType: ChangeEdit,
	})
	return nil
}

func (f *Fake) RemoveProperty(activity, path, name string) error {
	return f.SetProperty(activity, path, name, "")
}

func (f *Fake) SetActivityComment(activity, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return err
	}
	act.comment = comment
	return nil
}

func (f *Fake) GetItemInActivity(activity, path string) (*SourceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return nil, err
	}
	for i := len(act.writes) - 1; i >= 0; i-- {
		if act.writes[i].Item.RemoteName == path {
			cp := act.writes[i].Item
			return &cp, nil
		}
	}
	table := f.tableAtLocked(f.latest)
	if it, ok := table[path]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (f *Fake) Commit(activity string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, err := f.activityLocked(activity)
	if err != nil {
		return 0, err
	}
	newRev := f.latest + 1
	prev := f.tableAtLocked(f.latest)
	table := make(map[string]*SourceItem, len(prev)+len(act.writes))
	for k, v := range prev {
		cp := *v
		table[k] = &cp
	}
	cs := &Changeset{ID: newRev, Comment: act.comment, Date: time.Now()}
	for _, w := range act.writes {
		item := w.Item
		item.RemoteChangesetID = newRev
		switch {
		case w.ChangeType.Has(ChangeDelete):
			delete(table, item.RemoteName)
		default:
			if existing, ok := table[item.RemoteName]; ok {
				merged := *existing
				merged.RemoteChangesetID = newRev
				merged.Size = item.Size
				for k, v := range item.Properties {
					if merged.Properties == nil {
						merged.Properties = make(map[string]string)
					}
					merged.Properties[k] = v
				}
				item = merged
			}
			cp := item
			table[item.RemoteName] = &cp
		}
		cs.Changes = append(cs.Changes, SourceItemChange{Item: item, ChangeType: w.ChangeType})
	}
	for path, data := range act.files {
		f.content[contentKey(path, newRev)] = append([]byte(nil), data...)
	}
	if root, ok := table["$/"]; ok {
		root.RemoteChangesetID = newRev
	}
	f.snapshots[newRev] = table
	f.history = append(f.history, cs)
	f.latest = newRev
	delete(f.acts, activity)
	return newRev, nil
}
