// Package cache memoizes source control listings per revision. Replay of a
// changeset range touches the same (revision, directory) pair from many code
// paths; one recursive upstream fetch amortizes all of them.
package cache

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/item"
	"github.com/HYDPublic/SvnBridge/tfs"
)

// MetaCache is a process-wide, revision-partitioned cache of item
// listings. The upstream identity (server URL, credentials) is bound into
// the SourceControl client, so one MetaCache serves exactly one
// (server, user) pair; the owner keys caches by that pair.
//
// Entries are immutable once inserted; invalidation is whole-cache Clear.
// Population is single-flight per (revision, path): the first caller
// inserts a pending future and performs the upstream call, concurrent
// callers await the same future.
type MetaCache struct {
	source tfs.SourceControl
	policy svnbridge.CasePolicy
	log    *log.Logger

	mu        sync.Mutex
	items     map[string]*item.Item // rev|path -> canonical entry
	listings  map[string][]string   // rev|path|rec -> ordered canonical keys
	members   map[string]map[string]bool
	populated map[string]bool // rev|path -> full-depth population roots
	negative  map[string]bool // rev|path -> subtree known absent
	inflight  map[string]*population

	hits    metrics.Counter
	misses  metrics.Counter
	negHits metrics.Counter
}

type population struct {
	done chan struct{}
	err  error
}

// New constructs a MetaCache over source. A nil registry falls back to the
// go-metrics default registry.
func New(source tfs.SourceControl, policy svnbridge.CasePolicy, logger *log.Logger, reg metrics.Registry) *MetaCache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &MetaCache{
		source:  source,
		policy:  policy,
		log:     logger,
		hits:    metrics.NewRegisteredCounter("metacache.hits", reg),
		misses:  metrics.NewRegisteredCounter("metacache.misses", reg),
		negHits: metrics.NewRegisteredCounter("metacache.negative-hits", reg),
	}
	c.resetLocked()
	return c
}

func (c *MetaCache) resetLocked() {
	c.items = make(map[string]*item.Item)
	c.listings = make(map[string][]string)
	c.members = make(map[string]map[string]bool)
	c.populated = make(map[string]bool)
	c.negative = make(map[string]bool)
	c.inflight = make(map[string]*population)
}

// addToListingLocked appends key to the listing once. Overlapping
// populations of the same revision see identical subtrees, so first-seen
// order stays ascending.
func (c *MetaCache) addToListingLocked(lk, key string) {
	set := c.members[lk]
	if set == nil {
		set = make(map[string]bool)
		c.members[lk] = set
	}
	if set[key] {
		return
	}
	set[key] = true
	c.listings[lk] = append(c.listings[lk], key)
}

// Clear drops every entry. In-flight populations finish and publish into
// the fresh maps.
func (c *MetaCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	inflight := c.inflight
	c.resetLocked()
	c.inflight = inflight
}

// Stats reports entry counts for the stats endpoint.
func (c *MetaCache) Stats() (items, listings, negatives int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), len(c.listings), len(c.negative)
}

func (c *MetaCache) itemKey(revision int, path string) string {
	return fmt.Sprintf("%d|%s", revision, c.policy.Fold(path))
}

func (c *MetaCache) listingKey(revision int, path string, rec tfs.RecursionType) string {
	return fmt.Sprintf("%d|%s|%d", revision, c.policy.Fold(path), rec)
}

func normalize(path string) string {
	if svnbridge.IsRootPath(path) {
		return svnbridge.ServerRootPath
	}
	if n := len(path); n > 0 && path[n-1] == '/' {
		return path[:n-1]
	}
	return path
}

// QueryItems returns the listing for path at revision, sorted ascending by
// full path. A none-recursion query for the server root always goes
// straight upstream: the root listing is too large and too frequently
// needed in narrow form to benefit from full-depth caching.
func (c *MetaCache) QueryItems(revision int, path string, rec tfs.RecursionType) ([]*item.Item, error) {
	path = normalize(path)

	if rec == tfs.RecursionNone && svnbridge.IsRootPath(path) {
		src, err := c.source.QueryItems(path, rec, tfs.ChangesetVersion(revision), tfs.NonDeleted, tfs.ItemAny)
		if err != nil {
			return nil, errors.Wrapf(err, "querying root at %d", revision)
		}
		return convertSorted(src), nil
	}

	for {
		c.mu.Lock()
		if c.negativeCoversLocked(revision, path) {
			c.mu.Unlock()
			c.negHits.Inc(1)
			return nil, nil
		}
		if keys, ok := c.listings[c.listingKey(revision, path, rec)]; ok {
			out := c.collectLocked(keys)
			c.mu.Unlock()
			c.hits.Inc(1)
			return out, nil
		}
		if c.populatedCoversLocked(revision, path) {
			// A full-depth population covered this path and found
			// nothing there.
			c.mu.Unlock()
			c.hits.Inc(1)
			return nil, nil
		}

		pkey := c.itemKey(revision, path)
		if p, ok := c.inflight[pkey]; ok {
			c.mu.Unlock()
			<-p.done
			if p.err != nil {
				return nil, p.err
			}
			continue
		}
		p := &population{done: make(chan struct{})}
		c.inflight[pkey] = p
		c.mu.Unlock()

		c.misses.Inc(1)
		p.err = c.populate(revision, path)

		c.mu.Lock()
		delete(c.inflight, pkey)
		c.mu.Unlock()
		close(p.done)

		if p.err != nil {
			return nil, p.err
		}
	}
}

// QueryItemsMulti is the array variant: the union of per-path queries,
// deduplicated and sorted.
func (c *MetaCache) QueryItemsMulti(revision int, paths []string, rec tfs.RecursionType) ([]*item.Item, error) {
	seen := make(map[string]bool)
	var out []*item.Item
	for _, p := range paths {
		items, err := c.QueryItems(revision, p, rec)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			k := c.policy.Fold(it.Name)
			if !seen[k] {
				seen[k] = true
				out = append(out, it)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// QueryItemsByID resolves ids at a revision. Id-keyed results are not
// revision-path shaped, so they bypass the cache.
func (c *MetaCache) QueryItemsByID(revision int, ids []int) ([]*item.Item, error) {
	src, err := c.source.QueryItemsByID(ids, revision)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %d ids at %d", len(ids), revision)
	}
	out := make([]*item.Item, 0, len(src))
	for _, s := range src {
		out = append(out, item.FromSource(s))
	}
	return out, nil
}

// IsCached reports whether path, or any ancestor of it, has been
// populated at revision.
func (c *MetaCache) IsCached(revision int, path string) bool {
	path = normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[c.itemKey(revision, path)]; ok {
		return true
	}
	return c.populatedCoversLocked(revision, path) || c.negativeCoversLocked(revision, path)
}

// populatedCoversLocked reports whether path or an ancestor is a
// full-depth population root at revision.
func (c *MetaCache) populatedCoversLocked(revision int, path string) bool {
	for {
		if c.populated[c.itemKey(revision, path)] {
			return true
		}
		if svnbridge.IsRootPath(path) {
			return false
		}
		path = svnbridge.ParentPath(path)
	}
}

func (c *MetaCache) negativeCoversLocked(revision int, path string) bool {
	for {
		if c.negative[c.itemKey(revision, path)] {
			return true
		}
		if svnbridge.IsRootPath(path) {
			return false
		}
		path = svnbridge.ParentPath(path)
	}
}

func (c *MetaCache) collectLocked(keys []string) []*item.Item {
	out := make([]*item.Item, 0, len(keys))
	for _, k := range keys {
		if it, ok := c.items[k]; ok {
			out = append(out, it.Clone())
		}
	}
	return out
}

// populate performs the upstream fetch for (revision, path) and fans the
// result out across the listing keys that let narrower queries hit without
// network I/O.
func (c *MetaCache) populate(revision int, path string) error {
	src, err := c.source.QueryItems(path, tfs.RecursionFull, tfs.ChangesetVersion(revision), tfs.NonDeleted, tfs.ItemAny)
	if err != nil {
		return errors.Wrapf(err, "populating %s at %d", path, revision)
	}

	// A single file means the query hit a leaf; re-fetch from its parent
	// so the siblings land in the cache too. One level only.
	if len(src) == 1 && src[0].ItemType == tfs.ItemFile {
		path = svnbridge.ParentPath(path)
		src, err = c.source.QueryItems(path, tfs.RecursionFull, tfs.ChangesetVersion(revision), tfs.NonDeleted, tfs.ItemAny)
		if err != nil {
			return errors.Wrapf(err, "populating parent %s at %d", path, revision)
		}
	}

	if len(src) == 0 {
		// Prove the parent empty before writing a negative entry for
		// it, so future lookups in the same non-existent subtree are
		// suppressed.
		parent := svnbridge.ParentPath(path)
		parentSrc, err := c.source.QueryItems(parent, tfs.RecursionNone, tfs.ChangesetVersion(revision), tfs.NonDeleted, tfs.ItemAny)
		if err != nil {
			return errors.Wrapf(err, "probing parent %s at %d", parent, revision)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(parentSrc) == 0 {
			c.negative[c.itemKey(revision, parent)] = true
		}
		c.negative[c.itemKey(revision, path)] = true
		return nil
	}

	items := convertSorted(src)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.populated[c.itemKey(revision, path)] = true
	for _, it := range items {
		key := c.itemKey(revision, it.Name)
		if _, ok := c.items[key]; !ok {
			c.items[key] = it
		}

		// Own path: visible at every recursion depth.
		for _, rec := range []tfs.RecursionType{tfs.RecursionNone, tfs.RecursionOneLevel, tfs.RecursionFull} {
			c.addToListingLocked(c.listingKey(revision, it.Name, rec), key)
		}

		// Parent and transitive ancestors, within the populated subtree
		// only: listings rooted outside it would be incomplete.
		if c.policy.EqualPaths(it.Name, path) {
			continue
		}
		anc := svnbridge.ParentPath(it.Name)
		first := true
		for c.policy.UnderRoot(path, anc) {
			if first {
				c.addToListingLocked(c.listingKey(revision, anc, tfs.RecursionOneLevel), key)
			}
			c.addToListingLocked(c.listingKey(revision, anc, tfs.RecursionFull), key)
			if c.policy.EqualPaths(anc, path) {
				break
			}
			anc = svnbridge.ParentPath(anc)
			first = false
		}
	}
	return nil
}

func convertSorted(src []*tfs.SourceItem) []*item.Item {
	out := make([]*item.Item, 0, len(src))
	for _, s := range src {
		out = append(out, item.FromSource(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
