package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/tfs"
)

func newTestFake() *tfs.Fake {
	f := tfs.NewFake()
	f.SetSnapshot(5,
		&tfs.SourceItem{RemoteName: "$/proj", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/dir", ItemType: tfs.ItemFolder},
		&tfs.SourceItem{RemoteName: "$/proj/dir/a.txt", ItemType: tfs.ItemFile, Size: 3},
		&tfs.SourceItem{RemoteName: "$/proj/dir/b.txt", ItemType: tfs.ItemFile, Size: 4},
		&tfs.SourceItem{RemoteName: "$/proj/top.txt", ItemType: tfs.ItemFile, Size: 5},
	)
	return f
}

func newTestCache(f *tfs.Fake) *MetaCache {
	return New(f, svnbridge.CasePolicy{Sensitive: false}, nil, nil)
}

func TestQueryItemsPopulatesAndServesNarrowQueries(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	items, err := c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)
	require.Len(t, items, 5)
	// Ascending by full path.
	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1].Name, items[i].Name)
	}

	calls := f.QueryItemsCalls

	// Narrow queries inside the populated subtree are served from cache.
	// A listing always includes the queried path itself.
	one, err := c.QueryItems(5, "$/proj/dir", tfs.RecursionOneLevel)
	require.NoError(t, err)
	require.Len(t, one, 3)
	assert.Equal(t, "$/proj/dir", one[0].Name)
	assert.Equal(t, "$/proj/dir/a.txt", one[1].Name)
	assert.Equal(t, "$/proj/dir/b.txt", one[2].Name)

	none, err := c.QueryItems(5, "$/proj/dir/a.txt", tfs.RecursionNone)
	require.NoError(t, err)
	require.Len(t, none, 1)

	full, err := c.QueryItems(5, "$/proj/dir", tfs.RecursionFull)
	require.NoError(t, err)
	require.Len(t, full, 3)

	assert.Equal(t, calls, f.QueryItemsCalls, "narrow queries must not hit upstream")
}

func TestQueryItemsSingleFileRetriesParent(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	items, err := c.QueryItems(5, "$/proj/dir/a.txt", tfs.RecursionNone)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "$/proj/dir/a.txt", items[0].Name)

	// The retry populated the parent directory, so the sibling is cached.
	calls := f.QueryItemsCalls
	sib, err := c.QueryItems(5, "$/proj/dir/b.txt", tfs.RecursionNone)
	require.NoError(t, err)
	require.Len(t, sib, 1)
	assert.Equal(t, calls, f.QueryItemsCalls)
}

func TestQueryItemsNegativeCache(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	items, err := c.QueryItems(5, "$/gone/sub/file.txt", tfs.RecursionNone)
	require.NoError(t, err)
	assert.Empty(t, items)

	// The absent parent got a negative entry; lookups anywhere in the
	// same non-existent subtree stop hitting upstream.
	calls := f.QueryItemsCalls
	items, err = c.QueryItems(5, "$/gone/sub/other.txt", tfs.RecursionNone)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, calls, f.QueryItemsCalls)
}

func TestQueryItemsAbsentPathWithExistingParent(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	// Populate the subtree first; an absent leaf inside it is answered
	// from the population marker without another upstream call.
	_, err := c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)

	calls := f.QueryItemsCalls
	items, err := c.QueryItems(5, "$/proj/dir/nope.txt", tfs.RecursionNone)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, calls, f.QueryItemsCalls)
}

func TestRootNoneRecursionBypassesCache(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	_, err := c.QueryItems(5, "$/", tfs.RecursionNone)
	require.NoError(t, err)
	calls := f.QueryItemsCalls
	_, err = c.QueryItems(5, "$/", tfs.RecursionNone)
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.QueryItemsCalls, "root none-recursion goes upstream every time")
}

func TestIsCached(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	assert.False(t, c.IsCached(5, "$/proj/dir"))
	_, err := c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)
	assert.True(t, c.IsCached(5, "$/proj"))
	assert.True(t, c.IsCached(5, "$/proj/dir"), "descendants of a populated root are covered")
	assert.True(t, c.IsCached(5, "$/proj/dir/a.txt"))
	assert.False(t, c.IsCached(7, "$/proj"), "revisions are partitioned")
}

func TestClear(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	_, err := c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)
	c.Clear()
	assert.False(t, c.IsCached(5, "$/proj"))

	calls := f.QueryItemsCalls
	_, err = c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)
	assert.Greater(t, f.QueryItemsCalls, calls)
}

func TestReturnedItemsAreClones(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	first, err := c.QueryItems(5, "$/proj/dir", tfs.RecursionOneLevel)
	require.NoError(t, err)
	first[0].Name = "mutated"
	first[0].ItemRevision = 999

	second, err := c.QueryItems(5, "$/proj/dir", tfs.RecursionOneLevel)
	require.NoError(t, err)
	assert.Equal(t, "$/proj/dir/a.txt", second[0].Name)
	assert.NotEqual(t, 999, second[0].ItemRevision)
}

func TestSingleFlightPopulation(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.QueryItems(5, "$/proj", tfs.RecursionFull)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	// One recursive population; concurrent callers awaited the same
	// future. (The fake counts every upstream query.)
	assert.Equal(t, 1, f.QueryItemsCalls)
}

func TestQueryItemsMulti(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	items, err := c.QueryItemsMulti(5, []string{"$/proj/dir", "$/proj/top.txt", "$/proj/dir"}, tfs.RecursionNone)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "$/proj/dir", items[0].Name)
	assert.Equal(t, "$/proj/top.txt", items[1].Name)
}

func TestCaseInsensitiveLookup(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	_, err := c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)

	calls := f.QueryItemsCalls
	items, err := c.QueryItems(5, "$/PROJ/DIR", tfs.RecursionOneLevel)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, calls, f.QueryItemsCalls)
}

func TestQueryItemsByID(t *testing.T) {
	f := newTestFake()
	c := newTestCache(f)

	all, err := c.QueryItems(5, "$/proj", tfs.RecursionFull)
	require.NoError(t, err)
	var id int
	for _, it := range all {
		if it.Name == "$/proj/top.txt" {
			id = it.ID
		}
	}
	require.NotZero(t, id)

	items, err := c.QueryItemsByID(5, []int{id})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "$/proj/top.txt", items[0].Name)
}
