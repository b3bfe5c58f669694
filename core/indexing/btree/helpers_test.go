package btree

import (
	"errors"
	"fmt"
	"testing"

	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	"github.com/stretchr/testify/require"
)

const testPageSize = pagemanager.DefaultPageSize

var errFetchFailed = errors.New("fetch failed")

// memPool is an in-memory BufferPool that records pins and dirty unpins.
type memPool struct {
	pages    map[PageID]*pagemanager.Page
	pins     map[PageID]int
	dirty    map[PageID]bool
	fetchErr error
}

func newMemPool() *memPool {
	return &memPool{
		pages: make(map[PageID]*pagemanager.Page),
		pins:  make(map[PageID]int),
		dirty: make(map[PageID]bool),
	}
}

func (p *memPool) FetchPage(id PageID) (*pagemanager.Page, error) {
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	page, ok := p.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %d not in pool", id)
	}
	p.pins[id]++
	return page, nil
}

func (p *memPool) UnpinPage(id PageID, isDirty bool) error {
	if p.pins[id] == 0 {
		return fmt.Errorf("page %d not pinned", id)
	}
	p.pins[id]--
	if isDirty {
		p.dirty[id] = true
	}
	return nil
}

func (p *memPool) put(t *testing.T, id PageID, encode func([]byte) error) {
	t.Helper()
	page := pagemanager.NewPage(id, testPageSize)
	require.NoError(t, encode(page.GetData()))
	p.pages[id] = page
}

func (p *memPool) totalPins() int {
	n := 0
	for _, c := range p.pins {
		n += c
	}
	return n
}

func k8(v int64) Key8 { return KeyFromInt64[Key8](v) }

var cmp8 = GenericComparator[Key8]

// newLeaf builds an initialized leaf holding keys, each mapped to RID{key, 0}.
func newLeaf(t *testing.T, id, parent PageID, maxSize int, keys ...int64) *LeafPage[Key8] {
	t.Helper()
	leaf := NewLeafPage[Key8](testPageSize)
	leaf.Init(id, parent)
	if maxSize > 0 {
		leaf.SetMaxSize(maxSize)
	}
	for _, k := range keys {
		leaf.Insert(k8(k), NewRID(PageID(k), 0), cmp8)
	}
	return leaf
}

func leafKeys(leaf *LeafPage[Key8]) []int64 {
	keys := make([]int64, 0, leaf.GetSize())
	for i := 0; i < leaf.GetSize(); i++ {
		keys = append(keys, Int64FromKey(leaf.KeyAt(i)))
	}
	return keys
}

// newParent builds an internal page whose children are ids, separated by seps.
func newParent(t *testing.T, id PageID, ids []PageID, seps []int64) *InternalPage[Key8] {
	t.Helper()
	require.Len(t, seps, len(ids)-1)
	parent := NewInternalPage[Key8](testPageSize)
	parent.Init(id, InvalidPageID)
	parent.PopulateNewRoot(ids[0], k8(seps[0]), ids[1])
	for i := 2; i < len(ids); i++ {
		parent.InsertNodeAfter(ids[i-1], k8(seps[i-1]), ids[i])
	}
	return parent
}
