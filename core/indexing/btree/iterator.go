package btree

import (
	"fmt"
)

// IndexIterator walks leaf entries in key order across the sibling chain. It
// keeps exactly one leaf pinned at a time and releases it on Close.
type IndexIterator[K Key] struct {
	bp     BufferPool
	leaf   *LeafPage[K]
	pinned PageID
	index  int
	closed bool
	// seen holds every leaf visited so a looping chain is reported, not walked.
	seen map[PageID]struct{}
}

// NewIndexIterator positions an iterator at the first entry >= start in the
// leaf leafID. Entries below start in later leaves are not filtered; callers
// begin at the leaf that covers start.
func NewIndexIterator[K Key](bp BufferPool, leafID PageID, start K, comparator KeyComparator[K]) (*IndexIterator[K], error) {
	it := &IndexIterator[K]{bp: bp, pinned: InvalidPageID, seen: make(map[PageID]struct{})}
	if err := it.load(leafID); err != nil {
		return nil, err
	}
	it.index = it.leaf.KeyIndex(start, comparator)
	return it, nil
}

// NewIndexIteratorAtStart positions an iterator at the first entry of leafID.
func NewIndexIteratorAtStart[K Key](bp BufferPool, leafID PageID) (*IndexIterator[K], error) {
	it := &IndexIterator[K]{bp: bp, pinned: InvalidPageID, seen: make(map[PageID]struct{})}
	if err := it.load(leafID); err != nil {
		return nil, err
	}
	return it, nil
}

// load pins and decodes leafID, then releases the previously pinned leaf.
func (it *IndexIterator[K]) load(leafID PageID) error {
	page, err := it.bp.FetchPage(leafID)
	if err != nil {
		return fmt.Errorf("%w %d: %w", ErrSiblingPageFetch, leafID, err)
	}
	page.RLock()
	leaf, err := DecodeLeafPage[K](page.GetData())
	page.RUnlock()
	if err != nil {
		_ = it.bp.UnpinPage(leafID, false)
		return err
	}
	if it.pinned != InvalidPageID {
		if err := it.bp.UnpinPage(it.pinned, false); err != nil {
			_ = it.bp.UnpinPage(leafID, false)
			return err
		}
	}
	it.leaf = leaf
	it.pinned = leafID
	it.index = 0
	it.seen[leafID] = struct{}{}
	return nil
}

// Next returns the current entry and advances. ok is false once the chain is
// exhausted.
func (it *IndexIterator[K]) Next() (key K, value RID, ok bool, err error) {
	if it.closed {
		return key, value, false, ErrIteratorInvalid
	}
	for it.index >= it.leaf.GetSize() {
		next := it.leaf.GetNextPageID()
		if next == InvalidPageID {
			return key, value, false, nil
		}
		if _, ok := it.seen[next]; ok {
			return key, value, false, fmt.Errorf("%w: leaf chain loops back to page %d", ErrCorruptPage, next)
		}
		if err := it.load(next); err != nil {
			return key, value, false, err
		}
	}
	item := it.leaf.GetItem(it.index)
	it.index++
	return item.Key, item.Value, true, nil
}

// Close unpins the current leaf. It is safe to call more than once.
func (it *IndexIterator[K]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.pinned == InvalidPageID {
		return nil
	}
	id := it.pinned
	it.pinned = InvalidPageID
	return it.bp.UnpinPage(id, false)
}
