package btree

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// childEntry is one internal page slot. The key of slot 0 is never read: child
// 0 holds every key below KeyAt(1).
type childEntry[K Key] struct {
	key   K
	child PageID
}

func InternalEntrySize[K Key]() int {
	return KeyWidth[K]() + 4
}

func InternalMaxSize[K Key](pageSize int) int {
	return ComputeMaxSize(pageSize, InternalPageHeaderSize, InternalEntrySize[K]())
}

// InternalPage is the decoded form of an internal page: size child pointers
// separated by size-1 keys. Child i holds the keys in [KeyAt(i), KeyAt(i+1)).
type InternalPage[K Key] struct {
	TreePage
	pageSize int
	array    []childEntry[K]
}

func NewInternalPage[K Key](pageSize int) *InternalPage[K] {
	return &InternalPage[K]{pageSize: pageSize}
}

func (p *InternalPage[K]) Init(pageID, parentID PageID) {
	p.pageType = InternalPageType
	p.lsn = 0
	p.pageID = pageID
	p.parentPageID = parentID
	p.maxSize = InternalMaxSize[K](p.pageSize)
	if p.maxSize < 2 {
		panic(fmt.Sprintf("btree: page size %d cannot hold an internal page of %d-byte entries", p.pageSize, InternalEntrySize[K]()))
	}
	p.array = make([]childEntry[K], 0, p.maxSize+1)
}

func (p *InternalPage[K]) GetSize() int { return len(p.array) }

func (p *InternalPage[K]) checkIndex(index int) {
	if index < 0 || index >= len(p.array) {
		panic(fmt.Sprintf("btree: internal %d index %d out of range [0, %d)", p.pageID, index, len(p.array)))
	}
}

func (p *InternalPage[K]) KeyAt(index int) K {
	p.checkIndex(index)
	return p.array[index].key
}

func (p *InternalPage[K]) SetKeyAt(index int, key K) {
	p.checkIndex(index)
	p.array[index].key = key
}

func (p *InternalPage[K]) ValueAt(index int) PageID {
	p.checkIndex(index)
	return p.array[index].child
}

// ValueIndex returns the slot pointing at child, or -1.
func (p *InternalPage[K]) ValueIndex(child PageID) int {
	for i := range p.array {
		if p.array[i].child == child {
			return i
		}
	}
	return -1
}

// Lookup returns the child whose key range covers key.
func (p *InternalPage[K]) Lookup(key K, comparator KeyComparator[K]) PageID {
	if len(p.array) == 0 {
		panic(fmt.Sprintf("btree: lookup in empty internal page %d", p.pageID))
	}
	// first slot in [1, size) whose key is greater than key
	b, e := 1, len(p.array)
	for b < e {
		mid := b + (e-b)/2
		if comparator(p.array[mid].key, key) <= 0 {
			b = mid + 1
		} else {
			e = mid
		}
	}
	return p.array[b-1].child
}

// PopulateNewRoot fills an empty root with two children split at newKey.
func (p *InternalPage[K]) PopulateNewRoot(oldChild PageID, newKey K, newChild PageID) {
	if len(p.array) != 0 {
		panic(fmt.Sprintf("btree: populate non-empty root %d", p.pageID))
	}
	p.array = append(p.array, childEntry[K]{child: oldChild}, childEntry[K]{key: newKey, child: newChild})
}

// InsertNodeAfter adds (newKey, newChild) right after the slot of oldChild and
// returns the new size. Like a leaf, the page may end one entry over max size.
func (p *InternalPage[K]) InsertNodeAfter(oldChild PageID, newKey K, newChild PageID) int {
	index := p.ValueIndex(oldChild)
	if index < 0 {
		panic(fmt.Sprintf("btree: child %d not found in internal page %d", oldChild, p.pageID))
	}
	if len(p.array) > p.maxSize {
		panic(fmt.Sprintf("btree: insert into internal page %d already holding %d entries", p.pageID, len(p.array)))
	}
	p.array = append(p.array, childEntry[K]{})
	copy(p.array[index+2:], p.array[index+1:])
	p.array[index+1] = childEntry[K]{key: newKey, child: newChild}
	return len(p.array)
}

// Remove deletes the slot at index, keeping the array contiguous.
func (p *InternalPage[K]) Remove(index int) {
	p.checkIndex(index)
	copy(p.array[index:], p.array[index+1:])
	p.array = p.array[:len(p.array)-1]
}

// RemoveAndReturnOnlyChild empties a root left with a single child and returns it.
func (p *InternalPage[K]) RemoveAndReturnOnlyChild() PageID {
	if len(p.array) != 1 {
		panic(fmt.Sprintf("btree: internal page %d has %d children, want 1", p.pageID, len(p.array)))
	}
	child := p.array[0].child
	p.array = p.array[:0]
	return child
}

func (p *InternalPage[K]) EncodeTo(data []byte) error {
	entrySize := InternalEntrySize[K]()
	end := InternalPageHeaderSize + len(p.array)*entrySize
	if len(data) < end {
		return fmt.Errorf("%w: internal %d needs %d bytes, have %d", ErrPageTooSmall, p.pageID, end, len(data))
	}
	p.encodeHeader(data, len(p.array))

	width := KeyWidth[K]()
	off := InternalPageHeaderSize
	for i := range p.array {
		copy(data[off:off+width], keyBytes(&p.array[i].key))
		binary.LittleEndian.PutUint32(data[off+width:], uint32(p.array[i].child))
		off += entrySize
	}
	clear(data[end:])
	return nil
}

func DecodeInternalPage[K Key](data []byte) (*InternalPage[K], error) {
	p := NewInternalPage[K](len(data))
	size, err := p.decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if p.pageType != InternalPageType {
		return nil, fmt.Errorf("%w: page %d has type %s", ErrNotInternalPage, p.pageID, p.pageType)
	}
	limit := InternalMaxSize[K](len(data))
	if p.maxSize < 2 || p.maxSize > limit || size < 0 || size > p.maxSize+1 {
		return nil, fmt.Errorf("%w: internal %d size=%d max=%d limit=%d", ErrCorruptPage, p.pageID, size, p.maxSize, limit)
	}

	width := KeyWidth[K]()
	entrySize := InternalEntrySize[K]()
	p.array = make([]childEntry[K], size, p.maxSize+1)
	off := InternalPageHeaderSize
	for i := range p.array {
		p.array[i].key = KeyFromBytes[K](data[off : off+width])
		p.array[i].child = PageID(binary.LittleEndian.Uint32(data[off+width:]))
		off += entrySize
	}
	return p, nil
}

func (p *InternalPage[K]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[pageId: %d parentId: %d]<%d>", p.pageID, p.parentPageID, len(p.array))
	for i, e := range p.array {
		if i == 0 {
			fmt.Fprintf(&sb, " (%d)", e.child)
			continue
		}
		fmt.Fprintf(&sb, " %d (%d)", Int64FromKey(e.key), e.child)
	}
	return sb.String()
}
