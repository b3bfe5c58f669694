package btree

import (
	"encoding/binary"
	"fmt"
	"strings"

	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
)

// BufferPool is the part of the buffer pool a tree page needs to reach its parent.
// Fetched pages are pinned and must be released with UnpinPage.
type BufferPool interface {
	FetchPage(pageID PageID) (*pagemanager.Page, error)
	UnpinPage(pageID PageID, isDirty bool) error
}

// Mapping is one leaf entry.
type Mapping[K Key] struct {
	Key   K
	Value RID
}

// LeafEntrySize is the encoded size of one Mapping[K].
func LeafEntrySize[K Key]() int {
	return KeyWidth[K]() + RIDSize
}

// LeafMaxSize is the capacity of a leaf page of K keys in a pageSize budget.
func LeafMaxSize[K Key](pageSize int) int {
	return ComputeMaxSize(pageSize, LeafPageHeaderSize, LeafEntrySize[K]())
}

// LeafPage is the decoded form of a leaf page: a key-ordered array of
// (key, RID) entries plus a link to the next leaf in key order.
//
// A LeafPage is an owned copy of a page frame's bytes. Callers decode it with
// DecodeLeafPage while holding the frame's latch, mutate it, and write it back
// with EncodeTo before unpinning. It does no locking of its own.
type LeafPage[K Key] struct {
	TreePage
	pageSize   int
	nextPageID PageID
	array      []Mapping[K]
}

// NewLeafPage returns an uninitialized leaf for a page of pageSize bytes.
func NewLeafPage[K Key](pageSize int) *LeafPage[K] {
	return &LeafPage[K]{pageSize: pageSize, nextPageID: InvalidPageID}
}

// --- Header ---

// Init sets up a freshly allocated leaf: type, empty array, ids, no next leaf,
// and the capacity derived from the page budget.
func (l *LeafPage[K]) Init(pageID, parentID PageID) {
	l.pageType = LeafPageType
	l.lsn = 0
	l.pageID = pageID
	l.parentPageID = parentID
	l.nextPageID = InvalidPageID
	l.maxSize = LeafMaxSize[K](l.pageSize)
	if l.maxSize < 1 {
		panic(fmt.Sprintf("btree: page size %d cannot hold a leaf of %d-byte entries", l.pageSize, LeafEntrySize[K]()))
	}
	l.array = make([]Mapping[K], 0, l.maxSize+1)
}

// SetMaxSize lowers the page capacity below what the byte budget allows.
func (l *LeafPage[K]) SetMaxSize(maxSize int) {
	if limit := LeafMaxSize[K](l.pageSize); maxSize < 1 || maxSize > limit {
		panic(fmt.Sprintf("btree: leaf max size %d outside [1, %d]", maxSize, limit))
	}
	if len(l.array) > maxSize+1 {
		panic(fmt.Sprintf("btree: leaf %d holds %d entries, cannot shrink max size to %d", l.pageID, len(l.array), maxSize))
	}
	l.maxSize = maxSize
}

func (l *LeafPage[K]) GetSize() int            { return len(l.array) }
func (l *LeafPage[K]) GetPageSize() int        { return l.pageSize }
func (l *LeafPage[K]) GetNextPageID() PageID   { return l.nextPageID }
func (l *LeafPage[K]) SetNextPageID(id PageID) { l.nextPageID = id }
func (l *LeafPage[K]) IsFull() bool            { return len(l.array) > l.maxSize }
func (l *LeafPage[K]) IsUnderflowing() bool    { return len(l.array) < l.GetMinSize() }
func (l *LeafPage[K]) Entries() []Mapping[K]   { return append([]Mapping[K](nil), l.array...) }
func (l *LeafPage[K]) checkIndex(index int) {
	if index < 0 || index >= len(l.array) {
		panic(fmt.Sprintf("btree: leaf %d index %d out of range [0, %d)", l.pageID, index, len(l.array)))
	}
}

// KeyIndex returns the first index i such that array[i].Key >= key, or the
// size of the page when every key is smaller.
func (l *LeafPage[K]) KeyIndex(key K, comparator KeyComparator[K]) int {
	b, e := 0, len(l.array)
	for b < e {
		mid := b + (e-b)/2
		if comparator(l.array[mid].Key, key) < 0 {
			b = mid + 1
		} else {
			e = mid
		}
	}
	return b
}

// KeyAt returns the key stored at index; index must be in [0, size).
func (l *LeafPage[K]) KeyAt(index int) K {
	l.checkIndex(index)
	return l.array[index].Key
}

// GetItem returns the entry stored at index; index must be in [0, size).
func (l *LeafPage[K]) GetItem(index int) Mapping[K] {
	l.checkIndex(index)
	return l.array[index]
}

// --- Insertion ---

// Insert places (key, value) in key order and returns the new size. The page
// may end one entry over its max size; the caller splits it then. Inserting a
// key that is already present is not allowed.
func (l *LeafPage[K]) Insert(key K, value RID, comparator KeyComparator[K]) int {
	if len(l.array) > l.maxSize {
		panic(fmt.Sprintf("btree: insert into leaf %d already holding %d entries (max %d)", l.pageID, len(l.array), l.maxSize))
	}
	l.array = append(l.array, Mapping[K]{})
	i := len(l.array) - 2
	for ; i >= 0; i-- {
		if comparator(l.array[i].Key, key) <= 0 {
			break
		}
		l.array[i+1] = l.array[i]
	}
	l.array[i+1] = Mapping[K]{Key: key, Value: value}
	return len(l.array)
}

// --- Split ---

// MoveHalfTo splits an overflowing page. Entries from ceil((max+1)/2) on move to
// the empty recipient, which joins this page's parent and is linked in right
// after this page in the chain.
// The caller adds the separator for the recipient to the parent.
func (l *LeafPage[K]) MoveHalfTo(recipient *LeafPage[K]) {
	if recipient == nil {
		panic("btree: split into nil recipient")
	}
	if len(l.array) != l.maxSize+1 {
		panic(fmt.Sprintf("btree: split of leaf %d with %d entries, want %d", l.pageID, len(l.array), l.maxSize+1))
	}
	if len(recipient.array) != 0 {
		panic(fmt.Sprintf("btree: split into non-empty leaf %d", recipient.pageID))
	}

	total := len(l.array)
	start := (total + 1) / 2
	recipient.CopyHalfFrom(l.array[start:])
	l.array = l.array[:start]

	recipient.parentPageID = l.parentPageID
	recipient.nextPageID = l.nextPageID
	l.nextPageID = recipient.pageID
}

// CopyHalfFrom appends items to an empty page.
func (l *LeafPage[K]) CopyHalfFrom(items []Mapping[K]) {
	if len(items) > l.maxSize {
		panic(fmt.Sprintf("btree: %d entries exceed leaf %d max size %d", len(items), l.pageID, l.maxSize))
	}
	l.array = append(l.array, items...)
}

// --- Lookup ---

// Lookup returns the value stored for key, if key is present.
func (l *LeafPage[K]) Lookup(key K, comparator KeyComparator[K]) (RID, bool) {
	index := l.KeyIndex(key, comparator)
	if index < len(l.array) && comparator(l.array[index].Key, key) == 0 {
		return l.array[index].Value, true
	}
	return RID{}, false
}

// --- Remove ---

// RemoveAndDeleteRecord deletes key if present, keeping the array contiguous,
// and reports whether it was found. The caller checks for underflow.
func (l *LeafPage[K]) RemoveAndDeleteRecord(key K, comparator KeyComparator[K]) bool {
	index := l.KeyIndex(key, comparator)
	if index >= len(l.array) || comparator(l.array[index].Key, key) != 0 {
		return false
	}
	copy(l.array[index:], l.array[index+1:])
	l.array = l.array[:len(l.array)-1]
	return true
}

// --- Merge ---

// MoveAllTo appends every entry of this page to recipient, its left neighbour,
// and unlinks this page from the chain. This page is left empty for the caller
// to free; the caller also removes its separator from the parent.
func (l *LeafPage[K]) MoveAllTo(recipient *LeafPage[K]) {
	if recipient == nil {
		panic("btree: merge into nil recipient")
	}
	if len(recipient.array)+len(l.array) > recipient.maxSize {
		panic(fmt.Sprintf("btree: merge of leaf %d (%d entries) into leaf %d (%d entries) exceeds max size %d",
			l.pageID, len(l.array), recipient.pageID, len(recipient.array), recipient.maxSize))
	}
	recipient.CopyAllFrom(l.array)
	recipient.nextPageID = l.nextPageID
	l.array = l.array[:0]
	l.nextPageID = InvalidPageID
}

// CopyAllFrom appends items after the existing entries.
func (l *LeafPage[K]) CopyAllFrom(items []Mapping[K]) {
	if len(l.array)+len(items) > l.maxSize+1 {
		panic(fmt.Sprintf("btree: %d more entries overflow leaf %d", len(items), l.pageID))
	}
	l.array = append(l.array, items...)
}

// --- Redistribute ---

// MoveFirstToEndOf moves this page's first entry to the end of recipient, its
// left neighbour under the same parent, and re-points the parent's separator
// for this page at the new first key.
//
// The parent is fetched before anything changes, so a fetch failure leaves both
// leaves and the parent untouched.
func (l *LeafPage[K]) MoveFirstToEndOf(recipient *LeafPage[K], bp BufferPool) (err error) {
	l.checkBorrow(recipient)

	parentPage, parent, err := fetchParent[K](bp, l.parentPageID)
	if err != nil {
		return err
	}
	dirty := false
	defer func() {
		if uerr := bp.UnpinPage(parentPage.GetPageID(), dirty); uerr != nil && err == nil {
			err = uerr
		}
	}()

	index := parent.ValueIndex(l.pageID)
	if index <= 0 || parent.ValueAt(index-1) != recipient.pageID {
		panic(fmt.Sprintf("btree: leaf %d is not the right neighbour of leaf %d in parent %d", l.pageID, recipient.pageID, l.parentPageID))
	}

	item := l.array[0]
	parent.Remove(index)
	parent.InsertNodeAfter(recipient.pageID, l.array[1].Key, l.pageID)
	if err := parent.EncodeTo(parentPage.GetData()); err != nil {
		return err
	}
	dirty = true

	copy(l.array, l.array[1:])
	l.array = l.array[:len(l.array)-1]
	recipient.CopyLastFrom(item)
	return nil
}

// CopyLastFrom appends one entry.
func (l *LeafPage[K]) CopyLastFrom(item Mapping[K]) {
	if len(l.array) > l.maxSize {
		panic(fmt.Sprintf("btree: append to full leaf %d", l.pageID))
	}
	l.array = append(l.array, item)
}

// MoveLastToFrontOf moves this page's last entry to the front of recipient, its
// right neighbour under the same parent, and re-points the parent's separator
// for recipient at the moved key, which is recipient's new minimum.
//
// The parent is fetched before anything changes, so a fetch failure leaves both
// leaves and the parent untouched.
func (l *LeafPage[K]) MoveLastToFrontOf(recipient *LeafPage[K], bp BufferPool) (err error) {
	l.checkBorrow(recipient)

	parentPage, parent, err := fetchParent[K](bp, l.parentPageID)
	if err != nil {
		return err
	}
	dirty := false
	defer func() {
		if uerr := bp.UnpinPage(parentPage.GetPageID(), dirty); uerr != nil && err == nil {
			err = uerr
		}
	}()

	index := parent.ValueIndex(recipient.pageID)
	if index <= 0 || parent.ValueAt(index-1) != l.pageID {
		panic(fmt.Sprintf("btree: leaf %d is not the left neighbour of leaf %d in parent %d", l.pageID, recipient.pageID, l.parentPageID))
	}

	item := l.array[len(l.array)-1]
	parent.Remove(index)
	parent.InsertNodeAfter(l.pageID, item.Key, recipient.pageID)
	if err := parent.EncodeTo(parentPage.GetData()); err != nil {
		return err
	}
	dirty = true

	l.array = l.array[:len(l.array)-1]
	recipient.CopyFirstFrom(item)
	return nil
}

// CopyFirstFrom prepends one entry.
func (l *LeafPage[K]) CopyFirstFrom(item Mapping[K]) {
	if len(l.array) > l.maxSize {
		panic(fmt.Sprintf("btree: prepend to full leaf %d", l.pageID))
	}
	l.array = append(l.array, Mapping[K]{})
	copy(l.array[1:], l.array)
	l.array[0] = item
}

// checkBorrow enforces the redistribute preconditions: a donor with an entry to
// spare and a recipient under the same parent.
func (l *LeafPage[K]) checkBorrow(recipient *LeafPage[K]) {
	if recipient == nil {
		panic("btree: redistribute into nil recipient")
	}
	if len(l.array) < 2 {
		panic(fmt.Sprintf("btree: leaf %d has %d entries, nothing to lend", l.pageID, len(l.array)))
	}
	if l.parentPageID == InvalidPageID || recipient.parentPageID != l.parentPageID {
		panic(fmt.Sprintf("btree: leaves %d and %d do not share a parent", l.pageID, recipient.pageID))
	}
}

func fetchParent[K Key](bp BufferPool, parentID PageID) (*pagemanager.Page, *InternalPage[K], error) {
	page, err := bp.FetchPage(parentID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %d: %w", ErrParentPageFetch, parentID, err)
	}
	parent, err := DecodeInternalPage[K](page.GetData())
	if err != nil {
		_ = bp.UnpinPage(parentID, false)
		return nil, nil, fmt.Errorf("parent %d: %w", parentID, err)
	}
	return page, parent, nil
}

// --- Encoding ---

// EncodeTo writes the page into data using the persisted leaf layout. Bytes
// past the last entry are zeroed.
func (l *LeafPage[K]) EncodeTo(data []byte) error {
	entrySize := LeafEntrySize[K]()
	end := LeafPageHeaderSize + len(l.array)*entrySize
	if len(data) < end {
		return fmt.Errorf("%w: leaf %d needs %d bytes, have %d", ErrPageTooSmall, l.pageID, end, len(data))
	}
	l.encodeHeader(data, len(l.array))
	binary.LittleEndian.PutUint32(data[offsetNextPageID:], uint32(l.nextPageID))

	width := KeyWidth[K]()
	off := LeafPageHeaderSize
	for i := range l.array {
		copy(data[off:off+width], keyBytes(&l.array[i].Key))
		l.array[i].Value.encode(data[off+width:])
		off += entrySize
	}
	clear(data[end:])
	return nil
}

// DecodeLeafPage reads a leaf page from raw page data. The page budget is len(data).
func DecodeLeafPage[K Key](data []byte) (*LeafPage[K], error) {
	l := NewLeafPage[K](len(data))
	if len(data) < LeafPageHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPageTooSmall, len(data))
	}
	size, err := l.decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if l.pageType != LeafPageType {
		return nil, fmt.Errorf("%w: page %d has type %s", ErrNotLeafPage, l.pageID, l.pageType)
	}
	limit := LeafMaxSize[K](len(data))
	if l.maxSize < 1 || l.maxSize > limit || size < 0 || size > l.maxSize+1 {
		return nil, fmt.Errorf("%w: leaf %d size=%d max=%d limit=%d", ErrCorruptPage, l.pageID, size, l.maxSize, limit)
	}
	l.nextPageID = PageID(binary.LittleEndian.Uint32(data[offsetNextPageID:]))

	width := KeyWidth[K]()
	entrySize := LeafEntrySize[K]()
	l.array = make([]Mapping[K], size, l.maxSize+1)
	off := LeafPageHeaderSize
	for i := range l.array {
		l.array[i].Key = KeyFromBytes[K](data[off : off+width])
		l.array[i].Value = decodeRID(data[off+width:])
		off += entrySize
	}
	return l, nil
}

// --- Debug ---

// ToString renders the keys in order. Verbose output adds the page ids and size
// up front and each entry's RID after its key. An empty page renders as "".
func (l *LeafPage[K]) ToString(verbose bool) string {
	if len(l.array) == 0 {
		return ""
	}
	var sb strings.Builder
	if verbose {
		fmt.Fprintf(&sb, "[pageId: %d parentId: %d]<%d> ", l.pageID, l.parentPageID, len(l.array))
	}
	for i, item := range l.array {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", Int64FromKey(item.Key))
		if verbose {
			fmt.Fprintf(&sb, "(%s)", item.Value)
		}
	}
	return sb.String()
}

func (l *LeafPage[K]) String() string {
	return l.ToString(true)
}
