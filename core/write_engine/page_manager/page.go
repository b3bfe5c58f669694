package pagemanager

import (
	"container/list" // For LRU
	"sync"
)

// --- Page Management ---

const (
	DefaultPageSize = 4096 // Bytes

	// HeaderPageID is the page holding the page-file header; it is never handed
	// out as a tree page.
	HeaderPageID PageID = 0
	// InvalidPageID marks an unset page reference (no parent, no next leaf, empty frame).
	InvalidPageID PageID = -1
)

// PageID represents a unique identifier for a page on disk. It is persisted as a
// 4-byte integer inside tree page headers.
type PageID int32

// Page represents an in-memory copy of a disk page held in a buffer pool frame.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool
	// For LRU
	lruElement *list.Element

	// latch protects the in-memory contents of this page. The buffer pool never
	// takes it; callers mutating the page hold it exclusively.
	latch sync.RWMutex
}

// NewPage creates a new Page instance.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:       id,
		data:     make([]byte, size),
		pinCount: 0,
		isDirty:  false,
	}
}

func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	p.lruElement = nil
	// Zero out data so a reused frame never leaks the previous page's bytes.
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) GetLruElement() *list.Element     { return p.lruElement }
func (p *Page) SetLruElement(elem *list.Element) { p.lruElement = elem }
func (p *Page) GetData() []byte                  { return p.data }
func (p *Page) GetPageID() PageID                { return p.id }
func (p *Page) SetPageID(id PageID)              { p.id = id }
func (p *Page) IsDirty() bool                    { return p.isDirty }
func (p *Page) Pin()                             { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
func (p *Page) GetPinCount() uint32         { return p.pinCount }
func (p *Page) SetPinCount(pinCount uint32) { p.pinCount = pinCount }
func (p *Page) SetDirty(dirty bool)         { p.isDirty = dirty }

// IsValid reports whether id refers to an allocatable tree page.
func (id PageID) IsValid() bool { return id > HeaderPageID }

// --- Latch Methods ---

// RLock acquires a read (shared) latch on the page.
func (p *Page) RLock() {
	p.latch.RLock()
}

// RUnlock releases a read (shared) latch on the page.
func (p *Page) RUnlock() {
	p.latch.RUnlock()
}

// Lock acquires a write (exclusive) latch on the page.
func (p *Page) Lock() {
	p.latch.Lock()
}

// Unlock releases a write (exclusive) latch on the page.
func (p *Page) Unlock() {
	p.latch.Unlock()
}
