package btree

import (
	"encoding/binary"
	"fmt"
)

// IndexPageType tags the first four bytes of every tree page.
type IndexPageType int32

const (
	InvalidIndexPage IndexPageType = iota
	LeafPageType
	InternalPageType
)

func (t IndexPageType) String() string {
	switch t {
	case LeafPageType:
		return "LEAF"
	case InternalPageType:
		return "INTERNAL"
	default:
		return "INVALID"
	}
}

// Header layout shared by every tree page, little-endian:
//
//	[0:4)   page type
//	[4:8)   lsn
//	[8:12)  size (entry count)
//	[12:16) max size
//	[16:20) parent page id
//	[20:24) page id
//
// Leaf pages follow it with the next page id at [24:28).
const (
	TreePageHeaderSize     = 24
	LeafPageHeaderSize     = TreePageHeaderSize + 4
	InternalPageHeaderSize = TreePageHeaderSize

	offsetPageType   = 0
	offsetLSN        = 4
	offsetSize       = 8
	offsetMaxSize    = 12
	offsetParentID   = 16
	offsetPageID     = 20
	offsetNextPageID = 24
)

// ComputeMaxSize derives a page's capacity from its byte budget. One slot is held
// back so an insert can always land before the caller checks for overflow.
func ComputeMaxSize(pageSize, headerSize, entrySize int) int {
	return (pageSize-headerSize)/entrySize - 1
}

// TreePage holds the header fields common to leaf and internal pages. The entry
// count is not stored here; each page type derives it from its entry slice.
type TreePage struct {
	pageType     IndexPageType
	lsn          uint32
	maxSize      int
	parentPageID PageID
	pageID       PageID
}

func (p *TreePage) GetPageType() IndexPageType { return p.pageType }
func (p *TreePage) IsLeafPage() bool           { return p.pageType == LeafPageType }
func (p *TreePage) IsRootPage() bool           { return p.parentPageID == InvalidPageID }
func (p *TreePage) GetMaxSize() int            { return p.maxSize }
func (p *TreePage) GetPageID() PageID          { return p.pageID }
func (p *TreePage) GetParentPageID() PageID    { return p.parentPageID }
func (p *TreePage) SetParentPageID(id PageID)  { p.parentPageID = id }
func (p *TreePage) GetLSN() uint32             { return p.lsn }
func (p *TreePage) SetLSN(lsn uint32)          { p.lsn = lsn }

// GetMinSize is the occupancy below which a non-root page is underflowing.
func (p *TreePage) GetMinSize() int {
	if p.IsRootPage() {
		if p.IsLeafPage() {
			return 1
		}
		return 2
	}
	return p.maxSize / 2
}

func (p *TreePage) encodeHeader(data []byte, size int) {
	binary.LittleEndian.PutUint32(data[offsetPageType:], uint32(p.pageType))
	binary.LittleEndian.PutUint32(data[offsetLSN:], p.lsn)
	binary.LittleEndian.PutUint32(data[offsetSize:], uint32(size))
	binary.LittleEndian.PutUint32(data[offsetMaxSize:], uint32(p.maxSize))
	binary.LittleEndian.PutUint32(data[offsetParentID:], uint32(p.parentPageID))
	binary.LittleEndian.PutUint32(data[offsetPageID:], uint32(p.pageID))
}

// decodeHeader fills p from data and returns the stored entry count.
func (p *TreePage) decodeHeader(data []byte) (int, error) {
	if len(data) < TreePageHeaderSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPageTooSmall, len(data))
	}
	p.pageType = IndexPageType(binary.LittleEndian.Uint32(data[offsetPageType:]))
	p.lsn = binary.LittleEndian.Uint32(data[offsetLSN:])
	size := int(int32(binary.LittleEndian.Uint32(data[offsetSize:])))
	p.maxSize = int(int32(binary.LittleEndian.Uint32(data[offsetMaxSize:])))
	p.parentPageID = PageID(binary.LittleEndian.Uint32(data[offsetParentID:]))
	p.pageID = PageID(binary.LittleEndian.Uint32(data[offsetPageID:]))
	return size, nil
}

// ReadPageType reports the type tag of raw page data.
func ReadPageType(data []byte) IndexPageType {
	if len(data) < TreePageHeaderSize {
		return InvalidIndexPage
	}
	return IndexPageType(binary.LittleEndian.Uint32(data[offsetPageType:]))
}
