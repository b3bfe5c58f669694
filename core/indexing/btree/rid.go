package btree

import (
	"encoding/binary"
	"fmt"

	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
)

type PageID = pagemanager.PageID

const InvalidPageID = pagemanager.InvalidPageID

// RIDSize is the encoded size of a RID: page id (int32) followed by slot (uint32).
const RIDSize = 8

// RID identifies a tuple stored outside the index: the page holding it and its slot.
type RID struct {
	PageID  PageID
	SlotNum uint32
}

func NewRID(pageID PageID, slot uint32) RID {
	return RID{PageID: pageID, SlotNum: slot}
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.SlotNum)
}

func (r RID) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(r.PageID))
	binary.LittleEndian.PutUint32(dst[4:], r.SlotNum)
}

func decodeRID(src []byte) RID {
	return RID{
		PageID:  PageID(binary.LittleEndian.Uint32(src[0:])),
		SlotNum: binary.LittleEndian.Uint32(src[4:]),
	}
}
