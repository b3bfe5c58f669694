package btree

import "errors"

var (
	ErrNotLeafPage      = errors.New("page is not a leaf page")
	ErrNotInternalPage  = errors.New("page is not an internal page")
	ErrCorruptPage      = errors.New("tree page header is inconsistent")
	ErrPageTooSmall     = errors.New("page buffer too small for tree page contents")
	ErrParentPageFetch  = errors.New("failed to fetch parent page")
	ErrSiblingPageFetch = errors.New("failed to fetch sibling page")
	ErrIteratorInvalid  = errors.New("iterator is invalid or exhausted")
)
