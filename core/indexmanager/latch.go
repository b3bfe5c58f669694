package indexmanager

import (
	"github.com/leafdb/leafdb/core/indexing/btree"
	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
)

// latchedPage is a pinned frame held under its latch for the length of one
// manager operation.
type latchedPage struct {
	page     *pagemanager.Page
	write    bool
	dirty    bool
	released bool
}

func (lp *latchedPage) id() btree.PageID { return lp.page.GetPageID() }

// latchSet tracks every page an operation pinned so they can be released
// together, in reverse acquisition order, whatever path the operation takes.
type latchSet struct {
	pool  Pool
	pages []*latchedPage
}

func newLatchSet(pool Pool) *latchSet {
	return &latchSet{pool: pool}
}

// fetch pins pageID and takes its latch, exclusive when write is set.
func (s *latchSet) fetch(pageID btree.PageID, write bool) (*latchedPage, error) {
	page, err := s.pool.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return s.adopt(page, write), nil
}

// adopt latches a page the caller already pinned, such as one returned by NewPage.
func (s *latchSet) adopt(page *pagemanager.Page, write bool) *latchedPage {
	if write {
		page.Lock()
	} else {
		page.RLock()
	}
	lp := &latchedPage{page: page, write: write}
	s.pages = append(s.pages, lp)
	return lp
}

func (s *latchSet) release(lp *latchedPage) error {
	if lp.released {
		return nil
	}
	lp.released = true
	if lp.write {
		lp.page.Unlock()
	} else {
		lp.page.RUnlock()
	}
	return s.pool.UnpinPage(lp.id(), lp.dirty)
}

// releaseAll releases every page still held and returns the first unpin error.
func (s *latchSet) releaseAll() error {
	var firstErr error
	for i := len(s.pages) - 1; i >= 0; i-- {
		if err := s.release(s.pages[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pages = nil
	return firstErr
}
