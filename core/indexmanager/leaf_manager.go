package indexmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/leafdb/leafdb/core/indexing/btree"
	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	internaltelemetry "github.com/leafdb/leafdb/internal/telemetry"
	"github.com/leafdb/leafdb/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Pool is the buffer pool surface the leaf manager works through.
type Pool interface {
	btree.BufferPool
	NewPage() (*pagemanager.Page, pagemanager.PageID, error)
	DeletePage(pageID pagemanager.PageID) error
	GetPageSize() int
}

// Config holds the leaf manager settings.
type Config struct {
	// LeafMaxSize lowers leaf capacity below what the page size allows. Zero
	// keeps the capacity derived from the page size.
	LeafMaxSize int `yaml:"leaf_max_size"`
}

// LeafManager is the page-access boundary for leaf pages. Each operation pins
// the pages it needs, latches them, decodes them, runs the leaf algorithm,
// encodes the result back into the frames and unpins. Structural operations
// (split, merge, borrow) are serialized against each other and against writes.
type LeafManager[K btree.Key] struct {
	mu          sync.RWMutex
	pool        Pool
	comparator  btree.KeyComparator[K]
	cfg         Config
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *internaltelemetry.LeafOpMetrics
	serviceName string
}

func NewLeafManager[K btree.Key](pool Pool, comparator btree.KeyComparator[K], cfg Config, logger *zap.Logger, tel *telemetry.Telemetry) (*LeafManager[K], error) {
	if pool == nil {
		return nil, fmt.Errorf("NewLeafManager: pool cannot be nil")
	}
	if comparator == nil {
		comparator = btree.GenericComparator[K]
	}
	if limit := btree.LeafMaxSize[K](pool.GetPageSize()); cfg.LeafMaxSize < 0 || cfg.LeafMaxSize > limit {
		return nil, fmt.Errorf("NewLeafManager: leaf max size %d outside [0, %d]", cfg.LeafMaxSize, limit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		tel = telemetry.Noop()
	}
	metrics, err := internaltelemetry.NewLeafOpMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf metrics: %w", err)
	}
	return &LeafManager[K]{
		pool:        pool,
		comparator:  comparator,
		cfg:         cfg,
		logger:      logger.Named("leaf_manager"),
		tracer:      tel.Tracer,
		metrics:     metrics,
		serviceName: "leaf_manager",
	}, nil
}

// LeafMaxSize is the capacity given to leaves this manager creates.
func (m *LeafManager[K]) LeafMaxSize() int {
	if m.cfg.LeafMaxSize > 0 {
		return m.cfg.LeafMaxSize
	}
	return btree.LeafMaxSize[K](m.pool.GetPageSize())
}

// SplitResult describes a completed leaf split.
type SplitResult[K btree.Key] struct {
	// NewPageID is the right half created by the split.
	NewPageID btree.PageID
	// Separator is the first key of the new page, now routed to it by the parent.
	Separator K
	ParentID  btree.PageID
	// NewRoot is set when the split leaf was the root and a new internal root
	// was created above it.
	NewRoot bool
	// ParentOverflow is set when the parent now holds more than its max size
	// and must itself be split by the caller.
	ParentOverflow bool
}

// MergeResult describes a completed merge of two sibling leaves.
type MergeResult struct {
	ParentID   btree.PageID
	ParentSize int
	// NewRootID is the surviving leaf when the merge emptied a root parent
	// down to one child; otherwise InvalidPageID.
	NewRootID btree.PageID
}

type RebalanceAction int

const (
	RebalanceNone RebalanceAction = iota
	RebalanceMerged
	RebalanceBorrowed
)

func (a RebalanceAction) String() string {
	switch a {
	case RebalanceMerged:
		return "merged"
	case RebalanceBorrowed:
		return "borrowed"
	default:
		return "none"
	}
}

type RebalanceResult struct {
	Action RebalanceAction
	// Merge is filled when Action is RebalanceMerged.
	Merge MergeResult
}

func (m *LeafManager[K]) decodeLeaf(lp *latchedPage) (*btree.LeafPage[K], error) {
	return btree.DecodeLeafPage[K](lp.page.GetData())
}

func (m *LeafManager[K]) decodeInternal(lp *latchedPage) (*btree.InternalPage[K], error) {
	return btree.DecodeInternalPage[K](lp.page.GetData())
}

func store(lp *latchedPage, p interface{ EncodeTo([]byte) error }) error {
	if err := p.EncodeTo(lp.page.GetData()); err != nil {
		return err
	}
	lp.dirty = true
	return nil
}

func releaseInto(set *latchSet, err *error) {
	if rerr := set.releaseAll(); rerr != nil && *err == nil {
		*err = rerr
	}
}

func keyField[K btree.Key](k K) zap.Field {
	return zap.Binary("key", btree.KeyBytes(k))
}

// newLeafLocked allocates and initializes an empty leaf under parentID. The
// page stays pinned and latched in set.
func (m *LeafManager[K]) newLeafLocked(set *latchSet, parentID btree.PageID) (*latchedPage, *btree.LeafPage[K], error) {
	page, id, err := m.pool.NewPage()
	if err != nil {
		return nil, nil, err
	}
	lp := set.adopt(page, true)
	lp.dirty = true
	leaf := btree.NewLeafPage[K](len(page.GetData()))
	leaf.Init(id, parentID)
	if m.cfg.LeafMaxSize > 0 {
		leaf.SetMaxSize(m.cfg.LeafMaxSize)
	}
	return lp, leaf, nil
}

// CreateLeaf allocates an empty, initialized leaf page under parentID.
func (m *LeafManager[K]) CreateLeaf(ctx context.Context, parentID btree.PageID) (id btree.PageID, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "CreateLeaf")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "CreateLeaf", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	lp, leaf, err := m.newLeafLocked(set, parentID)
	if err != nil {
		return btree.InvalidPageID, err
	}
	if err := store(lp, leaf); err != nil {
		return btree.InvalidPageID, err
	}
	m.logger.Debug("created leaf", zap.Int32("page_id", int32(leaf.GetPageID())), zap.Int("max_size", leaf.GetMaxSize()))
	return leaf.GetPageID(), nil
}

// Insert adds (key, rid) to the leaf and returns its new size. A size above
// the leaf's max size means the caller must Split before inserting again.
func (m *LeafManager[K]) Insert(ctx context.Context, leafID btree.PageID, key K, rid btree.RID) (size int, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Insert")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Insert", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	lp, err := set.fetch(leafID, true)
	if err != nil {
		return 0, err
	}
	leaf, err := m.decodeLeaf(lp)
	if err != nil {
		return 0, err
	}
	if _, ok := leaf.Lookup(key, m.comparator); ok {
		return leaf.GetSize(), fmt.Errorf("%w: leaf %d key %x", ErrDuplicateKey, leafID, btree.KeyBytes(key))
	}
	if leaf.IsFull() {
		return leaf.GetSize(), fmt.Errorf("%w: leaf %d", ErrLeafFull, leafID)
	}
	size = leaf.Insert(key, rid, m.comparator)
	if err := store(lp, leaf); err != nil {
		return 0, err
	}
	m.logger.Debug("inserted", zap.Int32("page_id", int32(leafID)), keyField(key), zap.Int("size", size))
	return size, nil
}

// Lookup returns the RID stored for key in the leaf.
func (m *LeafManager[K]) Lookup(ctx context.Context, leafID btree.PageID, key K) (rid btree.RID, found bool, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Lookup")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Lookup", err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	lp, err := set.fetch(leafID, false)
	if err != nil {
		return btree.RID{}, false, err
	}
	leaf, err := m.decodeLeaf(lp)
	if err != nil {
		return btree.RID{}, false, err
	}
	rid, found = leaf.Lookup(key, m.comparator)
	return rid, found, nil
}

// Delete removes key from the leaf. underflow reports whether the leaf is now
// below its min size and should be passed to Rebalance.
func (m *LeafManager[K]) Delete(ctx context.Context, leafID btree.PageID, key K) (found, underflow bool, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Delete")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Delete", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	lp, err := set.fetch(leafID, true)
	if err != nil {
		return false, false, err
	}
	leaf, err := m.decodeLeaf(lp)
	if err != nil {
		return false, false, err
	}
	if !leaf.RemoveAndDeleteRecord(key, m.comparator) {
		return false, false, nil
	}
	if err := store(lp, leaf); err != nil {
		return true, false, err
	}
	underflow = !leaf.IsRootPage() && leaf.IsUnderflowing()
	m.logger.Debug("deleted", zap.Int32("page_id", int32(leafID)), keyField(key),
		zap.Int("size", leaf.GetSize()), zap.Bool("underflow", underflow))
	return true, underflow, nil
}

// Split moves the upper half of an over-capacity leaf to a new page and
// routes the new page from the parent. A root leaf gets a new internal root.
// Every page is pinned and allocated before anything is modified.
func (m *LeafManager[K]) Split(ctx context.Context, leafID btree.PageID) (res SplitResult[K], err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Split")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Split", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	leafLP, err := set.fetch(leafID, true)
	if err != nil {
		return res, err
	}
	leaf, err := m.decodeLeaf(leafLP)
	if err != nil {
		return res, err
	}
	if !leaf.IsFull() {
		return res, fmt.Errorf("%w: leaf %d holds %d of %d", ErrLeafNotFull, leafID, leaf.GetSize(), leaf.GetMaxSize())
	}

	var parentLP *latchedPage
	var parent *btree.InternalPage[K]
	if !leaf.IsRootPage() {
		if parentLP, err = set.fetch(leaf.GetParentPageID(), true); err != nil {
			return res, fmt.Errorf("%w %d: %w", btree.ErrParentPageFetch, leaf.GetParentPageID(), err)
		}
		if parent, err = m.decodeInternal(parentLP); err != nil {
			return res, err
		}
		if parent.GetSize() > parent.GetMaxSize() {
			return res, fmt.Errorf("%w: page %d holds %d of %d", ErrParentFull, parent.GetPageID(), parent.GetSize(), parent.GetMaxSize())
		}
	}

	siblingLP, sibling, err := m.newLeafLocked(set, leaf.GetParentPageID())
	if err != nil {
		return res, err
	}
	if leaf.IsRootPage() {
		page, rootID, err := m.pool.NewPage()
		if err != nil {
			m.discardLocked(set, siblingLP)
			return res, err
		}
		parentLP = set.adopt(page, true)
		parent = btree.NewInternalPage[K](len(page.GetData()))
		parent.Init(rootID, btree.InvalidPageID)
		res.NewRoot = true
	}

	sibling.SetMaxSize(leaf.GetMaxSize())
	leaf.MoveHalfTo(sibling)
	res.NewPageID = sibling.GetPageID()
	res.Separator = sibling.KeyAt(0)
	res.ParentID = parent.GetPageID()

	if res.NewRoot {
		parent.PopulateNewRoot(leafID, res.Separator, sibling.GetPageID())
		leaf.SetParentPageID(parent.GetPageID())
		sibling.SetParentPageID(parent.GetPageID())
	} else {
		size := parent.InsertNodeAfter(leafID, res.Separator, sibling.GetPageID())
		res.ParentOverflow = size > parent.GetMaxSize()
	}

	for _, w := range []struct {
		lp *latchedPage
		p  interface{ EncodeTo([]byte) error }
	}{{leafLP, leaf}, {siblingLP, sibling}, {parentLP, parent}} {
		if err := store(w.lp, w.p); err != nil {
			return res, err
		}
	}

	m.recordStructural(ctx, "split")
	m.logger.Info("split leaf",
		zap.Int32("page_id", int32(leafID)),
		zap.Int32("new_page_id", int32(res.NewPageID)),
		zap.Int32("parent_id", int32(res.ParentID)),
		zap.Bool("new_root", res.NewRoot),
		zap.Bool("parent_overflow", res.ParentOverflow))
	if res.ParentOverflow {
		m.logger.Warn("parent over capacity after split", zap.Int32("parent_id", int32(res.ParentID)))
	}
	return res, nil
}

// discardLocked unpins a page allocated by this operation and returns it to
// the free list.
func (m *LeafManager[K]) discardLocked(set *latchSet, lp *latchedPage) {
	lp.dirty = false
	id := lp.id()
	if err := set.release(lp); err != nil {
		m.logger.Warn("failed to unpin discarded page", zap.Int32("page_id", int32(id)), zap.Error(err))
		return
	}
	if err := m.pool.DeletePage(id); err != nil {
		m.logger.Warn("failed to free discarded page", zap.Int32("page_id", int32(id)), zap.Error(err))
	}
}

// Merge appends every entry of rightID to leftID, its left neighbour under the
// same parent, drops rightID's separator from the parent and frees rightID.
func (m *LeafManager[K]) Merge(ctx context.Context, leftID, rightID btree.PageID) (res MergeResult, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Merge")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Merge", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	return m.mergeLocked(ctx, set, leftID, rightID)
}

func (m *LeafManager[K]) mergeLocked(ctx context.Context, set *latchSet, leftID, rightID btree.PageID) (MergeResult, error) {
	res := MergeResult{NewRootID: btree.InvalidPageID}

	leftLP, err := set.fetch(leftID, true)
	if err != nil {
		return res, err
	}
	rightLP, err := set.fetch(rightID, true)
	if err != nil {
		return res, fmt.Errorf("%w %d: %w", btree.ErrSiblingPageFetch, rightID, err)
	}
	left, err := m.decodeLeaf(leftLP)
	if err != nil {
		return res, err
	}
	right, err := m.decodeLeaf(rightLP)
	if err != nil {
		return res, err
	}
	parentID := left.GetParentPageID()
	if parentID == btree.InvalidPageID || right.GetParentPageID() != parentID {
		return res, fmt.Errorf("%w: %d and %d", ErrNotSiblings, leftID, rightID)
	}

	parentLP, err := set.fetch(parentID, true)
	if err != nil {
		return res, fmt.Errorf("%w %d: %w", btree.ErrParentPageFetch, parentID, err)
	}
	parent, err := m.decodeInternal(parentLP)
	if err != nil {
		return res, err
	}
	index := parent.ValueIndex(rightID)
	if index <= 0 || parent.ValueAt(index-1) != leftID {
		return res, fmt.Errorf("%w: %d is not the left neighbour of %d", ErrNotSiblings, leftID, rightID)
	}
	if left.GetSize()+right.GetSize() > left.GetMaxSize() {
		return res, fmt.Errorf("%w: %d + %d > %d", ErrMergeOverflow, left.GetSize(), right.GetSize(), left.GetMaxSize())
	}

	right.MoveAllTo(left)
	parent.Remove(index)
	res.ParentID = parentID
	res.ParentSize = parent.GetSize()

	collapse := parent.IsRootPage() && parent.GetSize() == 1
	if collapse {
		parent.RemoveAndReturnOnlyChild()
		left.SetParentPageID(btree.InvalidPageID)
		res.NewRootID = leftID
		res.ParentSize = 0
	}

	if err := store(leftLP, left); err != nil {
		return res, err
	}
	if !collapse {
		if err := store(parentLP, parent); err != nil {
			return res, err
		}
	}

	if err := set.release(rightLP); err != nil {
		return res, err
	}
	if err := m.pool.DeletePage(rightID); err != nil {
		return res, fmt.Errorf("failed to free merged leaf %d: %w", rightID, err)
	}
	if collapse {
		if err := set.release(parentLP); err != nil {
			return res, err
		}
		if err := m.pool.DeletePage(parentID); err != nil {
			return res, fmt.Errorf("failed to free collapsed root %d: %w", parentID, err)
		}
	}

	m.recordStructural(ctx, "merge")
	m.logger.Info("merged leaves",
		zap.Int32("left_id", int32(leftID)),
		zap.Int32("right_id", int32(rightID)),
		zap.Int32("parent_id", int32(parentID)),
		zap.Int("size", left.GetSize()),
		zap.Bool("root_collapsed", collapse))
	return res, nil
}

// Borrow moves one entry from siblingID into leafID. The sibling must be the
// adjacent page on either side under the same parent, and must stay at or
// above its min size afterwards. The parent's separator is refreshed.
func (m *LeafManager[K]) Borrow(ctx context.Context, leafID, siblingID btree.PageID) (err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Borrow")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Borrow", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	return m.borrowLocked(ctx, set, leafID, siblingID)
}

func (m *LeafManager[K]) borrowLocked(ctx context.Context, set *latchSet, leafID, siblingID btree.PageID) error {
	leafLP, err := set.fetch(leafID, true)
	if err != nil {
		return err
	}
	siblingLP, err := set.fetch(siblingID, true)
	if err != nil {
		return fmt.Errorf("%w %d: %w", btree.ErrSiblingPageFetch, siblingID, err)
	}
	leaf, err := m.decodeLeaf(leafLP)
	if err != nil {
		return err
	}
	sibling, err := m.decodeLeaf(siblingLP)
	if err != nil {
		return err
	}
	parentID := leaf.GetParentPageID()
	if parentID == btree.InvalidPageID || sibling.GetParentPageID() != parentID {
		return fmt.Errorf("%w: %d and %d", ErrNotSiblings, leafID, siblingID)
	}
	if sibling.GetSize() <= max(sibling.GetMinSize(), 1) {
		return fmt.Errorf("%w: leaf %d holds %d, min %d", ErrCannotLend, siblingID, sibling.GetSize(), sibling.GetMinSize())
	}

	// Latch the parent for the whole move; the leaf code re-fetches it
	// through the pool to refresh the separator.
	parentLP, err := set.fetch(parentID, true)
	if err != nil {
		return fmt.Errorf("%w %d: %w", btree.ErrParentPageFetch, parentID, err)
	}
	parent, err := m.decodeInternal(parentLP)
	if err != nil {
		return err
	}
	li, si := parent.ValueIndex(leafID), parent.ValueIndex(siblingID)

	direction := ""
	switch {
	case li >= 0 && si == li-1:
		direction = "from_left"
		err = sibling.MoveLastToFrontOf(leaf, m.pool)
	case li >= 0 && si == li+1:
		direction = "from_right"
		err = sibling.MoveFirstToEndOf(leaf, m.pool)
	default:
		return fmt.Errorf("%w: %d and %d are not adjacent in parent %d", ErrNotSiblings, leafID, siblingID, parentID)
	}
	if err != nil {
		return err
	}
	if err := store(leafLP, leaf); err != nil {
		return err
	}
	if err := store(siblingLP, sibling); err != nil {
		return err
	}

	m.recordStructural(ctx, "borrow")
	m.logger.Info("redistributed leaves",
		zap.Int32("page_id", int32(leafID)),
		zap.Int32("sibling_id", int32(siblingID)),
		zap.String("direction", direction))
	return nil
}

// Rebalance restores min occupancy of an underflowing non-root leaf, merging
// with a sibling when both fit in one page and borrowing from it otherwise.
// The left sibling is preferred; the first child uses its right sibling.
func (m *LeafManager[K]) Rebalance(ctx context.Context, leafID btree.PageID) (res RebalanceResult, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Rebalance")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Rebalance", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	leafLP, err := set.fetch(leafID, false)
	if err != nil {
		return res, err
	}
	leaf, err := m.decodeLeaf(leafLP)
	if err != nil {
		return res, err
	}
	if leaf.IsRootPage() || !leaf.IsUnderflowing() {
		return res, nil
	}

	parentLP, err := set.fetch(leaf.GetParentPageID(), false)
	if err != nil {
		return res, fmt.Errorf("%w %d: %w", btree.ErrParentPageFetch, leaf.GetParentPageID(), err)
	}
	parent, err := m.decodeInternal(parentLP)
	if err != nil {
		return res, err
	}
	index := parent.ValueIndex(leafID)
	if index < 0 {
		return res, fmt.Errorf("%w: leaf %d not found in parent %d", btree.ErrCorruptPage, leafID, parent.GetPageID())
	}
	if parent.GetSize() < 2 {
		return res, fmt.Errorf("%w: parent %d", ErrRootHasNoPeers, parent.GetPageID())
	}
	leftID, rightID, siblingID := leafID, parent.ValueAt(1), parent.ValueAt(1)
	if index > 0 {
		leftID, rightID, siblingID = parent.ValueAt(index-1), leafID, parent.ValueAt(index-1)
	}

	siblingLP, err := set.fetch(siblingID, false)
	if err != nil {
		return res, fmt.Errorf("%w %d: %w", btree.ErrSiblingPageFetch, siblingID, err)
	}
	sibling, err := m.decodeLeaf(siblingLP)
	if err != nil {
		return res, err
	}
	fits := leaf.GetSize()+sibling.GetSize() <= leaf.GetMaxSize()

	// Drop the read latches; the structural step re-acquires pages for write.
	if err := set.releaseAll(); err != nil {
		return res, err
	}

	if fits {
		res.Action = RebalanceMerged
		res.Merge, err = m.mergeLocked(ctx, set, leftID, rightID)
		return res, err
	}
	res.Action = RebalanceBorrowed
	return res, m.borrowLocked(ctx, set, leafID, siblingID)
}

// FindLeaf descends from rootID to the leaf whose key range covers key.
func (m *LeafManager[K]) FindLeaf(ctx context.Context, rootID btree.PageID, key K) (leafID btree.PageID, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "FindLeaf")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "FindLeaf", err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	const maxDepth = 32
	pageID := rootID
	for depth := 0; depth < maxDepth; depth++ {
		set := newLatchSet(m.pool)
		lp, err := set.fetch(pageID, false)
		if err != nil {
			return btree.InvalidPageID, err
		}
		data := lp.page.GetData()
		switch btree.ReadPageType(data) {
		case btree.LeafPageType:
			return pageID, set.releaseAll()
		case btree.InternalPageType:
			node, err := btree.DecodeInternalPage[K](data)
			if err != nil {
				_ = set.releaseAll()
				return btree.InvalidPageID, err
			}
			next := node.Lookup(key, m.comparator)
			if err := set.releaseAll(); err != nil {
				return btree.InvalidPageID, err
			}
			pageID = next
		default:
			_ = set.releaseAll()
			return btree.InvalidPageID, fmt.Errorf("%w: page %d has no tree page type", btree.ErrCorruptPage, pageID)
		}
	}
	return btree.InvalidPageID, fmt.Errorf("%w: no leaf within %d levels of %d", btree.ErrCorruptPage, maxDepth, rootID)
}

// Scan returns up to limit entries with keys >= start, beginning in leafID and
// following the sibling chain. A limit of zero means no limit.
func (m *LeafManager[K]) Scan(ctx context.Context, leafID btree.PageID, start K, limit int) (out []btree.Mapping[K], err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Scan")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Scan", err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	it, err := btree.NewIndexIterator(m.pool, leafID, start, m.comparator)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := it.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for limit <= 0 || len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		key, rid, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, btree.Mapping[K]{Key: key, Value: rid})
	}
	return out, nil
}

// Describe renders one tree page for diagnostics.
func (m *LeafManager[K]) Describe(ctx context.Context, pageID btree.PageID) (out string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := newLatchSet(m.pool)
	defer releaseInto(set, &err)

	lp, err := set.fetch(pageID, false)
	if err != nil {
		return "", err
	}
	data := lp.page.GetData()
	switch btree.ReadPageType(data) {
	case btree.LeafPageType:
		leaf, err := btree.DecodeLeafPage[K](data)
		if err != nil {
			return "", err
		}
		return leaf.ToString(true), nil
	case btree.InternalPageType:
		node, err := btree.DecodeInternalPage[K](data)
		if err != nil {
			return "", err
		}
		return node.String(), nil
	default:
		return "", fmt.Errorf("%w: page %d has no tree page type", btree.ErrCorruptPage, pageID)
	}
}
