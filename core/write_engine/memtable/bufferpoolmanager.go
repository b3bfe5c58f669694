package memtable

import (
	"container/list" // For LRU
	"context"
	"fmt"
	"sync"

	flushmanager "github.com/leafdb/leafdb/core/write_engine/flush_manager"
	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	internaltelemetry "github.com/leafdb/leafdb/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Config holds the buffer pool settings.
type Config struct {
	// PoolSize is the number of page frames kept in memory.
	PoolSize int `yaml:"pool_size"`
}

const DefaultPoolSize = 64

// BufferPoolManager manages in-memory pages (frames) and interacts with the DiskManager.
// It implements a simple LRU (Least Recently Used) eviction policy over unpinned frames.
type BufferPoolManager struct {
	diskManager *flushmanager.DiskManager
	poolSize    int
	pages       []*pagemanager.Page        // Page frames
	pageTable   map[pagemanager.PageID]int // PageID to frame index
	lruList     *list.List                 // Doubly linked list for LRU tracking (stores frame indices)
	mu          sync.Mutex
	pageSize    int
	logger      *zap.Logger
	metrics     *internaltelemetry.BufferPoolMetrics
}

// NewBufferPoolManager creates and initializes a new BufferPoolManager. A nil
// logger or meter disables logging or metrics respectively.
func NewBufferPoolManager(cfg Config, diskManager *flushmanager.DiskManager, logger *zap.Logger, meter metric.Meter) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, fmt.Errorf("NewBufferPoolManager: diskManager cannot be nil")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	metrics, err := internaltelemetry.NewBufferPoolMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool metrics: %w", err)
	}

	bpm := &BufferPoolManager{
		diskManager: diskManager,
		poolSize:    cfg.PoolSize,
		pages:       make([]*pagemanager.Page, cfg.PoolSize),
		pageTable:   make(map[pagemanager.PageID]int),
		lruList:     list.New(),
		pageSize:    diskManager.GetPageSize(),
		logger:      logger.Named("buffer_pool"),
		metrics:     metrics,
	}
	for i := 0; i < cfg.PoolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
	}
	bpm.logger.Info("buffer pool initialized",
		zap.Int("pool_size", cfg.PoolSize), zap.Int("page_size", bpm.pageSize))
	return bpm, nil
}

// FetchPage retrieves a page from the buffer pool. If not present, it reads it from disk.
// The returned page is pinned; the caller must release it with UnpinPage.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if !pageID.IsValid() {
		return nil, fmt.Errorf("%w: %d", flushmanager.ErrInvalidPageID, pageID)
	}

	// 1. Check if page is already in the buffer pool
	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		page.Pin()
		bpm.lruList.MoveToFront(page.GetLruElement())
		bpm.metrics.HitsCounter.Add(context.Background(), 1)
		bpm.metrics.PinnedFramesCounter.Add(context.Background(), 1)
		bpm.logger.Debug("page hit",
			zap.Int32("page_id", int32(pageID)), zap.Int("frame", frameIdx), zap.Uint32("pin_count", page.GetPinCount()))
		return page, nil
	}
	bpm.metrics.MissesCounter.Add(context.Background(), 1)

	// 2. Page not in pool, find a frame to replace
	frameIdx, err := bpm.reclaimFrameLocked()
	if err != nil {
		bpm.logger.Error("no frame for page", zap.Int32("page_id", int32(pageID)), zap.Error(err))
		return nil, err
	}
	page := bpm.pages[frameIdx]

	// 3. Load page data from disk
	if err := bpm.diskManager.ReadPage(pageID, page.GetData()); err != nil {
		// The frame is reset and untracked, so it stays reusable.
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}

	// 4. Track the page
	page.SetPageID(pageID)
	page.SetPinCount(1)
	page.SetDirty(false)
	bpm.pageTable[pageID] = frameIdx
	page.SetLruElement(bpm.lruList.PushFront(frameIdx))
	bpm.metrics.PinnedFramesCounter.Add(context.Background(), 1)
	bpm.logger.Debug("page loaded", zap.Int32("page_id", int32(pageID)), zap.Int("frame", frameIdx))

	return page, nil
}

// reclaimFrameLocked finds a frame that can hold a new page, flushing and
// detaching its current occupant if needed. The returned frame is reset.
// Must be called with bpm.mu held.
func (bpm *BufferPoolManager) reclaimFrameLocked() (int, error) {
	// Prefer frames that never held a page.
	for i, page := range bpm.pages {
		if page.GetPageID() == pagemanager.InvalidPageID {
			return i, nil
		}
	}

	// Otherwise take the least recently used unpinned frame.
	for e := bpm.lruList.Back(); e != nil; e = e.Prev() {
		frameIdx := e.Value.(int)
		victim := bpm.pages[frameIdx]
		if victim.GetPinCount() != 0 {
			continue
		}
		if victim.IsDirty() {
			bpm.logger.Debug("flushing dirty victim",
				zap.Int32("page_id", int32(victim.GetPageID())), zap.Int("frame", frameIdx))
			if err := bpm.diskManager.WritePage(victim.GetPageID(), victim.GetData()); err != nil {
				return -1, fmt.Errorf("failed to flush dirty victim page %d: %w", victim.GetPageID(), err)
			}
			bpm.metrics.FlushesCounter.Add(context.Background(), 1)
		}
		delete(bpm.pageTable, victim.GetPageID())
		bpm.lruList.Remove(e)
		victim.Reset()
		bpm.metrics.EvictionsCounter.Add(context.Background(), 1)
		return frameIdx, nil
	}

	return -1, flushmanager.ErrBufferPoolFull
}

// UnpinPage decrements the pin count for a page. If isDirty is true, it marks the page as dirty.
// A false isDirty never clears an earlier dirty mark.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() == 0 {
		bpm.logger.Warn("unpin with pin count 0", zap.Int32("page_id", int32(pageID)))
		return fmt.Errorf("cannot unpin page %d with pin count 0", pageID)
	}
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
	}
	bpm.metrics.PinnedFramesCounter.Add(context.Background(), -1)
	bpm.logger.Debug("page unpinned",
		zap.Int32("page_id", int32(pageID)), zap.Uint32("pin_count", page.GetPinCount()), zap.Bool("dirty", page.IsDirty()))
	return nil
}

// NewPage allocates a new page on disk and places it, zeroed and pinned, in the pool.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, pagemanager.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	// Reserve the frame first so a full pool does not orphan a disk page.
	frameIdx, err := bpm.reclaimFrameLocked()
	if err != nil {
		return nil, pagemanager.InvalidPageID, err
	}

	newPageID, err := bpm.diskManager.AllocatePage()
	if err != nil {
		bpm.logger.Error("failed to allocate page on disk", zap.Error(err))
		return nil, pagemanager.InvalidPageID, err
	}

	page := bpm.pages[frameIdx]
	page.SetPageID(newPageID)
	page.SetPinCount(1)
	page.SetDirty(true)
	bpm.pageTable[newPageID] = frameIdx
	page.SetLruElement(bpm.lruList.PushFront(frameIdx))
	bpm.metrics.PinnedFramesCounter.Add(context.Background(), 1)
	bpm.logger.Debug("new page", zap.Int32("page_id", int32(newPageID)), zap.Int("frame", frameIdx))

	return page, newPageID, nil
}

// DeletePage drops a page from the pool and returns it to the disk free list.
// A pinned page cannot be deleted.
func (bpm *BufferPoolManager) DeletePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		if page.GetPinCount() > 0 {
			return fmt.Errorf("%w: page %d (pin count %d)", flushmanager.ErrPagePinned, pageID, page.GetPinCount())
		}
		delete(bpm.pageTable, pageID)
		bpm.lruList.Remove(page.GetLruElement())
		page.Reset()
	}
	if err := bpm.diskManager.DeallocatePage(pageID); err != nil {
		return fmt.Errorf("failed to deallocate page %d: %w", pageID, err)
	}
	bpm.logger.Debug("page deleted", zap.Int32("page_id", int32(pageID)))
	return nil
}

// FlushPage writes a specific page to disk if it's dirty.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	return bpm.flushFrameLocked(frameIdx)
}

func (bpm *BufferPoolManager) flushFrameLocked(frameIdx int) error {
	page := bpm.pages[frameIdx]
	if !page.IsDirty() {
		return nil
	}
	if err := bpm.diskManager.WritePage(page.GetPageID(), page.GetData()); err != nil {
		bpm.logger.Error("flush failed", zap.Int32("page_id", int32(page.GetPageID())), zap.Error(err))
		return err
	}
	page.SetDirty(false)
	bpm.metrics.FlushesCounter.Add(context.Background(), 1)
	return nil
}

// FlushAllPages flushes all dirty pages in the buffer pool to disk and syncs the file.
// It keeps going past a failed page and returns the first error.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	var firstErr error

	for _, frameIdx := range bpm.pageTable {
		if err := bpm.flushFrameLocked(frameIdx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := bpm.diskManager.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	bpm.logger.Debug("flushed all pages", zap.Int("resident", len(bpm.pageTable)))
	return firstErr
}

// PinCount reports the pin count of a resident page, or false if it is not resident.
func (bpm *BufferPoolManager) PinCount(pageID pagemanager.PageID) (uint32, bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return 0, false
	}
	return bpm.pages[frameIdx].GetPinCount(), true
}

func (bpm *BufferPoolManager) GetPageSize() int {
	return bpm.pageSize
}

func (bpm *BufferPoolManager) GetPoolSize() int {
	return bpm.poolSize
}

func (bpm *BufferPoolManager) DiskManager() *flushmanager.DiskManager {
	return bpm.diskManager
}
