package flushmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

const (
	DBMagic           uint32 = 0x1EAFDB01
	DBVersion         uint32 = 1
	MaxFilenameLength        = 255

	// dbFileHeaderSize is the fixed part of page 0. The free list of deallocated
	// page ids (4 bytes each) follows it up to the end of the page.
	dbFileHeaderSize  = 64
	freeListEntrySize = 4
)

// DBFileHeader defines the fixed part of the page file header stored in page 0.
// All fields have fixed sizes so binary.Read/Write round-trip exactly.
type DBFileHeader struct {
	Magic      uint32
	Version    uint32
	PageSize   uint32
	KeyWidth   uint32
	RootPageID pagemanager.PageID // int32
	FreeCount  uint32
	FileID     [16]byte
	_          [dbFileHeaderSize - (6*4 + 16)]byte
}

// FileUUID returns the identifier assigned to the page file at creation.
func (h *DBFileHeader) FileUUID() uuid.UUID {
	return uuid.UUID(h.FileID)
}

// DiskManager persists fixed-size pages in a single file. Page 0 holds the file
// header; tree pages start at page 1.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	numPages int32 // highest allocated page id + 1
	header   DBFileHeader
	freeList []pagemanager.PageID
	logger   *zap.Logger
	mu       sync.Mutex
}

func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if len(filePath) > MaxFilenameLength {
		return nil, fmt.Errorf("file path too long: %s", filePath)
	}
	if pageSize < dbFileHeaderSize {
		return nil, fmt.Errorf("page size %d smaller than file header (%d bytes)", pageSize, dbFileHeaderSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		logger:   logger.Named("disk_manager"),
	}, nil
}

// OpenOrCreateFile attempts to open an existing page file or create a new one.
// The 'create' flag determines behavior if the file doesn't exist or already exists.
// keyWidth is recorded in a new file's header and ignored when opening.
func (dm *DiskManager) OpenOrCreateFile(create bool, keyWidth int) (*DBFileHeader, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	_, statErr := os.Stat(dm.filePath)

	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file

		dm.header = DBFileHeader{
			Magic:      DBMagic,
			Version:    DBVersion,
			PageSize:   uint32(dm.pageSize),
			KeyWidth:   uint32(keyWidth),
			RootPageID: pagemanager.InvalidPageID,
			FileID:     uuid.New(),
		}
		dm.freeList = nil
		if err := dm.writeHeaderLocked(); err != nil {
			_ = dm.file.Close()
			dm.file = nil
			_ = os.Remove(dm.filePath)
			return nil, fmt.Errorf("failed to write initial header: %w", err)
		}
		// Page 0 is the header; the first tree page allocated is page 1.
		dm.numPages = 1
		dm.logger.Info("created page file",
			zap.String("path", dm.filePath),
			zap.String("file_id", dm.header.FileUUID().String()),
			zap.Int("page_size", dm.pageSize),
			zap.Int("key_width", keyWidth))

	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file

		if err := dm.readHeaderLocked(); err != nil {
			dm.closeLocked()
			return nil, fmt.Errorf("failed to read database header: %w", err)
		}
		if dm.header.Magic != DBMagic {
			dm.logger.Debug("magic number mismatch",
				zap.Uint32("expected", DBMagic), zap.Uint32("got", dm.header.Magic))
			dm.closeLocked()
			return nil, fmt.Errorf("%w: 0x%x", ErrInvalidMagic, dm.header.Magic)
		}
		if dm.header.PageSize != uint32(dm.pageSize) {
			got := dm.header.PageSize
			dm.closeLocked()
			return nil, fmt.Errorf("%w: file=%d configured=%d", ErrPageSizeMismatch, got, dm.pageSize)
		}
		fi, err := dm.file.Stat()
		if err != nil {
			dm.closeLocked()
			return nil, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
		}
		dm.numPages = int32(fi.Size() / int64(dm.pageSize))
		dm.logger.Info("opened page file",
			zap.String("path", dm.filePath),
			zap.String("file_id", dm.header.FileUUID().String()),
			zap.Int32("num_pages", dm.numPages),
			zap.Int("free_pages", len(dm.freeList)))

	default:
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}

	h := dm.header
	return &h, nil
}

// maxFreeListEntries is how many page ids fit after the fixed header in page 0.
func (dm *DiskManager) maxFreeListEntries() int {
	return (dm.pageSize - dbFileHeaderSize) / freeListEntrySize
}

// writeHeaderLocked serializes the header and the free list into page 0.
// Must be called with dm.mu held.
func (dm *DiskManager) writeHeaderLocked() error {
	if len(dm.freeList) > dm.maxFreeListEntries() {
		return fmt.Errorf("%w: %d entries", ErrFreeListFull, len(dm.freeList))
	}
	dm.header.FreeCount = uint32(len(dm.freeList))

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &dm.header); err != nil {
		return fmt.Errorf("%w: serializing header: %v", ErrSerialization, err)
	}
	if buf.Len() != dbFileHeaderSize {
		return fmt.Errorf("%w: header serialized to %d bytes, want %d", ErrSerialization, buf.Len(), dbFileHeaderSize)
	}
	for _, id := range dm.freeList {
		if err := binary.Write(buf, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("%w: serializing free list: %v", ErrSerialization, err)
		}
	}
	page := make([]byte, dm.pageSize)
	copy(page, buf.Bytes())

	if _, err := dm.file.WriteAt(page, 0); err != nil {
		return fmt.Errorf("%w: writing header to disk: %v", ErrIO, err)
	}
	return dm.file.Sync()
}

// readHeaderLocked reads page 0 into dm.header and dm.freeList.
func (dm *DiskManager) readHeaderLocked() error {
	data := make([]byte, dm.pageSize)
	n, err := dm.file.ReadAt(data, 0)
	if err != nil && !(err == io.EOF && n >= dbFileHeaderSize) {
		if err == io.EOF {
			return fmt.Errorf("%w: database file is too small (header too short)", ErrInvalidPageData)
		}
		return fmt.Errorf("%w: reading header from disk: %v", ErrIO, err)
	}

	r := bytes.NewReader(data[:dbFileHeaderSize])
	if err := binary.Read(r, binary.LittleEndian, &dm.header); err != nil {
		return fmt.Errorf("%w: deserializing header: %v", ErrDeserialization, err)
	}
	if int(dm.header.FreeCount) > dm.maxFreeListEntries() {
		return fmt.Errorf("%w: free count %d exceeds header capacity", ErrInvalidPageData, dm.header.FreeCount)
	}
	dm.freeList = make([]pagemanager.PageID, dm.header.FreeCount)
	off := dbFileHeaderSize
	for i := range dm.freeList {
		dm.freeList[i] = pagemanager.PageID(binary.LittleEndian.Uint32(data[off:]))
		off += freeListEntrySize
	}
	dm.logger.Debug("read header",
		zap.Uint32("magic", dm.header.Magic),
		zap.Uint32("version", dm.header.Version),
		zap.Uint32("page_size", dm.header.PageSize))
	return nil
}

// Header returns a copy of the current file header.
func (dm *DiskManager) Header() DBFileHeader {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header
}

// UpdateHeaderField updates a field in the DBFileHeader and persists it.
func (dm *DiskManager) UpdateHeaderField(updateFunc func(header *DBFileHeader)) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	updateFunc(&dm.header)
	return dm.writeHeaderLocked()
}

func (dm *DiskManager) checkPageIDLocked(pageID pagemanager.PageID) error {
	if !pageID.IsValid() || pageID >= pagemanager.PageID(dm.numPages) {
		return fmt.Errorf("%w: %d (allocated pages: %d)", ErrInvalidPageID, pageID, dm.numPages)
	}
	return nil
}

// ReadPage reads a page's data from disk into the provided pageData buffer.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	if err := dm.checkPageIDLocked(pageID); err != nil {
		return err
	}
	offset := int64(pageID) * int64(dm.pageSize)
	bytesRead, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: EOF reading page %d at offset %d", ErrIO, pageID, offset)
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if bytesRead != dm.pageSize {
		return fmt.Errorf("%w: short read for page %d, expected %d, got %d", ErrIO, pageID, dm.pageSize, bytesRead)
	}
	return nil
}

// WritePage writes pageData to disk at the specified pageID's location.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	if err := dm.checkPageIDLocked(pageID); err != nil {
		return err
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	// No Sync here; BufferPoolManager.FlushAllPages and Close sync the file.
	return nil
}

// AllocatePage returns a page id for a new page, reusing a deallocated page when
// one is available and otherwise extending the file.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, ErrFileNotOpen
	}

	if n := len(dm.freeList); n > 0 {
		pageID := dm.freeList[n-1]
		dm.freeList = dm.freeList[:n-1]
		if err := dm.writeHeaderLocked(); err != nil {
			dm.freeList = append(dm.freeList, pageID)
			return pagemanager.InvalidPageID, err
		}
		dm.logger.Debug("reused free page", zap.Int32("page_id", int32(pageID)))
		return pageID, nil
	}

	newPageID := pagemanager.PageID(dm.numPages)
	offset := int64(newPageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(make([]byte, dm.pageSize), offset); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: extending file for new page %d: %v", ErrIO, newPageID, err)
	}
	dm.numPages++
	return newPageID, nil
}

// DeallocatePage returns a page to the free list persisted in the header page.
func (dm *DiskManager) DeallocatePage(pageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if err := dm.checkPageIDLocked(pageID); err != nil {
		return err
	}
	for _, id := range dm.freeList {
		if id == pageID {
			return fmt.Errorf("%w: page %d already free", ErrInvalidPageID, pageID)
		}
	}
	dm.freeList = append(dm.freeList, pageID)
	if err := dm.writeHeaderLocked(); err != nil {
		dm.freeList = dm.freeList[:len(dm.freeList)-1]
		return err
	}
	dm.logger.Debug("deallocated page", zap.Int32("page_id", int32(pageID)))
	return nil
}

func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

func (dm *DiskManager) FilePath() string { return dm.filePath }

// NumPages returns the number of pages in the file, including the header page.
func (dm *DiskManager) NumPages() int32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

// FreePages returns a copy of the current free list.
func (dm *DiskManager) FreePages() []pagemanager.PageID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return append([]pagemanager.PageID(nil), dm.freeList...)
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

// Close syncs and closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closeLocked()
}

func (dm *DiskManager) closeLocked() error {
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Warn("sync on close failed", zap.Error(err))
	}
	err := dm.file.Close()
	dm.file = nil
	return err
}
