package flushmanager

import (
	"os"
	"path/filepath"
	"testing"

	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPageSize = 512

func newTestDiskManager(t *testing.T, path string) *DiskManager {
	t.Helper()
	dm, err := NewDiskManager(path, testPageSize, zap.NewNop())
	require.NoError(t, err)
	return dm
}

func TestDiskManager_CreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm := newTestDiskManager(t, path)

	_, err := dm.OpenOrCreateFile(false, 8)
	require.ErrorIs(t, err, ErrDBFileNotFound)

	header, err := dm.OpenOrCreateFile(true, 8)
	require.NoError(t, err)
	require.Equal(t, DBMagic, header.Magic)
	require.Equal(t, uint32(testPageSize), header.PageSize)
	require.Equal(t, uint32(8), header.KeyWidth)
	require.Equal(t, pagemanager.InvalidPageID, header.RootPageID)
	require.Equal(t, int32(1), dm.NumPages())

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), id)

	data := make([]byte, testPageSize)
	copy(data, "hello page")
	require.NoError(t, dm.WritePage(id, data))
	require.NoError(t, dm.UpdateHeaderField(func(h *DBFileHeader) { h.RootPageID = id }))
	require.NoError(t, dm.Close())

	dm2 := newTestDiskManager(t, path)
	_, err = dm2.OpenOrCreateFile(true, 8)
	require.ErrorIs(t, err, ErrDBFileExists)

	reopened, err := dm2.OpenOrCreateFile(false, 0)
	require.NoError(t, err)
	require.Equal(t, header.FileUUID(), reopened.FileUUID())
	require.Equal(t, id, reopened.RootPageID)
	require.Equal(t, int32(2), dm2.NumPages())

	got := make([]byte, testPageSize)
	require.NoError(t, dm2.ReadPage(id, got))
	require.Equal(t, data, got)
	require.NoError(t, dm2.Close())
}

func TestDiskManager_RejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()

	junk := filepath.Join(dir, "junk.db")
	require.NoError(t, os.WriteFile(junk, make([]byte, testPageSize), 0o644))
	_, err := newTestDiskManager(t, junk).OpenOrCreateFile(false, 8)
	require.ErrorIs(t, err, ErrInvalidMagic)

	path := filepath.Join(dir, "test.db")
	dm := newTestDiskManager(t, path)
	_, err = dm.OpenOrCreateFile(true, 8)
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	other, err := NewDiskManager(path, 1024, zap.NewNop())
	require.NoError(t, err)
	_, err = other.OpenOrCreateFile(false, 8)
	require.ErrorIs(t, err, ErrPageSizeMismatch)

	_, err = NewDiskManager(path, 16, zap.NewNop())
	require.Error(t, err)
}

func TestDiskManager_FreeListReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm := newTestDiskManager(t, path)
	_, err := dm.OpenOrCreateFile(true, 8)
	require.NoError(t, err)

	for want := pagemanager.PageID(1); want <= 3; want++ {
		id, err := dm.AllocatePage()
		require.NoError(t, err)
		require.Equal(t, want, id)
	}

	require.NoError(t, dm.DeallocatePage(2))
	require.ErrorIs(t, dm.DeallocatePage(2), ErrInvalidPageID)
	require.ErrorIs(t, dm.DeallocatePage(0), ErrInvalidPageID)
	require.ErrorIs(t, dm.DeallocatePage(9), ErrInvalidPageID)
	require.Equal(t, []pagemanager.PageID{2}, dm.FreePages())
	require.NoError(t, dm.Close())

	// The free list survives a reopen.
	dm = newTestDiskManager(t, path)
	header, err := dm.OpenOrCreateFile(false, 8)
	require.NoError(t, err)
	require.Equal(t, uint32(1), header.FreeCount)

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(2), id)
	require.Empty(t, dm.FreePages())

	id, err = dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(4), id)
	require.NoError(t, dm.Close())
}

func TestDiskManager_PageBounds(t *testing.T) {
	dm := newTestDiskManager(t, filepath.Join(t.TempDir(), "test.db"))
	buf := make([]byte, testPageSize)
	require.ErrorIs(t, dm.ReadPage(1, buf), ErrFileNotOpen)

	_, err := dm.OpenOrCreateFile(true, 8)
	require.NoError(t, err)
	defer dm.Close()

	require.ErrorIs(t, dm.ReadPage(0, buf), ErrInvalidPageID)
	require.ErrorIs(t, dm.ReadPage(1, buf), ErrInvalidPageID)
	require.ErrorIs(t, dm.WritePage(pagemanager.InvalidPageID, buf), ErrInvalidPageID)
	require.Error(t, dm.WritePage(1, make([]byte, 10)))
}
