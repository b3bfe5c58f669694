package memtable

import (
	"context"
	"path/filepath"
	"testing"

	flushmanager "github.com/leafdb/leafdb/core/write_engine/flush_manager"
	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

const testPageSize = 256

func newTestPool(t *testing.T, poolSize int) (*BufferPoolManager, *sdkmetric.ManualReader) {
	t.Helper()
	dm, err := flushmanager.NewDiskManager(filepath.Join(t.TempDir(), "pool.db"), testPageSize, zap.NewNop())
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(true, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	bpm, err := NewBufferPoolManager(Config{PoolSize: poolSize}, dm, zap.NewNop(), provider.Meter("test"))
	require.NoError(t, err)
	return bpm, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestBufferPool_DefaultsPoolSize(t *testing.T) {
	bpm, _ := newTestPool(t, 0)
	require.Equal(t, DefaultPoolSize, bpm.GetPoolSize())
	require.Equal(t, testPageSize, bpm.GetPageSize())

	_, err := NewBufferPoolManager(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestBufferPool_EvictionAndPinning(t *testing.T) {
	bpm, reader := newTestPool(t, 2)

	p1, id1, err := bpm.NewPage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), id1)
	copy(p1.GetData(), "first page")
	require.NoError(t, bpm.UnpinPage(id1, true))

	_, id2, err := bpm.NewPage()
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(id2, false))

	// Touch page 1 so page 2 becomes the LRU victim.
	_, err = bpm.FetchPage(id1)
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(id1, false))

	_, id3, err := bpm.NewPage()
	require.NoError(t, err)
	_, resident := bpm.PinCount(id2)
	require.False(t, resident)

	// Page 1 is the only unpinned frame left.
	_, err = bpm.FetchPage(id2)
	require.NoError(t, err)
	_, resident = bpm.PinCount(id1)
	require.False(t, resident)

	_, err = bpm.FetchPage(id1)
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)
	_, _, err = bpm.NewPage()
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)

	require.ErrorIs(t, bpm.DeletePage(id2), flushmanager.ErrPagePinned)
	require.NoError(t, bpm.UnpinPage(id2, false))
	require.NoError(t, bpm.DeletePage(id2))
	require.Equal(t, []pagemanager.PageID{id2}, bpm.DiskManager().FreePages())

	// The dirty page 1 was written back on eviction.
	p1, err = bpm.FetchPage(id1)
	require.NoError(t, err)
	require.Equal(t, "first page", string(p1.GetData()[:10]))
	pins, ok := bpm.PinCount(id1)
	require.True(t, ok)
	require.Equal(t, uint32(1), pins)
	require.NoError(t, bpm.UnpinPage(id1, false))
	require.NoError(t, bpm.UnpinPage(id3, false))
	require.Error(t, bpm.UnpinPage(id3, false))

	require.Equal(t, int64(1), counterValue(t, reader, "leafdb.bufferpool.hits"))
	require.Equal(t, int64(2), counterValue(t, reader, "leafdb.bufferpool.evictions"))
	require.Equal(t, int64(0), counterValue(t, reader, "leafdb.bufferpool.pinned_frames"))
}

func TestBufferPool_FlushAndReuse(t *testing.T) {
	bpm, _ := newTestPool(t, 4)

	page, id, err := bpm.NewPage()
	require.NoError(t, err)
	copy(page.GetData(), "persist me")
	require.NoError(t, bpm.UnpinPage(id, true))
	require.NoError(t, bpm.FlushPage(id))
	require.ErrorIs(t, bpm.FlushPage(42), flushmanager.ErrPageNotFound)

	onDisk := make([]byte, testPageSize)
	require.NoError(t, bpm.DiskManager().ReadPage(id, onDisk))
	require.Equal(t, "persist me", string(onDisk[:10]))

	require.NoError(t, bpm.DeletePage(id))
	reused, reusedID, err := bpm.NewPage()
	require.NoError(t, err)
	require.Equal(t, id, reusedID)
	require.Equal(t, make([]byte, testPageSize), reused.GetData())
	require.NoError(t, bpm.UnpinPage(reusedID, true))
	require.NoError(t, bpm.FlushAllPages())

	_, err = bpm.FetchPage(pagemanager.HeaderPageID)
	require.ErrorIs(t, err, flushmanager.ErrInvalidPageID)
	require.ErrorIs(t, bpm.UnpinPage(99, false), flushmanager.ErrPageNotFound)
}
