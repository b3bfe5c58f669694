package indexmanager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leafdb/leafdb/core/indexing/btree"
	flushmanager "github.com/leafdb/leafdb/core/write_engine/flush_manager"
	"github.com/leafdb/leafdb/core/write_engine/memtable"
	"github.com/leafdb/leafdb/pkg/telemetry"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type fixture struct {
	mgr    *LeafManager[btree.Key8]
	bpm    *memtable.BufferPoolManager
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, leafMaxSize int) *fixture {
	t.Helper()
	dm, err := flushmanager.NewDiskManager(filepath.Join(t.TempDir(), "leaf.db"), 4096, zap.NewNop())
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(true, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	bpm, err := memtable.NewBufferPoolManager(memtable.Config{PoolSize: 16}, dm, zap.NewNop(), nil)
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tel := &telemetry.Telemetry{
		Tracer: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test"),
		Meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"),
	}
	mgr, err := NewLeafManager[btree.Key8](bpm, btree.GenericComparator[btree.Key8], Config{LeafMaxSize: leafMaxSize}, zap.NewNop(), tel)
	require.NoError(t, err)
	return &fixture{mgr: mgr, bpm: bpm, spans: spans, reader: reader}
}

func key(v int64) btree.Key8 { return btree.KeyFromInt64[btree.Key8](v) }

func (f *fixture) insert(t *testing.T, leafID btree.PageID, keys ...int64) int {
	t.Helper()
	var size int
	for _, k := range keys {
		var err error
		size, err = f.mgr.Insert(context.Background(), leafID, key(k), btree.NewRID(btree.PageID(k), 0))
		require.NoError(t, err)
	}
	return size
}

func (f *fixture) keys(t *testing.T, leafID btree.PageID) []int64 {
	t.Helper()
	leaf, err := f.mgr.readLeaf(leafID)
	require.NoError(t, err)
	var out []int64
	for _, e := range leaf.Entries() {
		out = append(out, btree.Int64FromKey(e.Key))
	}
	return out
}

func (f *fixture) requireUnpinned(t *testing.T, ids ...btree.PageID) {
	t.Helper()
	for _, id := range ids {
		pins, resident := f.bpm.PinCount(id)
		if resident {
			require.Zero(t, pins, "page %d still pinned", id)
		}
	}
}

// splitRoot builds a root with two leaves: [1 2 3] and [4 5].
func (f *fixture) splitRoot(t *testing.T) (root, left, right btree.PageID) {
	t.Helper()
	ctx := context.Background()
	left, err := f.mgr.CreateLeaf(ctx, btree.InvalidPageID)
	require.NoError(t, err)
	require.Equal(t, 5, f.insert(t, left, 1, 2, 3, 4, 5))

	res, err := f.mgr.Split(ctx, left)
	require.NoError(t, err)
	require.True(t, res.NewRoot)
	require.False(t, res.ParentOverflow)
	require.Equal(t, int64(4), btree.Int64FromKey(res.Separator))
	return res.ParentID, left, res.NewPageID
}

func TestLeafManager_NewLeafManagerChecksMaxSize(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, btree.LeafMaxSize[btree.Key8](4096), f.mgr.LeafMaxSize())

	_, err := NewLeafManager[btree.Key8](f.bpm, nil, Config{LeafMaxSize: 10_000}, nil, nil)
	require.Error(t, err)
	_, err = NewLeafManager[btree.Key8](nil, nil, Config{}, nil, nil)
	require.Error(t, err)
}

func TestLeafManager_InsertLookupDelete(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	leafID, err := f.mgr.CreateLeaf(ctx, btree.InvalidPageID)
	require.NoError(t, err)
	require.Equal(t, 2, f.insert(t, leafID, 8, 3))

	_, err = f.mgr.Insert(ctx, leafID, key(8), btree.NewRID(1, 1))
	require.ErrorIs(t, err, ErrDuplicateKey)

	rid, found, err := f.mgr.Lookup(ctx, leafID, key(3))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, btree.NewRID(3, 0), rid)

	_, found, err = f.mgr.Lookup(ctx, leafID, key(4))
	require.NoError(t, err)
	require.False(t, found)

	found, underflow, err := f.mgr.Delete(ctx, leafID, key(3))
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, underflow, "root leaves never underflow")

	found, _, err = f.mgr.Delete(ctx, leafID, key(3))
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = f.mgr.Lookup(ctx, 99, key(1))
	require.ErrorIs(t, err, flushmanager.ErrInvalidPageID)
	f.requireUnpinned(t, leafID)
}

func TestLeafManager_SplitCreatesRoot(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	root, left, right := f.splitRoot(t)

	require.Equal(t, []int64{1, 2, 3}, f.keys(t, left))
	require.Equal(t, []int64{4, 5}, f.keys(t, right))

	_, err := f.mgr.Split(ctx, left)
	require.ErrorIs(t, err, ErrLeafNotFull)

	for k, want := range map[int64]btree.PageID{0: left, 3: left, 4: right, 100: right} {
		got, err := f.mgr.FindLeaf(ctx, root, key(k))
		require.NoError(t, err)
		require.Equal(t, want, got, "key %d", k)
	}

	desc, err := f.mgr.Describe(ctx, right)
	require.NoError(t, err)
	require.Equal(t, "[pageId: 2 parentId: 3]<2> 4(4:0) 5(5:0)", desc)
	desc, err = f.mgr.Describe(ctx, root)
	require.NoError(t, err)
	require.Contains(t, desc, "(1) 4 (2)")

	// A second split of the right leaf goes into the existing root.
	require.Equal(t, 5, f.insert(t, right, 6, 7, 8))
	_, err = f.mgr.Insert(ctx, right, key(9), btree.NewRID(9, 0))
	require.ErrorIs(t, err, ErrLeafFull)
	res, err := f.mgr.Split(ctx, right)
	require.NoError(t, err)
	require.False(t, res.NewRoot)
	require.Equal(t, root, res.ParentID)
	require.Equal(t, int64(7), btree.Int64FromKey(res.Separator))

	entries, err := f.mgr.Scan(ctx, left, key(0), 0)
	require.NoError(t, err)
	require.Len(t, entries, 8)
	entries, err = f.mgr.Scan(ctx, right, key(5), 2)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6}, []int64{btree.Int64FromKey(entries[0].Key), btree.Int64FromKey(entries[1].Key)})

	f.requireUnpinned(t, root, left, right, res.NewPageID)
}

func TestLeafManager_MergeCollapsesRoot(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	root, left, right := f.splitRoot(t)

	found, underflow, err := f.mgr.Delete(ctx, right, key(5))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, underflow)

	_, err = f.mgr.Merge(ctx, right, left)
	require.ErrorIs(t, err, ErrNotSiblings)

	res, err := f.mgr.Merge(ctx, left, right)
	require.NoError(t, err)
	require.Equal(t, root, res.ParentID)
	require.Equal(t, left, res.NewRootID)
	require.Equal(t, []int64{1, 2, 3, 4}, f.keys(t, left))

	desc, err := f.mgr.Describe(ctx, left)
	require.NoError(t, err)
	require.Contains(t, desc, "parentId: -1")
	require.ElementsMatch(t, []btree.PageID{right, root}, f.bpm.DiskManager().FreePages())

	got, err := f.mgr.FindLeaf(ctx, left, key(4))
	require.NoError(t, err)
	require.Equal(t, left, got)
	f.requireUnpinned(t, left)
}

func TestLeafManager_MergeOverflow(t *testing.T) {
	f := newFixture(t, 4)
	_, left, right := f.splitRoot(t)
	f.insert(t, right, 6)

	_, err := f.mgr.Merge(context.Background(), left, right)
	require.ErrorIs(t, err, ErrMergeOverflow)
	require.Equal(t, []int64{1, 2, 3}, f.keys(t, left))
	require.Equal(t, []int64{4, 5, 6}, f.keys(t, right))
	f.requireUnpinned(t, left, right)
}

func TestLeafManager_BorrowBothDirections(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	root, left, right := f.splitRoot(t)

	// right takes 3 from the end of left.
	require.NoError(t, f.mgr.Borrow(ctx, right, left))
	require.Equal(t, []int64{1, 2}, f.keys(t, left))
	require.Equal(t, []int64{3, 4, 5}, f.keys(t, right))
	got, err := f.mgr.FindLeaf(ctx, root, key(3))
	require.NoError(t, err)
	require.Equal(t, right, got)

	// left takes 3 back from the front of right.
	require.NoError(t, f.mgr.Borrow(ctx, left, right))
	require.Equal(t, []int64{1, 2, 3}, f.keys(t, left))
	require.Equal(t, []int64{4, 5}, f.keys(t, right))
	got, err = f.mgr.FindLeaf(ctx, root, key(3))
	require.NoError(t, err)
	require.Equal(t, left, got)

	err = f.mgr.Borrow(ctx, left, right)
	require.ErrorIs(t, err, ErrCannotLend)
	require.Equal(t, []int64{4, 5}, f.keys(t, right))

	f.requireUnpinned(t, root, left, right)
}

func TestLeafManager_Rebalance(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	root, left, right := f.splitRoot(t)
	f.insert(t, right, 6, 7)

	for _, k := range []int64{1, 2} {
		_, _, err := f.mgr.Delete(ctx, left, key(k))
		require.NoError(t, err)
	}
	res, err := f.mgr.Rebalance(ctx, left)
	require.NoError(t, err)
	require.Equal(t, RebalanceBorrowed, res.Action)
	require.Equal(t, []int64{3, 4}, f.keys(t, left))
	require.Equal(t, []int64{5, 6, 7}, f.keys(t, right))

	// Nothing to do for a leaf at min size.
	res, err = f.mgr.Rebalance(ctx, left)
	require.NoError(t, err)
	require.Equal(t, RebalanceNone, res.Action)

	for _, k := range []int64{6, 7} {
		_, _, err := f.mgr.Delete(ctx, right, key(k))
		require.NoError(t, err)
	}
	res, err = f.mgr.Rebalance(ctx, right)
	require.NoError(t, err)
	require.Equal(t, RebalanceMerged, res.Action)
	require.Equal(t, left, res.Merge.NewRootID)
	require.Equal(t, root, res.Merge.ParentID)
	require.Equal(t, []int64{3, 4, 5}, f.keys(t, left))
	f.requireUnpinned(t, left)

	require.Equal(t, int64(2), f.structural(t))
}

func TestLeafManager_Render(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	root, left, _ := f.splitRoot(t)

	tree, err := f.mgr.RenderTree(ctx, root)
	require.NoError(t, err)
	require.Contains(t, tree, "root 3")
	require.Contains(t, tree, "[internal 3]")
	require.Contains(t, tree, ">= 4")
	require.Contains(t, tree, "1 2 3")

	chain, err := f.mgr.RenderChain(ctx, left)
	require.NoError(t, err)
	require.Contains(t, chain, "leaf chain")
	require.Contains(t, chain, "[leaf 1]  size=3/4 next=2")
	require.Contains(t, chain, "[leaf 2]  size=2/4 next=-1")
	require.Contains(t, chain, "4 5")
}

func TestLeafManager_RecordsSpans(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	leafID, err := f.mgr.CreateLeaf(ctx, btree.InvalidPageID)
	require.NoError(t, err)
	_, err = f.mgr.Split(ctx, leafID)
	require.Error(t, err)

	var split sdktrace.ReadOnlySpan
	for _, s := range f.spans.Ended() {
		if s.Name() == "Split" {
			split = s
		}
	}
	require.NotNil(t, split)
	require.Equal(t, otelcodes.Error, split.Status().Code)
}

func (f *fixture) structural(t *testing.T) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "leafdb.leaf.structural" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	// splitRoot accounts for one of them.
	return total - 1
}
