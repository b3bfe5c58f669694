package common

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyThrottled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")

	data := make([]byte, chunkSize+4096+7)
	for i := range data {
		data[i] = byte(i * 31)
	}
	require.NoError(t, os.WriteFile(src, data, 0644))

	stats, err := CopyThrottled(context.Background(), src, dst, 0, true)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), stats.Bytes)
	want := sha256.Sum256(data)
	require.Equal(t, want[:], stats.SHA256)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestCopyThrottled_RateLimited(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	require.NoError(t, os.WriteFile(src, []byte("small page file"), 0644))

	stats, err := CopyThrottled(context.Background(), src, filepath.Join(dir, "dst.db"), 1<<30, false)
	require.NoError(t, err)
	require.Equal(t, int64(15), stats.Bytes)
}

func TestCopyThrottled_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyThrottled(context.Background(), filepath.Join(dir, "missing"), filepath.Join(dir, "dst"), 0, false)
	require.Error(t, err)

	src := filepath.Join(dir, "src.db")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CopyThrottled(ctx, src, filepath.Join(dir, "dst"), 0, false)
	require.ErrorIs(t, err, context.Canceled)
}
