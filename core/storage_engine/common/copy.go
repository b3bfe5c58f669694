// Package common holds file-level helpers shared by storage tooling.
package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/time/rate"
)

// chunkSize is the read/write unit and the limiter burst.
const chunkSize = 1 << 20

var ErrChecksumMismatch = errors.New("copy checksum mismatch")

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyStats reports what CopyThrottled wrote.
type CopyStats struct {
	Bytes  int64
	SHA256 []byte
}

// lowerPriority raises this process's niceness so a long copy yields to the
// foreground workload. Failure is not fatal.
func lowerPriority() error {
	const niceness = 10
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, niceness); err != nil {
		return fmt.Errorf("setpriority failed: %w", err)
	}
	return nil
}

// CopyThrottled copies srcPath to dstPath at no more than rateBytesPerSec
// (zero or negative means unthrottled). With verify set, the destination is
// read back and its SHA-256 compared against the source stream.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, rateBytesPerSec int64, verify bool) (CopyStats, error) {
	var stats CopyStats
	_ = lowerPriority()

	src, err := os.Open(srcPath)
	if err != nil {
		return stats, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return stats, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize)
	}

	sum := sha256.New()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, rerr := src.ReadAt(buf[:chunkSize], stats.Bytes)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return stats, fmt.Errorf("rate limiter: %w", err)
				}
			} else if err := ctx.Err(); err != nil {
				return stats, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return stats, fmt.Errorf("write dst: %w", err)
			}
			sum.Write(buf[:n])
			stats.Bytes += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return stats, fmt.Errorf("read src: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return stats, fmt.Errorf("sync dst: %w", err)
	}
	stats.SHA256 = sum.Sum(nil)

	if verify {
		got, err := fileSHA256(dstPath)
		if err != nil {
			return stats, err
		}
		if !bytes.Equal(got, stats.SHA256) {
			return stats, fmt.Errorf("%w: src %x dst %x", ErrChecksumMismatch, stats.SHA256, got)
		}
	}
	return stats, nil
}

func fileSHA256(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open for verify: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("read for verify: %w", err)
	}
	return h.Sum(nil), nil
}
