// Package stream copies large database values in bounded-size chunks so
// peak memory stays constant regardless of value size.
package stream

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash"
)

// Chunk sizes for streaming reads. 8 KiB is a good default for column
// streaming; use the larger sizes when the sink is a fast local disk.
const (
	DefaultChunkSize = 8 * 1024
	LargeChunkSize   = 64 * 1024
	HugeChunkSize    = 128 * 1024
)

// CopyStats describes a completed streaming copy.
type CopyStats struct {
	Bytes    int64
	Chunks   int
	Duration time.Duration
	Digest   uint64 // xxhash of the streamed bytes
}

// Copy streams src into dst in chunks of at most chunkSize bytes until src
// is exhausted. Peak memory use is bounded by chunkSize. Any read error on
// src or write error on dst aborts the copy; there is no retry and no
// partial-result recovery. Returns the number of bytes copied.
func Copy(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	stats, err := CopyWithStats(dst, src, chunkSize)
	return stats.Bytes, err
}

// CopyWithStats is Copy plus chunk count, duration, and a payload digest
// for integrity accounting.
func CopyWithStats(dst io.Writer, src io.Reader, chunkSize int) (CopyStats, error) {
	var stats CopyStats

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	start := time.Now()
	digest := xxhash.New()
	buf := make([]byte, chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := dst.Write(chunk); err != nil {
				stats.Duration = time.Since(start)
				return stats, fmt.Errorf("stream: write failed after %d bytes: %w", stats.Bytes, err)
			}
			digest.Write(chunk)
			stats.Bytes += int64(n)
			stats.Chunks++
		}

		if readErr != nil {
			stats.Duration = time.Since(start)
			if errors.Is(readErr, io.EOF) {
				stats.Digest = digest.Sum64()
				return stats, nil
			}
			return stats, fmt.Errorf("stream: read failed after %d bytes: %w", stats.Bytes, readErr)
		}
	}
}
