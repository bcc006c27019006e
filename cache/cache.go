// Package cache resolves the host's cache-line size and aligns sizes to it.
//
// rtipc uses the resolved line size as an ABI tag: two peers that disagree
// on it cannot safely share a channel region, because queue blocks and data
// slots are padded to it to avoid false sharing between producer and
// consumer.
package cache

import (
	"sync/atomic"
	"unsafe"
)

// defaultLineSize is the fallback used when no finer-grained detection is
// available. It covers amd64 and arm64, the two architectures rtipc peers
// are expected to run on.
const defaultLineSize = 64

var resolved atomic.Uint64

// LineSize returns the memoized cache-line size used for alignment
// throughout rtipc. The first call resolves and caches it; later calls are
// a single atomic load.
func LineSize() int {
	if v := resolved.Load(); v != 0 {
		return int(v)
	}

	size := uint64(defaultLineSize)
	if a := uint64(unsafe.Alignof(float64(0))); a > size {
		size = a
	}

	resolved.Store(size)
	return int(size)
}

// Align rounds size up to the next multiple of the cache-line size.
func Align(size int) int {
	line := LineSize()
	return (size + line - 1) &^ (line - 1)
}
