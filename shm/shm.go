//go:build linux

// Package shm provides the shared-memory acquisition layer that backs an
// rtipc region: an anonymous sealed memfd, a named /dev/shm segment, or an
// attach from an inherited file descriptor, plus bounds-checked Chunk views
// into the mapping.
//
// The mmap/seal/fd-ownership shape follows the teacher's shm package
// (/dev/shm-backed ring buffers truncated then mapped PROT_READ|PROT_WRITE
// MAP_SHARED), upgraded from the raw "syscall" package to
// golang.org/x/sys/unix, which returns the mapping as a []byte directly and
// exposes memfd_create/fcntl seals that "syscall" does not.
package shm

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Span is a byte range within a shared-memory region.
type Span struct {
	Offset int
	Size   int
}

// SharedMemory owns one mmap'd region: its file descriptor, its mapping,
// and (for named segments) the filesystem path to unlink on teardown.
// Exactly one SharedMemory owns a given mapping; Chunks keep it alive by
// holding a reference that must be released with Chunk.Close.
type SharedMemory struct {
	fd   int
	data []byte
	path string // empty for anonymous regions

	refs atomic.Int32
}

// Chunk is a borrowed, bounds-checked view into a SharedMemory region. It
// holds a reference to the owning SharedMemory so the mapping outlives the
// view; callers must call Close exactly once when done with the chunk.
type Chunk struct {
	shm  *SharedMemory
	data []byte
}

func mmap(fd int, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// NewAnon creates an anonymous, sealable shared-memory region of the given
// size using memfd_create, truncates it, seals it against growing,
// shrinking, and further sealing, and maps it. The returned SharedMemory
// owns the memfd; its descriptor can be handed to a peer process with Fd.
func NewAnon(size int) (*SharedMemory, error) {
	if size <= 0 {
		return nil, ErrZeroSize
	}

	fd, err := unix.MemfdCreate("rtipc", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}

	if err := initRegion(fd, size); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
		unix.F_SEAL_GROW|unix.F_SEAL_SHRINK|unix.F_SEAL_SEAL); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: seal: %w", err)
	}

	data, err := mmap(fd, size)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}

	return newOwned(fd, data, ""), nil
}

// NewNamed creates a named shared-memory segment under /dev/shm, truncates
// it to size, maps it, and unlinks the path when the last reference is
// released. The segment must not already exist (O_CREAT|O_EXCL).
func NewNamed(size int, name string, mode os.FileMode) (*SharedMemory, error) {
	if size <= 0 {
		return nil, ErrZeroSize
	}

	path := "/dev/shm/" + name

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	// Duplicate the descriptor so we own an independent fd once f is
	// closed; mmap only needs the fd for the call itself.
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("shm: dup %s: %w", path, err)
	}

	if err := initRegion(fd, size); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, err
	}

	data, err := mmap(fd, size)
	if err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}

	return newOwned(fd, data, path), nil
}

// FromFd attaches to an existing shared-memory region via an inherited
// file descriptor, typically received from the creator process over a
// Unix socket control message. The size is taken from the descriptor
// itself (fstat), never supplied by the caller.
func FromFd(fd int) (*SharedMemory, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("shm: fstat: %w", err)
	}

	size := int(stat.Size)
	if size <= 0 {
		return nil, ErrZeroSize
	}

	data, err := mmap(fd, size)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}

	return newOwned(fd, data, ""), nil
}

func initRegion(fd int, size int) error {
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return fmt.Errorf("shm: ftruncate: %w", err)
	}
	return nil
}

func newOwned(fd int, data []byte, path string) *SharedMemory {
	shm := &SharedMemory{fd: fd, data: data, path: path}
	shm.refs.Store(1)
	return shm
}

// Fd returns the region's file descriptor, for handing off to a peer
// process out-of-band (e.g. SCM_RIGHTS over a Unix socket).
func (s *SharedMemory) Fd() int {
	return s.fd
}

// Size returns the total mapped size in bytes.
func (s *SharedMemory) Size() int {
	return len(s.data)
}

// Alloc returns a bounds-checked Chunk view over span. The returned Chunk
// holds a reference to s and must be released with Chunk.Close.
func (s *SharedMemory) Alloc(span Span) (Chunk, error) {
	if span.Offset < 0 || span.Size <= 0 || span.Offset+span.Size > len(s.data) {
		return Chunk{}, ErrSize
	}

	s.refs.Add(1)

	end := span.Offset + span.Size
	return Chunk{shm: s, data: s.data[span.Offset:end:end]}, nil
}

// Close releases the facade's own reference to the region. The mapping is
// torn down once this and every outstanding Chunk have been released.
func (s *SharedMemory) Close() error {
	return s.release()
}

func (s *SharedMemory) release() error {
	if s.refs.Add(-1) != 0 {
		return nil
	}

	err := unix.Munmap(s.data)
	unix.Close(s.fd)

	if s.path != "" {
		if rmErr := os.Remove(s.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}

	return err
}

// Bytes returns the chunk's bounds-checked view. The returned slice must
// not be resliced beyond its own length (it is capped to prevent append
// from growing past the chunk's window into the region).
func (c Chunk) Bytes() []byte {
	return c.data
}

// Size returns the chunk's length in bytes.
func (c Chunk) Size() int {
	return len(c.data)
}

// Slice returns a bounds-checked sub-view of the chunk.
func (c Chunk) Slice(offset, size int) ([]byte, error) {
	if offset < 0 || size <= 0 || offset+size > len(c.data) {
		return nil, ErrSize
	}
	end := offset + size
	return c.data[offset:end:end], nil
}

// Close releases the chunk's reference to the owning SharedMemory.
func (c Chunk) Close() error {
	if c.shm == nil {
		return nil
	}
	return c.shm.release()
}
