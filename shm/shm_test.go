//go:build linux

package shm

import (
	"bytes"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNewAnonRoundTrip(t *testing.T) {
	s, err := NewAnon(4096)
	if err != nil {
		t.Fatalf("NewAnon: %v", err)
	}
	defer s.Close()

	if s.Size() != 4096 {
		t.Fatalf("Size() = %d, want 4096", s.Size())
	}

	chunk, err := s.Alloc(Span{Offset: 0, Size: 16})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer chunk.Close()

	copy(chunk.Bytes(), []byte("hello shared mem"))

	attached, err := FromFd(s.Fd())
	if err != nil {
		t.Fatalf("FromFd: %v", err)
	}
	defer attached.Close()

	got, err := attached.Alloc(Span{Offset: 0, Size: 16})
	if err != nil {
		t.Fatalf("Alloc on attached: %v", err)
	}
	defer got.Close()

	if !bytes.Equal(got.Bytes(), []byte("hello shared mem")) {
		t.Fatalf("attached view = %q, want %q", got.Bytes(), "hello shared mem")
	}
}

func TestAllocOutOfBounds(t *testing.T) {
	s, err := NewAnon(64)
	if err != nil {
		t.Fatalf("NewAnon: %v", err)
	}
	defer s.Close()

	if _, err := s.Alloc(Span{Offset: 32, Size: 64}); err != ErrSize {
		t.Fatalf("Alloc out of bounds: got %v, want ErrSize", err)
	}

	if _, err := s.Alloc(Span{Offset: 0, Size: 0}); err != ErrSize {
		t.Fatalf("Alloc zero size: got %v, want ErrSize", err)
	}
}

func TestNewAnonZeroSizeRejected(t *testing.T) {
	if _, err := NewAnon(0); err != ErrZeroSize {
		t.Fatalf("NewAnon(0) = %v, want ErrZeroSize", err)
	}
}

func TestChunkSliceBounds(t *testing.T) {
	s, err := NewAnon(256)
	if err != nil {
		t.Fatalf("NewAnon: %v", err)
	}
	defer s.Close()

	chunk, err := s.Alloc(Span{Offset: 0, Size: 128})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer chunk.Close()

	if _, err := chunk.Slice(120, 16); err != ErrSize {
		t.Fatalf("Slice past end: got %v, want ErrSize", err)
	}

	sub, err := chunk.Slice(0, 64)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(sub) != 64 || cap(sub) != 64 {
		t.Fatalf("Slice len/cap = %d/%d, want 64/64 (capped against escape)", len(sub), cap(sub))
	}
}

func TestRefcountKeepsMappingAliveUntilAllChunksClosed(t *testing.T) {
	s, err := NewAnon(64)
	if err != nil {
		t.Fatalf("NewAnon: %v", err)
	}

	chunk, err := s.Alloc(Span{Offset: 0, Size: 64})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close with outstanding chunk: %v", err)
	}

	// The chunk's view must still be valid; the mapping is torn down only
	// once chunk.Close releases the last reference.
	copy(chunk.Bytes(), []byte("still mapped"))

	if err := chunk.Close(); err != nil {
		t.Fatalf("Chunk.Close: %v", err)
	}
}

func TestNewNamedUnlinksOnClose(t *testing.T) {
	name := "rtipc-test-named"
	s, err := NewNamed(128, name, 0600)
	if err != nil {
		t.Fatalf("NewNamed: %v", err)
	}

	path := "/dev/shm/" + name
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("segment not present at %s: %v", path, err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("segment still present at %s after Close", path)
	}
}

func TestFromFdRejectsEmptyRegion(t *testing.T) {
	fd, err := unix.MemfdCreate("rtipc-empty", unix.MFD_ALLOW_SEALING)
	if err != nil {
		t.Fatalf("memfd_create: %v", err)
	}
	defer unix.Close(fd)

	if _, err := FromFd(fd); err != ErrZeroSize {
		t.Fatalf("FromFd on empty region: got %v, want ErrZeroSize", err)
	}
}
