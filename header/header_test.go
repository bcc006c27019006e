package header

import (
	"testing"

	"github.com/AlephTX/rtipc/shm"
)

func newChunk(t *testing.T, size int) shm.Chunk {
	t.Helper()
	region, err := shm.NewAnon(size)
	if err != nil {
		t.Fatalf("NewAnon: %v", err)
	}
	t.Cleanup(func() { region.Close() })

	chunk, err := region.Alloc(shm.Span{Offset: 0, Size: size})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	t.Cleanup(func() { chunk.Close() })
	return chunk
}

func TestWriteFromChunkRoundTrip(t *testing.T) {
	chunk := newChunk(t, Size)

	h := New(1, 2, 0x13579BDF)
	if err := Write(chunk, h); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := FromChunk(chunk, 0x13579BDF)
	if err != nil {
		t.Fatalf("FromChunk: %v", err)
	}
	if got != h {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestFromChunkValidationOrder(t *testing.T) {
	chunk := newChunk(t, Size)
	h := New(1, 1, 42)
	if err := Write(chunk, h); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Corrupt every field at once; magic must be reported first.
	corrupt := h
	corrupt.Magic = 0xDEAD
	corrupt.Version = 9
	corrupt.Cookie = 1
	corrupt.CachelineSize++
	corrupt.AtomicSize++
	if err := Write(chunk, corrupt); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := FromChunk(chunk, 42); err != ErrMagic {
		t.Fatalf("all fields wrong: got %v, want ErrMagic", err)
	}

	// Fix magic only; version should now be reported.
	fixMagic := corrupt
	fixMagic.Magic = magic
	if err := Write(chunk, fixMagic); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := FromChunk(chunk, 42); err != ErrVersion {
		t.Fatalf("magic fixed: got %v, want ErrVersion", err)
	}

	// Fix version; cookie should now be reported.
	fixVersion := fixMagic
	fixVersion.Version = version
	if err := Write(chunk, fixVersion); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := FromChunk(chunk, 42); err != ErrCookie {
		t.Fatalf("magic+version fixed: got %v, want ErrCookie", err)
	}

	// Fix cookie; cacheline size should now be reported.
	fixCookie := fixVersion
	fixCookie.Cookie = 42
	if err := Write(chunk, fixCookie); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := FromChunk(chunk, 42); err != ErrCachelineSize {
		t.Fatalf("magic+version+cookie fixed: got %v, want ErrCachelineSize", err)
	}

	// Fix cacheline size; atomic size should now be reported.
	fixCacheline := fixCookie
	fixCacheline.CachelineSize = h.CachelineSize
	if err := Write(chunk, fixCacheline); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := FromChunk(chunk, 42); err != ErrAtomicSize {
		t.Fatalf("only atomic size wrong: got %v, want ErrAtomicSize", err)
	}
}

func TestFromChunkAcceptsValidHeader(t *testing.T) {
	chunk := newChunk(t, Size)
	h := New(3, 5, 7)
	if err := Write(chunk, h); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := FromChunk(chunk, 7); err != nil {
		t.Fatalf("FromChunk on valid header: %v", err)
	}
}
