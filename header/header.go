// Package header implements rtipc's fixed-layout region header: the
// magic/version/cookie/channel-count/ABI-tag block written at offset 0 of
// every region, and the peer-validation performed when attaching to one.
//
// Fields are read and written with a single unsafe.Pointer overlay onto the
// mapped chunk, the same struct-overlay idiom the teacher uses in
// shm/matrix.go ((*ShmMarketState)(unsafe.Pointer(&data[0]))) rather than
// field-by-field encoding/binary calls.
package header

import (
	"errors"
	"unsafe"

	"github.com/AlephTX/rtipc/cache"
	"github.com/AlephTX/rtipc/index"
	"github.com/AlephTX/rtipc/shm"
)

const (
	magic   uint16 = 0x1f0c
	version uint16 = 1
)

// Header is the fixed block written at offset 0 of every rtipc region.
//
// NumChannels follows the attacher's-view convention: slot 0 names the
// count the attacher will see as its producers, slot 1 the count it will
// see as its consumers. Since the creator's producers are the attacher's
// consumers, this is equivalently {num_consumers, num_producers} from the
// creator's own point of view — see table.FromChunk for the read side of
// this role swap.
type Header struct {
	Magic         uint16
	Version       uint16
	Cookie        uint32
	NumChannels   [2]uint32
	CachelineSize uint16
	AtomicSize    uint16
}

// Size is the on-wire size of Header.
const Size = int(unsafe.Sizeof(Header{}))

var (
	ErrMagic         = errors.New("header: magic mismatch")
	ErrVersion       = errors.New("header: version mismatch")
	ErrCookie        = errors.New("header: cookie mismatch")
	ErrCachelineSize = errors.New("header: cacheline size mismatch")
	ErrAtomicSize    = errors.New("header: atomic size mismatch")
)

// New builds a Header for a region with numConsumers consumer-direction
// channels and numProducers producer-direction channels, stamped with the
// calling host's resolved cache-line size and index width.
func New(numConsumers, numProducers uint32, cookie uint32) Header {
	return Header{
		Magic:         magic,
		Version:       version,
		Cookie:        cookie,
		NumChannels:   [2]uint32{numConsumers, numProducers},
		CachelineSize: uint16(cache.LineSize()),
		AtomicSize:    uint16(index.Size),
	}
}

func overlay(chunk shm.Chunk) (*Header, error) {
	data, err := chunk.Slice(0, Size)
	if err != nil {
		return nil, err
	}
	return (*Header)(unsafe.Pointer(&data[0])), nil
}

// Write copies h into chunk at offset 0.
func Write(chunk shm.Chunk, h Header) error {
	ptr, err := overlay(chunk)
	if err != nil {
		return err
	}
	*ptr = h
	return nil
}

// FromChunk reads the header at offset 0 of chunk and validates it against
// cookie and the calling host's own ABI tags, in priority order: magic,
// version, cookie, cacheline size, atomic size. It reports the first
// mismatch found.
func FromChunk(chunk shm.Chunk, cookie uint32) (Header, error) {
	ptr, err := overlay(chunk)
	if err != nil {
		return Header{}, err
	}
	h := *ptr

	if h.Magic != magic {
		return Header{}, ErrMagic
	}
	if h.Version != version {
		return Header{}, ErrVersion
	}
	if h.Cookie != cookie {
		return Header{}, ErrCookie
	}
	if h.CachelineSize != uint16(cache.LineSize()) {
		return Header{}, ErrCachelineSize
	}
	if h.AtomicSize != uint16(index.Size) {
		return Header{}, ErrAtomicSize
	}

	return h, nil
}
