// Package channel implements the core rtipc protocol: the atomic slot-ring
// that lets one producer and one consumer, communicating only through
// shared memory, agree on which message slot each owns, with well-defined
// overrun (producer wins) and steady-state (lossless) semantics.
//
// The control flow mirrors mausys/rtipc's src/channel.rs branch for
// branch; the atomic-over-mapped-bytes idiom (an unsafe.Pointer cast onto
// a byte offset, then sync/atomic loads/stores/CAS on it) is the same one
// the teacher uses in shm/matrix.go's WriteBBO seqlock
// (seqAddr := (*uint32)(unsafe.Pointer(&slot.Seqlock))).
package channel

import (
	"sync/atomic"
	"unsafe"

	"github.com/AlephTX/rtipc/cache"
	"github.com/AlephTX/rtipc/index"
	"github.com/AlephTX/rtipc/shm"
	"github.com/AlephTX/rtipc/table"
)

// FetchResult reports what a consumer Fetch call observed.
type FetchResult int

const (
	// FetchNone means the channel has never been published to.
	FetchNone FetchResult = iota
	// FetchSame means no new message arrived since the last fetch.
	FetchSame
	// FetchNew means current now points at a newly observed message.
	FetchNew
)

// core holds the layout-critical, shared-memory-backed state common to
// both channel halves: the queue block (head, tail, N links) and the data
// block (N cache-line-aligned message slots).
type core struct {
	chunk     shm.Chunk
	msgSize   int
	paramSize int // declared message size, before cache-line padding
	n         int

	head  *index.Index
	tail  *index.Index
	queue []*index.Index
	msgs  [][]byte
}

func idxPtr(b []byte) *index.Index {
	return (*index.Index)(unsafe.Pointer(&b[0]))
}

func newCore(chunk shm.Chunk, param table.ChannelParam) (*core, error) {
	n := param.QueueLen()
	msgSize := cache.Align(param.MsgSize)
	queueSize := (2 + n) * index.Size

	offsetIdx := 0
	offsetMsg := cache.Align(queueSize)

	headBytes, err := chunk.Slice(offsetIdx, index.Size)
	if err != nil {
		return nil, err
	}
	offsetIdx += index.Size

	tailBytes, err := chunk.Slice(offsetIdx, index.Size)
	if err != nil {
		return nil, err
	}
	offsetIdx += index.Size

	queue := make([]*index.Index, n)
	msgs := make([][]byte, n)

	for i := 0; i < n; i++ {
		qb, err := chunk.Slice(offsetIdx, index.Size)
		if err != nil {
			return nil, err
		}
		queue[i] = idxPtr(qb)
		offsetIdx += index.Size

		mb, err := chunk.Slice(offsetMsg, msgSize)
		if err != nil {
			return nil, err
		}
		msgs[i] = mb
		offsetMsg += msgSize
	}

	return &core{
		chunk:     chunk,
		msgSize:   msgSize,
		paramSize: param.MsgSize,
		n:         n,
		head:      idxPtr(headBytes),
		tail:      idxPtr(tailBytes),
		queue:     queue,
		msgs:      msgs,
	}, nil
}

// init writes the at-rest shared state: head = tail = Invalid, and the
// link array forms a single cycle over all N slots (i -> i+1, last -> 0).
func (c *core) init() {
	c.tailStore(index.Invalid)
	c.headStore(index.Invalid)

	last := c.n - 1
	for i := 0; i < last; i++ {
		c.queueStore(index.Index(i), index.Index(i+1))
	}
	c.queueStore(index.Index(last), 0)
}

func (c *core) tailLoad() index.Index       { return atomic.LoadUint32(c.tail) }
func (c *core) tailStore(v index.Index)     { atomic.StoreUint32(c.tail, v) }
func (c *core) tailCAS(old, new_ index.Index) bool {
	return atomic.CompareAndSwapUint32(c.tail, old, new_)
}

// tailFetchOr ORs val into tail and returns the value tail held before
// the OR, matching std::sync::atomic's fetch_or semantics.
func (c *core) tailFetchOr(val index.Index) index.Index {
	for {
		old := atomic.LoadUint32(c.tail)
		if atomic.CompareAndSwapUint32(c.tail, old, old|val) {
			return old
		}
	}
}

func (c *core) headLoad() index.Index   { return atomic.LoadUint32(c.head) }
func (c *core) headStore(v index.Index) { atomic.StoreUint32(c.head, v) }

func (c *core) queueLoad(i index.Index) index.Index     { return atomic.LoadUint32(c.queue[i]) }
func (c *core) queueStore(i index.Index, v index.Index) { atomic.StoreUint32(c.queue[i], v) }

// moveTail advances tail by one link, from tail to queue[tail & Mask].
func (c *core) moveTail(tail index.Index) bool {
	next := c.queueLoad(tail & index.Mask)
	return c.tailCAS(tail, next)
}

// Producer is the producer half of a channel: it owns current exclusively
// and publishes it via ForcePut/TryPut.
type Producer struct {
	core    *core
	head    index.Index // last published slot, or Invalid before first publish
	current index.Index // slot the producer is writing
	overrun index.Index // slot reclaimed from the consumer, pending release
}

// NewProducer constructs a producer half over chunk, laid out per param.
func NewProducer(chunk shm.Chunk, param table.ChannelParam) (*Producer, error) {
	c, err := newCore(chunk, param)
	if err != nil {
		return nil, err
	}
	return &Producer{core: c, head: index.Invalid, current: 0, overrun: index.Invalid}, nil
}

// Init writes the shared at-rest state. Only the creator side calls this.
func (p *Producer) Init() { p.core.init() }

// MsgSize returns the channel's declared message size, before cache-line
// padding; the slot returned by Current may be larger.
func (p *Producer) MsgSize() int { return p.core.paramSize }

// Current returns the producer's current slot, for the caller to write
// the next outgoing message into before calling ForcePut/TryPut.
func (p *Producer) Current() []byte { return p.core.msgs[p.current] }

// publish makes p.current the new head: it terminates the chain at
// current, splices current after the previous head (or makes it the tail
// if this is the first-ever publish), then stores head both locally and
// in shared memory.
func (p *Producer) publish() {
	p.core.queueStore(p.current, index.Invalid)

	if p.head == index.Invalid {
		p.core.tailStore(p.current)
	} else {
		p.core.queueStore(p.head, p.current)
	}

	p.head = p.current
	p.core.headStore(p.head)
}

// overrunSlot tries to jump the tail past the slot the consumer currently
// holds, two links ahead, stashing the consumer-held slot as a pending
// overrun and adopting the one-hop slot as current.
func (p *Producer) overrunSlot(tail index.Index) bool {
	newCurrent := p.core.queueLoad(tail & index.Mask)
	newTail := p.core.queueLoad(newCurrent)

	if p.core.tailCAS(tail, newTail) {
		p.overrun = tail & index.Mask
		p.current = newCurrent
		return true
	}

	// Consumer just released tail; use it directly.
	p.current = tail & index.Mask
	return false
}

// ForcePut publishes the current slot, discarding an older unread slot if
// the ring is full, and reports whether a discard happened.
func (p *Producer) ForcePut() bool {
	discarded := false

	next := p.core.queueLoad(p.current)

	p.publish()

	tail := p.core.tailLoad()
	consumed := tail&index.ConsumedFlag != 0
	full := next == (tail & index.Mask)

	switch {
	case p.overrun != index.Invalid:
		if consumed {
			p.core.queueStore(p.overrun, next)
			p.current = p.overrun
			p.overrun = index.Invalid
		} else if p.core.moveTail(tail) {
			p.current = tail & index.Mask
			discarded = true
		} else {
			p.core.queueStore(p.overrun, next)
			p.current = p.overrun
			p.overrun = index.Invalid
		}
	case !full:
		p.current = next
	case !consumed:
		if p.core.moveTail(tail) {
			p.current = next
			discarded = true
		} else {
			discarded = p.overrunSlot(tail | index.ConsumedFlag)
		}
	default:
		discarded = p.overrunSlot(tail)
	}

	return discarded
}

// TryPut publishes the current slot only if space is available, without
// ever discarding an unread message. It reports whether it enqueued.
func (p *Producer) TryPut() bool {
	next := p.core.queueLoad(p.current)
	tail := p.core.tailLoad()
	consumed := tail&index.ConsumedFlag != 0
	full := next == (tail & index.Mask)

	if p.overrun != index.Invalid {
		if consumed {
			p.publish()
			p.core.queueStore(p.overrun, next)
			p.current = p.overrun
			p.overrun = index.Invalid
			return true
		}
		return false
	}

	if !full {
		p.publish()
		p.current = next
		return true
	}

	return false
}

// Consumer is the consumer half of a channel: it owns current once tail
// points at it, and advances via FetchTail/FetchHead.
type Consumer struct {
	core     *core
	current  index.Index
	observed bool // true once FetchTail has returned FetchNew or FetchHead true
}

// NewConsumer constructs a consumer half over chunk, laid out per param.
func NewConsumer(chunk shm.Chunk, param table.ChannelParam) (*Consumer, error) {
	c, err := newCore(chunk, param)
	if err != nil {
		return nil, err
	}
	return &Consumer{core: c, current: 0}, nil
}

// Init writes the shared at-rest state. Only the creator side calls this.
func (c *Consumer) Init() { c.core.init() }

// MsgSize returns the channel's declared message size, before cache-line
// padding; the slot returned by Current may be larger.
func (c *Consumer) MsgSize() int { return c.core.paramSize }

// Current returns the consumer's current slot and whether any message has
// ever been observed (false before the first successful fetch).
func (c *Consumer) Current() ([]byte, bool) {
	if !c.observed {
		return nil, false
	}
	return c.core.msgs[c.current], true
}

// FetchTail advances to the next unread message in FIFO order.
func (c *Consumer) FetchTail() FetchResult {
	tail := c.core.tailFetchOr(index.ConsumedFlag)

	if tail == index.Invalid {
		return FetchNone
	}

	if tail&index.ConsumedFlag != 0 {
		next := c.core.queueLoad(c.current)
		if next == index.Invalid {
			return FetchSame
		}

		if c.core.tailCAS(tail, next|index.ConsumedFlag) {
			c.current = next
		} else {
			// Producer moved tail to reclaim space; adopt its new value.
			c.current = c.core.tailFetchOr(index.ConsumedFlag)
		}
	} else {
		// Producer had moved tail, clearing the flag; adopt it.
		c.current = tail
	}

	c.observed = true
	return FetchNew
}

// FetchHead jumps directly to the most recently published message.
func (c *Consumer) FetchHead() bool {
	for {
		tail := c.core.tailFetchOr(index.ConsumedFlag)
		if tail == index.Invalid {
			return false
		}

		head := c.core.headLoad()

		if c.core.tailCAS(tail|index.ConsumedFlag, head|index.ConsumedFlag) {
			c.current = head
			c.observed = true
			return true
		}
		// Producer moved tail between the fetch_or and this CAS; retry so
		// we never adopt a head that was the producer's working slot.
	}
}
