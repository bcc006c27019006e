// Package rtipc is the facade that ties shared memory, the region header,
// the channel descriptor table, and the channel protocol together into a
// single create/attach API, plus generic typed handles over raw channels.
//
// Layout of a region, in byte order: Header, then the channel descriptor
// table, then each channel's queue block and data block, consumers first
// then producers, exactly the order table.New and table.Write use.
package rtipc

import (
	"errors"
	"os"
	"unsafe"

	"github.com/AlephTX/rtipc/cache"
	"github.com/AlephTX/rtipc/channel"
	"github.com/AlephTX/rtipc/header"
	"github.com/AlephTX/rtipc/shm"
	"github.com/AlephTX/rtipc/table"
)

// ChannelParam describes one channel's capacity: additional slots beyond
// the minimum ring size, and the message payload size.
type ChannelParam = table.ChannelParam

var (
	// ErrTaken is returned by TakeProducer/TakeConsumer for a channel index
	// whose handle has already been taken.
	ErrTaken = errors.New("rtipc: channel already taken")
	// ErrChannelIndex is returned for an index outside the negotiated
	// producer or consumer set.
	ErrChannelIndex = errors.New("rtipc: channel index out of range")
	// ErrMsgSize is returned when a typed handle's Go type is larger than
	// the channel's declared message size.
	ErrMsgSize = errors.New("rtipc: message type larger than channel slot size")
)

// RtIpc is one side of a shared-memory region: the channel set negotiated
// when the region was created or, on the attaching side, reconstructed
// from the header and table the creator wrote.
type RtIpc struct {
	shm *shm.SharedMemory

	producers      []*channel.Producer
	producerChunks []shm.Chunk
	producersTaken []bool

	consumers      []*channel.Consumer
	consumerChunks []shm.Chunk
	consumersTaken []bool
}

func calcOffsetChannels(numChannels int) int {
	return cache.Align(header.Size + table.Size(numChannels))
}

func calcShmSize(consumers, producers []ChannelParam) int {
	offset := calcOffsetChannels(len(consumers) + len(producers))
	for _, p := range consumers {
		offset += p.Size()
	}
	for _, p := range producers {
		offset += p.Size()
	}
	return offset
}

// NewAnonShm creates a new region backed by an anonymous sealed memfd,
// writes its header and channel table, and builds the channel set
// described by consumers and producers from the creator's point of view.
// The returned RtIpc's Fd is suitable for handing to an attaching peer
// over SCM_RIGHTS.
func NewAnonShm(consumers, producers []ChannelParam, cookie uint32) (*RtIpc, error) {
	size := calcShmSize(consumers, producers)
	region, err := shm.NewAnon(size)
	if err != nil {
		return nil, err
	}
	return create(region, consumers, producers, cookie)
}

// NewNamedShm creates a new region under /dev/shm, writes its header and
// channel table, and builds the channel set described by consumers and
// producers from the creator's point of view.
func NewNamedShm(consumers, producers []ChannelParam, cookie uint32, name string, mode os.FileMode) (*RtIpc, error) {
	size := calcShmSize(consumers, producers)
	region, err := shm.NewNamed(size, name, mode)
	if err != nil {
		return nil, err
	}
	return create(region, consumers, producers, cookie)
}

func create(region *shm.SharedMemory, consumers, producers []ChannelParam, cookie uint32) (*RtIpc, error) {
	numChannels := len(consumers) + len(producers)

	headerChunk, err := region.Alloc(shm.Span{Offset: 0, Size: header.Size})
	if err != nil {
		region.Close()
		return nil, err
	}
	h := header.New(uint32(len(consumers)), uint32(len(producers)), cookie)
	err = header.Write(headerChunk, h)
	headerChunk.Close()
	if err != nil {
		region.Close()
		return nil, err
	}

	tableChunk, err := region.Alloc(shm.Span{Offset: header.Size, Size: table.Size(numChannels)})
	if err != nil {
		region.Close()
		return nil, err
	}
	offsetChannels := calcOffsetChannels(numChannels)
	t := table.New(consumers, producers, offsetChannels)
	err = table.Write(tableChunk, t)
	tableChunk.Close()
	if err != nil {
		region.Close()
		return nil, err
	}

	rt := &RtIpc{shm: region}

	for _, e := range t.Consumers {
		chunk, err := region.Alloc(e.Span)
		if err != nil {
			rt.Close()
			return nil, err
		}
		c, err := channel.NewConsumer(chunk, e.Param)
		if err != nil {
			chunk.Close()
			rt.Close()
			return nil, err
		}
		c.Init()
		rt.consumers = append(rt.consumers, c)
		rt.consumerChunks = append(rt.consumerChunks, chunk)
		rt.consumersTaken = append(rt.consumersTaken, false)
	}

	for _, e := range t.Producers {
		chunk, err := region.Alloc(e.Span)
		if err != nil {
			rt.Close()
			return nil, err
		}
		p, err := channel.NewProducer(chunk, e.Param)
		if err != nil {
			chunk.Close()
			rt.Close()
			return nil, err
		}
		p.Init()
		rt.producers = append(rt.producers, p)
		rt.producerChunks = append(rt.producerChunks, chunk)
		rt.producersTaken = append(rt.producersTaken, false)
	}

	return rt, nil
}

// FromFd attaches to a region created by a peer process via an inherited
// file descriptor, validates its header against cookie, and reconstructs
// the channel set with producer/consumer roles swapped relative to the
// creator's view (see header.Header.NumChannels and table.FromChunk).
func FromFd(fd int, cookie uint32) (*RtIpc, error) {
	region, err := shm.FromFd(fd)
	if err != nil {
		return nil, err
	}

	headerChunk, err := region.Alloc(shm.Span{Offset: 0, Size: header.Size})
	if err != nil {
		region.Close()
		return nil, err
	}
	h, err := header.FromChunk(headerChunk, cookie)
	headerChunk.Close()
	if err != nil {
		region.Close()
		return nil, err
	}

	numProducers := int(h.NumChannels[0])
	numConsumers := int(h.NumChannels[1])
	numChannels := numProducers + numConsumers

	tableChunk, err := region.Alloc(shm.Span{Offset: header.Size, Size: table.Size(numChannels)})
	if err != nil {
		region.Close()
		return nil, err
	}
	offsetChannels := calcOffsetChannels(numChannels)
	t, err := table.FromChunk(tableChunk, numConsumers, numProducers, offsetChannels)
	tableChunk.Close()
	if err != nil {
		region.Close()
		return nil, err
	}

	rt := &RtIpc{shm: region}

	for _, e := range t.Consumers {
		chunk, err := region.Alloc(e.Span)
		if err != nil {
			rt.Close()
			return nil, err
		}
		c, err := channel.NewConsumer(chunk, e.Param)
		if err != nil {
			chunk.Close()
			rt.Close()
			return nil, err
		}
		rt.consumers = append(rt.consumers, c)
		rt.consumerChunks = append(rt.consumerChunks, chunk)
		rt.consumersTaken = append(rt.consumersTaken, false)
	}

	for _, e := range t.Producers {
		chunk, err := region.Alloc(e.Span)
		if err != nil {
			rt.Close()
			return nil, err
		}
		p, err := channel.NewProducer(chunk, e.Param)
		if err != nil {
			chunk.Close()
			rt.Close()
			return nil, err
		}
		rt.producers = append(rt.producers, p)
		rt.producerChunks = append(rt.producerChunks, chunk)
		rt.producersTaken = append(rt.producersTaken, false)
	}

	return rt, nil
}

// Fd returns the region's file descriptor, for handing off to an
// attaching peer process out-of-band.
func (r *RtIpc) Fd() int { return r.shm.Fd() }

// NumProducers returns the number of producer-direction channels.
func (r *RtIpc) NumProducers() int { return len(r.producers) }

// NumConsumers returns the number of consumer-direction channels.
func (r *RtIpc) NumConsumers() int { return len(r.consumers) }

// Close releases every channel chunk and the region reference this RtIpc
// holds. The underlying mapping is only torn down once every other
// outstanding Chunk of this region has also been released; a peer RtIpc
// attached with FromFd maps the region separately and is not counted.
func (r *RtIpc) Close() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, c := range r.producerChunks {
		note(c.Close())
	}
	for _, c := range r.consumerChunks {
		note(c.Close())
	}
	note(r.shm.Close())

	return firstErr
}

// Producer is a typed handle onto a raw producer channel, guarding that
// T's size fits the channel's declared message size.
type Producer[T any] struct {
	ch *channel.Producer
}

func newProducer[T any](ch *channel.Producer) (*Producer[T], error) {
	var zero T
	if int(unsafe.Sizeof(zero)) > ch.MsgSize() {
		return nil, ErrMsgSize
	}
	return &Producer[T]{ch: ch}, nil
}

// Msg returns a pointer onto the current slot's payload, for the caller
// to fill in before ForcePut or TryPut.
func (p *Producer[T]) Msg() *T {
	return (*T)(unsafe.Pointer(&p.ch.Current()[0]))
}

// ForcePut publishes the current message, discarding the oldest unread
// one if the channel is full, and reports whether a discard happened.
func (p *Producer[T]) ForcePut() bool { return p.ch.ForcePut() }

// TryPut publishes the current message only if space is available; it
// never discards an unread message. It reports whether it enqueued.
func (p *Producer[T]) TryPut() bool { return p.ch.TryPut() }

// Consumer is a typed handle onto a raw consumer channel, guarding that
// T's size fits the channel's declared message size.
type Consumer[T any] struct {
	ch *channel.Consumer
}

func newConsumer[T any](ch *channel.Consumer) (*Consumer[T], error) {
	var zero T
	if int(unsafe.Sizeof(zero)) > ch.MsgSize() {
		return nil, ErrMsgSize
	}
	return &Consumer[T]{ch: ch}, nil
}

// Msg returns a pointer onto the last message FetchTail/FetchHead
// observed, or nil if none has been observed yet.
func (c *Consumer[T]) Msg() *T {
	data, ok := c.ch.Current()
	if !ok {
		return nil
	}
	return (*T)(unsafe.Pointer(&data[0]))
}

// FetchTail advances to the next unread message in FIFO order.
func (c *Consumer[T]) FetchTail() channel.FetchResult { return c.ch.FetchTail() }

// FetchHead jumps directly to the most recently published message.
func (c *Consumer[T]) FetchHead() bool { return c.ch.FetchHead() }

// TakeProducer hands out the typed producer handle for producer-direction
// channel idx, exactly once; later calls for the same index fail with
// ErrTaken.
func TakeProducer[T any](r *RtIpc, idx int) (*Producer[T], error) {
	if idx < 0 || idx >= len(r.producers) {
		return nil, ErrChannelIndex
	}
	if r.producersTaken[idx] {
		return nil, ErrTaken
	}
	p, err := newProducer[T](r.producers[idx])
	if err != nil {
		return nil, err
	}
	r.producersTaken[idx] = true
	return p, nil
}

// TakeConsumer hands out the typed consumer handle for consumer-direction
// channel idx, exactly once; later calls for the same index fail with
// ErrTaken.
func TakeConsumer[T any](r *RtIpc, idx int) (*Consumer[T], error) {
	if idx < 0 || idx >= len(r.consumers) {
		return nil, ErrChannelIndex
	}
	if r.consumersTaken[idx] {
		return nil, ErrTaken
	}
	c, err := newConsumer[T](r.consumers[idx])
	if err != nil {
		return nil, err
	}
	r.consumersTaken[idx] = true
	return c, nil
}
