// Package table implements the channel descriptor table: the packed
// {add_msgs, msg_size} entries that follow the header, and the
// ChannelParam sizing arithmetic shared by the table layout and the
// channel layout itself.
package table

import (
	"errors"
	"unsafe"

	"github.com/AlephTX/rtipc/cache"
	"github.com/AlephTX/rtipc/index"
	"github.com/AlephTX/rtipc/shm"
)

// MinMsgs is the minimum number of slots in any channel's ring, regardless
// of AddMsgs.
const MinMsgs = 3

// ChannelParam describes one channel's capacity: AddMsgs additional slots
// beyond MinMsgs, and the message payload size before cache-line padding.
type ChannelParam struct {
	AddMsgs int
	MsgSize int
}

// QueueLen returns N, the total number of slots in the channel's ring.
func (p ChannelParam) QueueLen() int {
	return MinMsgs + p.AddMsgs
}

func (p ChannelParam) dataSize() int {
	return p.QueueLen() * cache.Align(p.MsgSize)
}

func (p ChannelParam) queueSize() int {
	n := 2 + p.QueueLen() // head + tail + N links
	return cache.Align(n * index.Size)
}

// Size returns the total cache-line-aligned byte span this channel
// occupies: its queue block plus its data block.
func (p ChannelParam) Size() int {
	return p.queueSize() + p.dataSize()
}

// Entry pairs a ChannelParam with the Span of the region it occupies.
type Entry struct {
	Param ChannelParam
	Span  shm.Span
}

// Table is the decoded channel descriptor table: consumer-direction
// entries and producer-direction entries, each with their region spans
// already computed.
type Table struct {
	Consumers []Entry
	Producers []Entry
}

var ErrValue = errors.New("table: invalid stored value")

const entrySize = 2 * 4 // two packed uint32 words per entry

// Size returns the on-wire byte size of a table with numChannels entries.
func Size(numChannels int) int {
	return numChannels * entrySize
}

type rawEntry struct {
	AddMsgs uint32
	MsgSize uint32
}

func entryPtr(chunk shm.Chunk, idx int) (*rawEntry, error) {
	data, err := chunk.Slice(idx*entrySize, entrySize)
	if err != nil {
		return nil, err
	}
	return (*rawEntry)(unsafe.Pointer(&data[0])), nil
}

// New lays out a table for paramConsumers and paramProducers, assigning
// each channel a Span starting at baseOffset, consumers first then
// producers — the order the writer always uses.
func New(paramConsumers, paramProducers []ChannelParam, baseOffset int) Table {
	offset := baseOffset

	consumers := make([]Entry, 0, len(paramConsumers))
	for _, p := range paramConsumers {
		size := p.Size()
		consumers = append(consumers, Entry{Param: p, Span: shm.Span{Offset: offset, Size: size}})
		offset += size
	}

	producers := make([]Entry, 0, len(paramProducers))
	for _, p := range paramProducers {
		size := p.Size()
		producers = append(producers, Entry{Param: p, Span: shm.Span{Offset: offset, Size: size}})
		offset += size
	}

	return Table{Consumers: consumers, Producers: producers}
}

// Write encodes t into chunk: consumer entries first, then producer
// entries, each as two packed uint32 words.
func Write(chunk shm.Chunk, t Table) error {
	idx := 0
	for _, e := range t.Consumers {
		ptr, err := entryPtr(chunk, idx)
		if err != nil {
			return err
		}
		*ptr = rawEntry{AddMsgs: uint32(e.Param.AddMsgs), MsgSize: uint32(e.Param.MsgSize)}
		idx++
	}
	for _, e := range t.Producers {
		ptr, err := entryPtr(chunk, idx)
		if err != nil {
			return err
		}
		*ptr = rawEntry{AddMsgs: uint32(e.Param.AddMsgs), MsgSize: uint32(e.Param.MsgSize)}
		idx++
	}
	return nil
}

// FromChunk decodes a table written by the peer on the other side of the
// role swap: the header names numProducers as the count of entries at the
// start of the byte stream and numConsumers as the count that follows,
// because those entries are physically the writer's consumer-direction
// and producer-direction entries respectively from the *creator's*
// viewpoint, while this reader is the attacher reconstructing its own
// producer/consumer roles. See header.Header.NumChannels and
// SPEC_FULL.md §4 for the full explanation; this function mirrors
// mausys/rtipc's table.rs::from_chunk exactly.
func FromChunk(chunk shm.Chunk, numConsumers, numProducers, baseOffset int) (Table, error) {
	offset := baseOffset
	idx := 0

	producers := make([]Entry, 0, numProducers)
	for i := 0; i < numProducers; i++ {
		param, err := readEntry(chunk, idx)
		if err != nil {
			return Table{}, err
		}
		size := param.Size()
		producers = append(producers, Entry{Param: param, Span: shm.Span{Offset: offset, Size: size}})
		offset += size
		idx++
	}

	consumers := make([]Entry, 0, numConsumers)
	for i := 0; i < numConsumers; i++ {
		param, err := readEntry(chunk, idx)
		if err != nil {
			return Table{}, err
		}
		size := param.Size()
		consumers = append(consumers, Entry{Param: param, Span: shm.Span{Offset: offset, Size: size}})
		offset += size
		idx++
	}

	return Table{Consumers: consumers, Producers: producers}, nil
}

func readEntry(chunk shm.Chunk, idx int) (ChannelParam, error) {
	ptr, err := entryPtr(chunk, idx)
	if err != nil {
		return ChannelParam{}, err
	}
	if ptr.MsgSize == 0 {
		return ChannelParam{}, ErrValue
	}
	return ChannelParam{AddMsgs: int(ptr.AddMsgs), MsgSize: int(ptr.MsgSize)}, nil
}
