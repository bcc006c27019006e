package table

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

func TestSizeMatchesComponentSum(t *testing.T) {
	p := ChannelParam{AddMsgs: 10, MsgSize: 8}
	n := p.QueueLen()
	if n != MinMsgs+10 {
		t.Fatalf("QueueLen() = %d, want %d", n, MinMsgs+10)
	}
	// calc_size must equal the sum of the queue block and data block.
	if p.Size() != p.queueSize()+p.dataSize() {
		t.Fatalf("Size() != queueSize()+dataSize()")
	}
}

func TestWriteFromChunkRoleSwapRoundTrip(t *testing.T) {
	consumers := []ChannelParam{{AddMsgs: 0, MsgSize: 12}}
	producers := []ChannelParam{{AddMsgs: 0, MsgSize: 12}, {AddMsgs: 10, MsgSize: 8}}

	written := New(consumers, producers, 0)

	chunk := newChunk(t, Size(len(consumers)+len(producers)))
	if err := Write(chunk, written); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A peer attaching with the role swap reads the same byte stream but
	// labels the first numProducers entries (physically the creator's
	// consumer entries) as its own producers.
	read, err := FromChunk(chunk, len(producers), len(consumers), 0)
	if err != nil {
		t.Fatalf("FromChunk: %v", err)
	}

	if len(read.Producers) != len(consumers) {
		t.Fatalf("read.Producers has %d entries, want %d (role swap)", len(read.Producers), len(consumers))
	}
	if len(read.Consumers) != len(producers) {
		t.Fatalf("read.Consumers has %d entries, want %d (role swap)", len(read.Consumers), len(producers))
	}
	if read.Producers[0].Param != consumers[0] {
		t.Fatalf("read.Producers[0] = %+v, want %+v", read.Producers[0].Param, consumers[0])
	}
	if read.Consumers[0].Param != producers[0] || read.Consumers[1].Param != producers[1] {
		t.Fatalf("read.Consumers = %+v, want %+v", read.Consumers, producers)
	}
}

func TestFromChunkRejectsZeroMsgSize(t *testing.T) {
	chunk := newChunk(t, Size(1))
	// Leave the entry zeroed (add_msgs=0, msg_size=0).
	if _, err := FromChunk(chunk, 1, 0, 0); err != ErrValue {
		t.Fatalf("FromChunk with zero msg_size: got %v, want ErrValue", err)
	}
}
