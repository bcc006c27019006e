// Package index defines the 32-bit slot index type shared by the channel
// queue protocol and the header's ABI tag, so both can agree on its
// encoding and byte size without channel depending on header or vice versa.
package index

// Index identifies a slot within a channel's queue, or carries one of the
// sentinel/flag values below.
type Index = uint32

const (
	// Invalid marks "no slot" — an empty ring (no publish yet) or the
	// terminator at the end of the link chain.
	Invalid Index = 0xFFFF_FFFF

	// ConsumedFlag is OR'd into the shared tail word by the consumer to
	// announce that it currently holds the slot tail points at.
	ConsumedFlag Index = 0x8000_0000

	// Mask isolates the slot-index bits of a tail word, stripping ConsumedFlag.
	Mask Index = 0x7FFF_FFFF
)

// Size is the byte width of Index, recorded in the header as the
// "atomic_size" ABI tag: peers whose Index width differs cannot safely
// share a region.
const Size = 4
