package memalloc

import "encoding/binary"

// headerSize is the fixed metadata every block carries, regardless of
// whether it is free or in use: payload size, a back-pointer to the
// previous block's header, the used flag, and two link words reused for
// either free-list or LRU-list membership.
const headerSize = 20

// noOffset marks the absence of a link: "no previous free block", "no
// next block in this class", "arena has no blocks in LRU yet".
const noOffset = ^uint32(0)

// block is a cursor into an arena's backing array, pointing at one
// block's header. It carries no data of its own, so copying it is free.
type block struct {
	data []byte
	off  uint32
}

func (b block) size() uint32        { return binary.LittleEndian.Uint32(b.data[b.off:]) }
func (b block) setSize(v uint32)    { binary.LittleEndian.PutUint32(b.data[b.off:], v) }
func (b block) prevOff() uint32     { return binary.LittleEndian.Uint32(b.data[b.off+4:]) }
func (b block) setPrevOff(v uint32) { binary.LittleEndian.PutUint32(b.data[b.off+4:], v) }

func (b block) used() bool {
	return binary.LittleEndian.Uint32(b.data[b.off+8:]) != 0
}
func (b block) setUsed(v bool) {
	var x uint32
	if v {
		x = 1
	}
	binary.LittleEndian.PutUint32(b.data[b.off+8:], x)
}

// link1/link2 are dual-purpose: free-list prev/next while the block is
// free, LRU prev/next while the block is in use. A block is never both.
func (b block) link1() uint32     { return binary.LittleEndian.Uint32(b.data[b.off+12:]) }
func (b block) setLink1(v uint32) { binary.LittleEndian.PutUint32(b.data[b.off+12:], v) }
func (b block) link2() uint32     { return binary.LittleEndian.Uint32(b.data[b.off+16:]) }
func (b block) setLink2(v uint32) { binary.LittleEndian.PutUint32(b.data[b.off+16:], v) }

// sizeWithMeta is the total span of this block in the arena, header
// included: what you add to b.off to reach the next block's header.
func (b block) sizeWithMeta() uint32 { return headerSize + b.size() }

func (b block) nextOff() uint32 { return b.off + b.sizeWithMeta() }

func (b block) next() block { return block{b.data, b.nextOff()} }
func (b block) prev() block { return block{b.data, b.prevOff()} }

func (b block) hasPrev() bool { return b.prevOff() != noOffset }

func (b block) payload() []byte {
	start := b.off + headerSize
	end := start + b.size()
	return b.data[start:end:end]
}

// isSentinel reports whether b is one of the arena's two zero-payload
// bookend blocks. Sentinels are always marked used so neither the free
// list nor the LRU ever tries to claim them.
func (b block) isSentinel() bool { return b.size() == 0 }
