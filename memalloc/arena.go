package memalloc

import (
	"fmt"
	"unsafe"

	"github.com/caidongyun/cachelot/internal/tag"
	"github.com/caidongyun/cachelot/recycle"
)

const (
	alignment    = 8
	minBlockSize = 32
	minArenaSize = 3*headerSize + minBlockSize
)

// Arena is a fixed-capacity pool of blocks carved out of one backing
// []byte obtained from a recycle.Pool. It never grows: once its capacity
// is exhausted, Alloc fails and AllocOrEvict starts reclaiming the least
// recently touched blocks instead.
//
// An Arena provides no internal locking; callers must serialize access
// themselves (cache.stripe does this with its own mutex).
type Arena struct {
	data []byte
	pool *recycle.Pool

	free     *freeTable
	rightOff uint32
	capacity uint32

	lruHead uint32
	lruTail uint32

	stats struct {
		used      int
		usedBytes uint64
	}
}

// New carves a new Arena out of size bytes sourced from pool.
func New(pool *recycle.Pool, size int) (*Arena, error) {
	if size < minArenaSize {
		return nil, fmt.Errorf("memalloc: arena size %d below minimum %d", size, minArenaSize)
	}
	a := &Arena{
		data:    pool.Bytes(size),
		pool:    pool,
		free:    newFreeTable(),
		lruHead: noOffset,
		lruTail: noOffset,
	}
	a.initSentinels()
	return a, nil
}

func (a *Arena) initSentinels() {
	left := block{a.data, 0}
	left.setSize(0)
	left.setUsed(true)
	left.setPrevOff(noOffset)
	left.setLink1(noOffset)
	left.setLink2(noOffset)

	a.rightOff = uint32(len(a.data)) - headerSize
	right := block{a.data, a.rightOff}
	right.setSize(0)
	right.setUsed(true)
	right.setLink1(noOffset)
	right.setLink2(noOffset)

	first := block{a.data, headerSize}
	payloadSize := a.rightOff - 2*headerSize
	first.setSize(payloadSize)
	first.setUsed(false)
	first.setPrevOff(0)

	right.setPrevOff(first.off)

	a.capacity = payloadSize
	a.freePush(first)
}

// Close returns the arena's backing array to the pool it came from. The
// Arena must not be used afterward.
func (a *Arena) Close() {
	if a.data != nil {
		a.pool.Release(a.data)
		a.data = nil
	}
}

func alignUp(size int) uint32 {
	v := uint32(size)
	if v < minBlockSize {
		v = minBlockSize
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// Alloc returns size bytes from the arena, or ErrMemoryExhausted if no
// free block is big enough, or ErrAllocTooLarge if size could never be
// satisfied regardless of what is freed.
func (a *Arena) Alloc(size int) ([]byte, error) {
	want := alignUp(size)
	if want > a.capacity {
		return nil, ErrAllocTooLarge
	}
	b, ok := a.findFit(want)
	if !ok {
		return nil, ErrMemoryExhausted
	}
	p := a.allocFromBlock(b, want)
	a.checkInvariants()
	return p[:size], nil
}

// AllocOrEvict behaves like Alloc, but when the arena has no free block
// big enough it evicts the least recently touched used block (calling
// onEvict with that block's payload so the caller can drop its own index
// entry first) and tries again, repeating until either a fit is found or
// the whole arena is empty and still too small.
func (a *Arena) AllocOrEvict(size int, onEvict func(payload []byte)) ([]byte, error) {
	want := alignUp(size)
	if want > a.capacity {
		return nil, ErrAllocTooLarge
	}
	for {
		if b, ok := a.findFit(want); ok {
			p := a.allocFromBlock(b, want)
			a.checkInvariants()
			return p[:size], nil
		}
		victimOff := a.lruTail
		if victimOff == noOffset {
			return nil, ErrMemoryExhausted
		}
		victim := block{a.data, victimOff}
		if onEvict != nil {
			onEvict(victim.payload())
		}
		a.freeBlock(victim)
	}
}

// Free releases payload, coalescing it with adjacent free blocks.
func (a *Arena) Free(payload []byte) {
	a.freeBlock(a.blockFor(payload))
}

// Touch moves payload's block to the head of the LRU, marking it as
// recently used so eviction reaches it last.
func (a *Arena) Touch(payload []byte) {
	a.lruTouch(a.blockFor(payload))
}

// ReallocInPlace tries to resize payload's block without moving it.
// Shrinking always succeeds. Growing only succeeds when the immediately
// following block is free and, combined with this one, large enough;
// otherwise it returns ok == false and the caller must Alloc a new block,
// copy, and Free the old one.
func (a *Arena) ReallocInPlace(payload []byte, newSize int) (resized []byte, ok bool) {
	b := a.blockFor(payload)
	want := alignUp(newSize)
	cur := b.size()
	if want == cur {
		return b.payload(), true
	}
	if want < cur {
		a.shrinkInPlace(b, want)
		a.checkInvariants()
		return b.payload(), true
	}

	next := b.next()
	if next.isSentinel() || next.used() {
		return nil, false
	}
	combined := cur + next.sizeWithMeta()
	if combined < want {
		return nil, false
	}
	a.freeRemove(next)
	b.setSize(combined)
	b.next().setPrevOff(b.off)
	a.stats.usedBytes += uint64(combined - cur)
	a.shrinkInPlace(b, want)
	a.lruTouch(b)
	a.checkInvariants()
	return b.payload(), true
}

// Stats is a point-in-time snapshot of arena occupancy.
type Stats struct {
	Capacity   int
	UsedBytes  uint64
	UsedBlocks int
	FreeBlocks int
}

func (a *Arena) Stats() Stats {
	s := Stats{
		Capacity:   int(a.capacity),
		UsedBytes:  a.stats.usedBytes,
		UsedBlocks: a.stats.used,
	}
	for off := uint32(headerSize); off != a.rightOff; {
		b := block{a.data, off}
		if !b.used() {
			s.FreeBlocks++
		}
		off = b.nextOff()
	}
	return s
}

func (a *Arena) blockFor(payload []byte) block {
	off := uint32(uintptr(unsafe.Pointer(unsafe.SliceData(payload)))-uintptr(unsafe.Pointer(&a.data[0]))) - headerSize
	return block{a.data, off}
}

// findFit looks for a free block of at least size, preferring an exact
// scan of size's own class (which can hold blocks smaller than size,
// since a class spans a range) before falling back to the next non-empty
// higher class, whose blocks are guaranteed big enough by construction.
func (a *Arena) findFit(size uint32) (block, bool) {
	c := classFor(size)
	for off := a.free.heads[c]; off != noOffset; {
		b := block{a.data, off}
		if b.size() >= size {
			a.freeRemove(b)
			return b, true
		}
		off = b.link2()
	}
	higher := a.free.lowestNonEmptyFrom(c + 1)
	if higher == -1 {
		return block{}, false
	}
	b := block{a.data, a.free.heads[higher]}
	a.freeRemove(b)
	return b, true
}

// allocFromBlock marks b used, splitting off any leftover big enough to
// stand on its own as a new free block, and returns b's payload.
func (a *Arena) allocFromBlock(b block, size uint32) []byte {
	remaining := b.size() - size
	if remaining >= headerSize+minBlockSize {
		b.setSize(size)
		tail := block{a.data, b.nextOff()}
		tail.setSize(remaining - headerSize)
		tail.setUsed(false)
		tail.setPrevOff(b.off)
		tail.next().setPrevOff(tail.off)
		a.freePush(tail)
	}
	b.setUsed(true)
	a.lruPushHead(b)
	a.stats.used++
	a.stats.usedBytes += uint64(b.size())
	return b.payload()
}

// shrinkInPlace reduces b's payload to want, splitting the freed tail
// off as its own free block (coalesced forward if possible) when the
// leftover is worth the header overhead; otherwise the slack is kept as
// internal fragmentation.
func (a *Arena) shrinkInPlace(b block, want uint32) {
	cur := b.size()
	if want >= cur {
		return
	}
	remaining := cur - want
	if remaining < headerSize+minBlockSize {
		return
	}
	a.stats.usedBytes -= uint64(cur - want)
	b.setSize(want)
	tail := block{a.data, b.nextOff()}
	tail.setSize(remaining - headerSize)
	tail.setUsed(false)
	tail.setPrevOff(b.off)
	tail.next().setPrevOff(tail.off)

	if after := tail.next(); !after.isSentinel() && !after.used() {
		a.freeRemove(after)
		tail.setSize(tail.size() + after.sizeWithMeta())
		tail.next().setPrevOff(tail.off)
	}
	a.freePush(tail)
}

// freeBlock unlinks b from the LRU, marks it free, coalesces it with any
// free neighbors, and files the (possibly now larger) block in the free
// table.
func (a *Arena) freeBlock(b block) {
	a.lruRemove(b)
	a.stats.used--
	a.stats.usedBytes -= uint64(b.size())
	b.setUsed(false)

	if next := b.next(); !next.isSentinel() && !next.used() {
		a.freeRemove(next)
		b.setSize(b.size() + next.sizeWithMeta())
		b.next().setPrevOff(b.off)
	}
	if b.hasPrev() {
		if prev := b.prev(); !prev.isSentinel() && !prev.used() {
			a.freeRemove(prev)
			prev.setSize(prev.size() + b.sizeWithMeta())
			prev.next().setPrevOff(prev.off)
			b = prev
		}
	}
	a.freePush(b)
	a.checkInvariants()
}

func (a *Arena) freePush(b block) {
	c := classFor(b.size())
	head := a.free.heads[c]
	b.setLink1(noOffset)
	b.setLink2(head)
	if head != noOffset {
		block{a.data, head}.setLink1(b.off)
	}
	a.free.heads[c] = b.off
	a.free.setBit(c)
}

func (a *Arena) freeRemove(b block) {
	c := classFor(b.size())
	prev := b.link1()
	next := b.link2()
	if prev != noOffset {
		block{a.data, prev}.setLink2(next)
	} else {
		a.free.heads[c] = next
		if next == noOffset {
			a.free.clearBit(c)
		}
	}
	if next != noOffset {
		block{a.data, next}.setLink1(prev)
	}
}

func (a *Arena) lruPushHead(b block) {
	b.setLink1(noOffset)
	b.setLink2(a.lruHead)
	if a.lruHead != noOffset {
		block{a.data, a.lruHead}.setLink1(b.off)
	}
	a.lruHead = b.off
	if a.lruTail == noOffset {
		a.lruTail = b.off
	}
}

func (a *Arena) lruRemove(b block) {
	prev := b.link1()
	next := b.link2()
	if prev != noOffset {
		block{a.data, prev}.setLink2(next)
	} else if a.lruHead == b.off {
		a.lruHead = next
	}
	if next != noOffset {
		block{a.data, next}.setLink1(prev)
	} else if a.lruTail == b.off {
		a.lruTail = prev
	}
}

func (a *Arena) lruTouch(b block) {
	a.lruRemove(b)
	a.lruPushHead(b)
}

// checkInvariants walks the whole arena and panics on the first
// inconsistency it finds. It is compiled into every build but the branch
// is a compile-time constant, so it costs nothing unless built with
// -tags debug.
func (a *Arena) checkInvariants() {
	if !tag.Debug {
		return
	}
	off := uint32(headerSize)
	var prev uint32 = 0
	for off != a.rightOff {
		b := block{a.data, off}
		if b.prevOff() != prev {
			panic(fmt.Sprintf("memalloc: block at %d has prevOff %d, want %d", off, b.prevOff(), prev))
		}
		if !b.used() {
			c := classFor(b.size())
			if !a.free.hasBit(c) {
				panic(fmt.Sprintf("memalloc: free block at %d in class %d but bitmap clear", off, c))
			}
		}
		prev = off
		off = b.nextOff()
	}
	if off != a.rightOff {
		panic("memalloc: block walk overshot right sentinel")
	}
}
