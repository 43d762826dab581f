// Package recycle contains utilities for recyclable, GC-friendly memory reuse.
//
// Pool hands out size-classed []byte chunks backed by a sync.Pool per class,
// so repeatedly growing an iobuf.Buffer or carving out a memalloc.Arena does
// not churn the garbage collector on every resize: the old chunk is returned
// to its class and the next caller asking for a similar size gets it back.
package recycle

import (
	"fmt"
	"sync"
)

const minDefChunkSize = 1 << 7
const maxDefChunkSize = 1 << 26 // 64 MiB: large enough to host a default memalloc arena.

// DefaultChunkSizes is the size ladder used by NewPool.
var DefaultChunkSizes = func() (sz []int) {
	for chSz := minDefChunkSize; chSz <= maxDefChunkSize; chSz *= 2 {
		sz = append(sz, chSz)
	}
	return
}()

// Pool hands out []byte chunks from a ladder of sync.Pool instances, one per
// size class. Sizes above the largest class are allocated directly and left
// for the GC to reclaim; they are not worth pooling.
type Pool struct {
	chunkSizes []int
	chunkPools []sync.Pool
}

// NewPool returns a Pool using DefaultChunkSizes.
func NewPool() *Pool {
	return NewPoolSizes(DefaultChunkSizes)
}

// NewPoolSizes creates a new pool producing chunks with sizes described by
// chunkSizes. chunkSizes must be sorted ascending with no duplicates.
func NewPoolSizes(chunkSizes []int) *Pool {
	if chunkSizes == nil {
		chunkSizes = DefaultChunkSizes[:]
	}
	for i := 0; i < len(chunkSizes); i++ {
		size := chunkSizes[i]
		if size <= 0 {
			panic("non positive size")
		}
		if i != 0 && chunkSizes[i-1] >= size {
			panic("sizes unsorted or have duplicates")
		}
	}
	chunkPools := make([]sync.Pool, len(chunkSizes))
	for i := range chunkSizes {
		size := chunkSizes[i] // Move into range declaration cause using same size.
		chunkPools[i].New = func() interface{} {
			return make([]byte, size)
		}
	}
	return &Pool{
		chunkSizes: chunkSizes,
		chunkPools: chunkPools,
	}
}

// Bytes returns a slice of length size, sourced from the smallest size class
// that fits size. The returned slice must eventually be returned with
// Release, or it leaks back to the GC instead of the pool (harmless, just
// defeats the point of pooling).
func (p *Pool) Bytes(size int) []byte {
	return p.chunk(size)
}

// Release returns a slice obtained from Bytes back to its size class. b's
// capacity, not its length, selects the class, mirroring what chunk handed
// out.
func (p *Pool) Release(b []byte) {
	p.recycleChunk(b)
}

// chunk returns a chunk whose len equals size.
func (p *Pool) chunk(size int) []byte {
	if p.isGCChunkSize(size) {
		// GC will handle such case better.
		return make([]byte, size)
	}
	// O(n) but len(chunkSizes) should be <= 30 normally.
	for i := range p.chunkSizes {
		if size <= p.chunkSizes[i] {
			return p.chunkPools[i].Get().([]byte)[0:size]
		}
	}
	// Larger than the largest class: not pooled.
	return make([]byte, size)
}

func (p *Pool) recycleChunk(chunk []byte) {
	size := cap(chunk)
	if p.isGCChunkSize(size) {
		// Garbage, that should be collected by GC.
		return
	}
	// O(n) but len(chunkSizes) should be <= 30 normally.
	for i := range p.chunkSizes {
		if size == p.chunkSizes[i] {
			p.chunkPools[i].Put(chunk[:size])
			return
		}
	}
	// Not a size this pool produced (e.g. larger than MaxChunkSize); let the
	// GC reclaim it.
}

func (p *Pool) MinChunkSize() int {
	return p.chunkSizes[0]
}

func (p *Pool) MaxChunkSize() int {
	return p.chunkSizes[len(p.chunkSizes)-1]
}

func (p *Pool) isGCChunkSize(size int) bool {
	return size <= p.MinChunkSize()/2
}

func (p *Pool) String() string {
	return fmt.Sprintf("Pool{classes: %d, min: %d, max: %d}", len(p.chunkSizes), p.MinChunkSize(), p.MaxChunkSize())
}
