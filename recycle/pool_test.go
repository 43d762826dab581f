package recycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BytesLength(t *testing.T) {
	p := NewPool()
	for _, size := range []int{1, 7, 200, 4000, 1 << 20} {
		b := p.Bytes(size)
		assert.Len(t, b, size)
		p.Release(b)
	}
}

func TestPool_ReleaseThenBytesReusesChunk(t *testing.T) {
	p := NewPoolSizes([]int{1 << 10})
	b := p.Bytes(1 << 10)
	ptr := &b[0]
	p.Release(b)
	b2 := p.Bytes(1 << 10)
	require.Len(t, b2, 1<<10)
	// Same backing array handed back out: sync.Pool round-tripped the chunk.
	assert.Equal(t, ptr, &b2[0])
}

func TestPool_NewPoolSizesPanicsOnUnsorted(t *testing.T) {
	assert.Panics(t, func() {
		NewPoolSizes([]int{10, 5})
	})
}

func TestPool_MinMaxChunkSize(t *testing.T) {
	p := NewPoolSizes([]int{8, 16, 32})
	assert.Equal(t, 8, p.MinChunkSize())
	assert.Equal(t, 32, p.MaxChunkSize())
}
