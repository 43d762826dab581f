package iobuf

import (
	"github.com/pkg/errors"

	"github.com/caidongyun/cachelot/recycle"
)

// MinGrow is the smallest amount EnsureCapacity will grow a Buffer by,
// even when the immediate request is smaller, so a chatty caller asking
// for a few bytes at a time does not force a chunk swap on every call.
const MinGrow = 500

// MaxCapacity is the hard ceiling EnsureCapacity will grow a Buffer to.
// It exists to bound how much one misbehaving or malicious connection
// can make a Buffer hold before the protocol layer gives up on it.
const MaxCapacity = 30 << 20

// ErrTooLarge is returned by EnsureCapacity when satisfying the request
// would exceed MaxCapacity.
var ErrTooLarge = errors.New("iobuf: requested capacity exceeds MaxCapacity")

// Buffer is a growable byte buffer with independent read and write
// cursors. Bytes in [0, readPos) have been consumed and are dead space
// until Compact or Reset reclaims them. Bytes in [readPos, writePos) are
// buffered and unread. Bytes in [writePos, len(buf)) are free room for
// the next write.
type Buffer struct {
	pool *recycle.Pool
	buf  []byte

	readPos  int
	writePos int
}

// New returns an empty Buffer whose initial chunk is sized to hold at
// least initialCapacity bytes, sourced from pool.
func New(pool *recycle.Pool, initialCapacity int) *Buffer {
	if initialCapacity < MinGrow {
		initialCapacity = MinGrow
	}
	return &Buffer{
		pool: pool,
		buf:  pool.Bytes(initialCapacity),
	}
}

// Close returns the Buffer's backing array to its pool. The Buffer must
// not be used afterward.
func (b *Buffer) Close() {
	if b.buf != nil {
		b.pool.Release(b.buf)
		b.buf = nil
	}
}

// Capacity is the total size of the backing array.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Size is the high-water mark of bytes written since the last Reset or
// Compact, read or not.
func (b *Buffer) Size() int { return b.writePos }

// Unread is the number of bytes available to read right now.
func (b *Buffer) Unread() int { return b.writePos - b.readPos }

// Available is the free room left to write into without growing.
func (b *Buffer) Available() int { return len(b.buf) - b.writePos }

// BeginRead returns the unread region without consuming it. The
// returned Slice is only valid until the next mutating call on b.
func (b *Buffer) BeginRead() Slice {
	return Slice(b.buf[b.readPos:b.writePos])
}

// ConfirmRead advances the read cursor by n, marking that many bytes of
// the previously returned BeginRead/TryReadUntil slice as consumed.
func (b *Buffer) ConfirmRead(n int) {
	if n < 0 || n > b.Unread() {
		panic("iobuf: ConfirmRead past the write cursor")
	}
	b.readPos += n
}

// ReadAll returns the whole unread region and consumes it in one step.
func (b *Buffer) ReadAll() Slice {
	s := b.BeginRead()
	b.ConfirmRead(len(s))
	return s
}

// TryReadUntil looks for delim in the unread region. If found, it
// returns the slice up to and including delim without consuming it, so
// the caller decides how much to ConfirmRead (typically len(line)).
func (b *Buffer) TryReadUntil(delim byte) (line Slice, ok bool) {
	unread := b.BeginRead()
	idx := unread.Search(delim)
	if idx < 0 {
		return nil, false
	}
	return unread[:idx+1], true
}

// BeginWrite ensures at least atLeast bytes of free room and returns
// the whole free region (which may be larger than atLeast) for the
// caller to fill before calling ConfirmWrite.
func (b *Buffer) BeginWrite(atLeast int) (Slice, error) {
	if err := b.EnsureCapacity(atLeast); err != nil {
		return nil, err
	}
	return Slice(b.buf[b.writePos:]), nil
}

// ConfirmWrite advances the write cursor by n, marking that many bytes
// written into the BeginWrite region as valid, readable data.
func (b *Buffer) ConfirmWrite(n int) {
	if n < 0 || b.writePos+n > len(b.buf) {
		panic("iobuf: ConfirmWrite past capacity")
	}
	b.writePos += n
}

// ReadSavepoint captures the current read cursor so a parser that
// discovers it does not have a whole command yet can roll back to it.
func (b *Buffer) ReadSavepoint() int { return b.readPos }

// RollbackRead restores the read cursor to a value from ReadSavepoint.
func (b *Buffer) RollbackRead(savepoint int) { b.readPos = savepoint }

// WriteSavepoint captures the current write cursor.
func (b *Buffer) WriteSavepoint() int { return b.writePos }

// RollbackWrite restores the write cursor to a value from
// WriteSavepoint, discarding anything written after it.
func (b *Buffer) RollbackWrite(savepoint int) { b.writePos = savepoint }

// Reset discards all buffered content, reusing the same backing array.
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
}

// Compact shifts the unread region down to offset 0, reclaiming the
// dead space before the read cursor without allocating.
func (b *Buffer) Compact() {
	if b.readPos == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.readPos:b.writePos])
	b.writePos = n
	b.readPos = 0
}

// EnsureCapacity guarantees Available() >= atLeast afterward, first by
// compacting dead space for free, then by growing the backing array
// through the pool if compaction alone is not enough. Growth doubles
// capacity (bounded by MinGrow and MaxCapacity) so repeated small writes
// do not each trigger a new chunk.
func (b *Buffer) EnsureCapacity(atLeast int) error {
	if b.Available() >= atLeast {
		return nil
	}
	if b.readPos > 0 && b.readPos+b.Available() >= atLeast {
		b.Compact()
		return nil
	}

	need := atLeast - b.Available()
	grow := b.Capacity()
	if grow < MinGrow {
		grow = MinGrow
	}
	if grow < need {
		grow = need
	}
	newCap := b.Capacity() + grow
	if newCap > MaxCapacity {
		newCap = MaxCapacity
	}
	if newCap < atLeast+b.Unread() {
		return errors.Wrapf(ErrTooLarge, "need %d more bytes, capacity capped at %d", atLeast, MaxCapacity)
	}

	newBuf := b.pool.Bytes(newCap)
	n := copy(newBuf, b.buf[b.readPos:b.writePos])
	b.pool.Release(b.buf)
	b.buf = newBuf
	b.writePos = n
	b.readPos = 0
	return nil
}
