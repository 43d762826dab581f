package iobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caidongyun/cachelot/recycle"
)

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	b := New(recycle.NewPool(), 64)
	t.Cleanup(b.Close)
	return b
}

func TestBuffer_WriteThenReadRoundtrip(t *testing.T) {
	b := newTestBuffer(t)
	w, err := b.BeginWrite(5)
	require.NoError(t, err)
	copy(w, []byte("hello"))
	b.ConfirmWrite(5)

	assert.Equal(t, 5, b.Unread())
	got := b.ReadAll()
	assert.Equal(t, "hello", got.String())
	assert.Equal(t, 0, b.Unread())
}

func TestBuffer_TryReadUntilFindsDelimiter(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(20)
	n := copy(w, []byte("get foo\r\nextra"))
	b.ConfirmWrite(n)

	line, ok := b.TryReadUntil('\n')
	require.True(t, ok)
	assert.Equal(t, "get foo\r\n", line.String())
	b.ConfirmRead(len(line))
	assert.Equal(t, "extra", b.BeginRead().String())
}

func TestBuffer_TryReadUntilMissingDelimiterDoesNotConsume(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(10)
	n := copy(w, []byte("no newline here"))
	b.ConfirmWrite(n)

	_, ok := b.TryReadUntil('\n')
	assert.False(t, ok)
	assert.Equal(t, n, b.Unread())
}

func TestBuffer_SavepointRollbackRead(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(10)
	n := copy(w, []byte("0123456789"))
	b.ConfirmWrite(n)

	sp := b.ReadSavepoint()
	b.ConfirmRead(4)
	assert.Equal(t, 6, b.Unread())
	b.RollbackRead(sp)
	assert.Equal(t, 10, b.Unread())
}

func TestBuffer_SavepointRollbackWrite(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(10)
	copy(w, []byte("0123456789"))
	sp := b.WriteSavepoint()
	b.ConfirmWrite(10)
	assert.Equal(t, 10, b.Unread())
	b.RollbackWrite(sp)
	assert.Equal(t, 0, b.Unread())
}

func TestBuffer_CompactReclaimsDeadSpace(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(10)
	n := copy(w, []byte("0123456789"))
	b.ConfirmWrite(n)
	b.ConfirmRead(8)

	availBefore := b.Available()
	b.Compact()
	assert.Greater(t, b.Available(), availBefore)
	assert.Equal(t, "89", b.BeginRead().String())
}

func TestBuffer_EnsureCapacityGrowsPastPoolDefault(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(10)
	n := copy(w, []byte("0123456789"))
	b.ConfirmWrite(n)
	b.ConfirmRead(10)

	err := b.EnsureCapacity(1 << 16)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Capacity(), 1<<16)
}

func TestBuffer_EnsureCapacityRejectsOverMax(t *testing.T) {
	b := newTestBuffer(t)
	err := b.EnsureCapacity(MaxCapacity + 1)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestBuffer_ResetClearsCursorsKeepsBacking(t *testing.T) {
	b := newTestBuffer(t)
	w, _ := b.BeginWrite(10)
	n := copy(w, []byte("0123456789"))
	b.ConfirmWrite(n)
	capacityBefore := b.Capacity()

	b.Reset()
	assert.Equal(t, 0, b.Unread())
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, capacityBefore, b.Capacity())
}
