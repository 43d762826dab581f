package cachelot

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caidongyun/cachelot/cache"
	"github.com/caidongyun/cachelot/iobuf"
	"github.com/caidongyun/cachelot/recycle"
)

func newTestRig(t *testing.T) (recv, send *iobuf.Buffer, c Cache) {
	t.Helper()
	pool := recycle.NewPool()
	recv = iobuf.New(pool, 1024)
	send = iobuf.New(pool, 1024)
	cc, err := cache.New(cache.Config{ArenaSize: 1 << 20, StripeCount: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		recv.Close()
		send.Close()
		cc.Close()
	})
	return recv, send, cc
}

func feed(b *iobuf.Buffer, s string) {
	w, err := b.BeginWrite(len(s))
	if err != nil {
		panic(err)
	}
	n := copy(w, s)
	b.ConfirmWrite(n)
}

func drain(b *iobuf.Buffer) string {
	return b.ReadAll().String()
}

func TestHandleReceivedData_SetThenGet(t *testing.T) {
	recv, send, c := newTestRig(t)

	feed(recv, "set foo 0 0 3\r\nbar\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokStored, drain(send))

	feed(recv, "get foo\r\n")
	v = HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, "VALUE foo 0 3\r\nbar\r\nEND\r\n", drain(send))
}

func TestHandleReceivedData_IncompleteStorageWaitsForMoreData(t *testing.T) {
	recv, send, c := newTestRig(t)

	feed(recv, "set foo 0 0 10\r\nbar") // only 3 of 10 promised bytes arrived
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, ReadMore, v)
	assert.Equal(t, 0, send.Unread())
	assert.Equal(t, "set foo 0 0 10\r\nbar", recv.BeginRead().String(), "partial command must survive untouched")

	feed(recv, "-rest") // "bar" + "-rest" == 8 bytes, still short of 10
	v = HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, ReadMore, v)

	feed(recv, "xy\r\n") // now 10 bytes total: "bar-restxy"
	v = HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokStored, drain(send))

	feed(recv, "get foo\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, "VALUE foo 0 10\r\nbar-restxy\r\nEND\r\n", drain(send))
}

func TestHandleReceivedData_CasMismatch(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "set k 0 0 1\r\nv\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	drain(send)

	feed(recv, "cas k 0 0 1 999999\r\nw\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokExists, drain(send))
}

func TestHandleReceivedData_UnknownCommand(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "frobnicate\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokError, drain(send))
}

func TestHandleReceivedData_ArithmeticOnMissingKey(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "incr missing 1\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokNotFound, drain(send))
}

func TestHandleReceivedData_Quit(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "quit\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, CloseImmediately, v)
}

func TestHandleReceivedData_Noreply(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "set k 0 0 1 noreply\r\nv\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, ReadMore, v, "noreply must suppress the reply entirely")
	assert.Equal(t, 0, send.Unread())
}

func TestHandleReceivedData_PipelinedCommands(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "set a 0 0 1\r\n1\r\nset b 0 0 1\r\n2\r\nget a\r\nget b\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokStored+tokStored+"VALUE a 0 1\r\n1\r\nEND\r\nVALUE b 0 1\r\n2\r\nEND\r\n", drain(send))
}

func TestHandleReceivedData_ValueTooLargeForArena(t *testing.T) {
	pool := recycle.NewPool()
	recv := iobuf.New(pool, 4096)
	send := iobuf.New(pool, 4096)
	c, err := cache.New(cache.Config{ArenaSize: 2048, StripeCount: 1})
	require.NoError(t, err)
	t.Cleanup(func() { recv.Close(); send.Close(); c.Close() })

	value := strings.Repeat("x", 1<<20)
	feed(recv, "set k 0 0 "+strconv.Itoa(len(value))+"\r\n"+value+"\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokClientError+"object too large for cache"+crlf, drain(send))
}

func TestHandleReceivedData_DeclaredValueExceedsMaxSize(t *testing.T) {
	recv, send, c := newTestRig(t)

	feed(recv, "set k 0 0 100\r\n")
	v := HandleReceivedData(recv, send, c, 10)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokClientError+"object too large for cache"+crlf, drain(send))
	assert.Equal(t, 0, recv.Unread(), "the whole line plus whatever data had already arrived is discarded")
}

func TestHandleReceivedData_AddReplaceDelete(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "add k 0 0 1\r\nv\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, tokStored, drain(send))

	feed(recv, "add k 0 0 1\r\nw\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, tokNotStored, drain(send))

	feed(recv, "replace k 0 0 1\r\nz\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, tokStored, drain(send))

	feed(recv, "delete k\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, tokDeleted, drain(send))

	feed(recv, "delete k\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, tokNotFound, drain(send))
}

func TestHandleReceivedData_TrailingGarbageIsClientError(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"set", "set foo 0 0 5 garbage\r\nhello\r\n"},
		{"delete", "delete foo garbage\r\n"},
		{"touch", "touch foo 0 garbage\r\n"},
		{"incr", "incr foo 1 garbage\r\n"},
		{"flush_all", "flush_all garbage\r\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recv, send, c := newTestRig(t)
			feed(recv, tc.line)
			v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
			assert.Equal(t, SendReplyAndRead, v)
			assert.Equal(t, tokClientError+"extra arguments where CRLF was expected"+crlf, drain(send))
		})
	}
}

func TestHandleReceivedData_FlushAllWithDelayIsNotImplemented(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "flush_all 10\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v)
	assert.Equal(t, tokServerError, drain(send)[:len(tokServerError)])
}

func TestHandleReceivedData_GetKeyLiterallyNamedNoreply(t *testing.T) {
	recv, send, c := newTestRig(t)
	feed(recv, "set noreply 0 0 1\r\nv\r\n")
	HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	drain(send)

	feed(recv, "get noreply\r\n")
	v := HandleReceivedData(recv, send, c, DefaultMaxValueSize)
	assert.Equal(t, SendReplyAndRead, v, "get does not recognize a trailing noreply, so the reply is not suppressed")
	assert.Equal(t, "VALUE noreply 0 1\r\nv\r\nEND\r\n", drain(send))
}
