package cachelot

import (
	"io"
	"net"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"

	"github.com/caidongyun/cachelot/iobuf"
	"github.com/caidongyun/cachelot/log"
	"github.com/caidongyun/cachelot/recycle"
)

const defaultBufferSize = 4096

// conn owns one client socket: a recv buffer fed by reads, a send
// buffer drained by writes, and the two cursors that keep them from
// ever needing a copy into a third intermediate buffer.
type conn struct {
	nc           net.Conn
	recv         *iobuf.Buffer
	send         *iobuf.Buffer
	cache        Cache
	log          log.Logger
	maxValueSize int
}

func newConn(nc net.Conn, pool *recycle.Pool, c Cache, logger log.Logger, maxValueSize int) *conn {
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &conn{
		nc:           nc,
		recv:         iobuf.New(pool, defaultBufferSize),
		send:         iobuf.New(pool, defaultBufferSize),
		cache:        c,
		log:          logger.WithFields(log.Fields{"remote": nc.RemoteAddr().String()}),
		maxValueSize: maxValueSize,
	}
}

func (cn *conn) close() {
	cn.recv.Close()
	cn.send.Close()
	cn.nc.Close()
}

// serve runs the read/handle/write loop until the client disconnects,
// the protocol asks to close, or an unrecoverable error occurs. A panic
// inside command handling is recovered here so one bad connection never
// takes the listener down with it.
func (cn *conn) serve() {
	defer cn.close()
	defer func() {
		if r := recover(); r != nil {
			cn.log.Errorf("connection panic: %v", r)
		}
	}()

	for {
		w, err := cn.recv.BeginWrite(1)
		if err != nil {
			cn.log.Warnf("recv buffer growth failed: %v", err)
			return
		}
		n, rerr := cn.nc.Read(w)
		if n > 0 {
			cn.recv.ConfirmWrite(n)
		}
		if rerr != nil {
			if rerr != io.EOF {
				cn.log.Debugf("read error: %v", rerr)
			}
			return
		}

		verdict := HandleReceivedData(cn.recv, cn.send, cn.cache, cn.maxValueSize)
		if cn.send.Unread() > 0 {
			if werr := cn.flush(); werr != nil {
				cn.log.Debugf("write error: %v", werr)
				return
			}
		}
		if verdict == CloseImmediately {
			return
		}
	}
}

func (cn *conn) flush() error {
	for cn.send.Unread() > 0 {
		chunk := cn.send.BeginRead()
		n, err := cn.nc.Write(chunk)
		if n > 0 {
			cn.send.ConfirmRead(n)
		}
		if err != nil {
			return stackerr.Wrap(errors.Wrap(err, "conn write"))
		}
	}
	cn.send.Reset()
	cn.recv.Compact()
	return nil
}
