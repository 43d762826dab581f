package cachelot

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/caidongyun/cachelot/cache"
	"github.com/caidongyun/cachelot/iobuf"
)

// clientErrorReply and serverErrorReply build wire replies through the
// Kind-tagged ProtocolError constructors, so a malformed request and an
// internal failure are distinguishable in anything that later inspects
// these (logging, metrics), not just in the text sent back.
func clientErrorReply(format string, args ...interface{}) string {
	return tokClientError + newClientError(format, args...).Error() + crlf
}

func serverErrorReply(cause error, context string) string {
	return tokServerError + newServerError(cause, context).Error() + crlf
}

// Verdict tells the connection loop what to do after HandleReceivedData
// has chewed through as much of recv as it could.
type Verdict int

const (
	// ReadMore means nothing was written to send (no complete command
	// was pending, or every command processed was noreply); go back to
	// the socket for more bytes.
	ReadMore Verdict = iota
	// SendReplyAndRead means send holds one or more replies to flush;
	// after flushing, go back to the socket for more bytes.
	SendReplyAndRead
	// CloseImmediately means a quit was processed, or a reply could
	// not be produced at all; flush send if non-empty, then close.
	CloseImmediately
)

const thirtyDaysSeconds = 60 * 60 * 24 * 30

// MaxKeySize is the largest key memcached's ASCII protocol allows.
const MaxKeySize = 250

// DefaultMaxValueSize bounds a storage command's declared value length
// when no explicit limit is configured.
const DefaultMaxValueSize = 1 << 20

func isInvalidFieldChar(b byte) bool {
	return b <= ' ' || b == 127
}

// checkKey enforces the key contract: non-empty, at most MaxKeySize
// bytes, no control characters or spaces.
func checkKey(key []byte) error {
	if len(key) == 0 {
		return errors.New("empty key")
	}
	if len(key) > MaxKeySize {
		return errors.New("key too long")
	}
	for _, b := range key {
		if isInvalidFieldChar(b) {
			return errors.New("key contains invalid characters")
		}
	}
	return nil
}

// HandleReceivedData drains as many complete pipelined commands as recv
// currently holds, appending each one's reply to send. A command whose
// data block has not fully arrived yet is left untouched: the read
// cursor is rolled back to where that command started, so the next call
// (after more bytes land in recv) starts from the same command line
// rather than skipping or re-parsing a partial one.
func HandleReceivedData(recv, send *iobuf.Buffer, c Cache, maxValueSize int) Verdict {
	wroteReply := false
	for {
		sp := recv.ReadSavepoint()
		line, ok := recv.TryReadUntil('\n')
		if !ok {
			recv.RollbackRead(sp)
			break
		}
		lineLen := len(line)
		fields := bytes.Fields(trimCRLF(line))
		if len(fields) == 0 {
			recv.ConfirmRead(lineLen)
			continue
		}
		cmd := string(fields[0])

		dataLen, isStorage, badLine := storageDataLen(cmd, fields)
		if isStorage {
			if badLine {
				recv.ConfirmRead(lineLen)
				if err := writeReply(send, clientErrorReply("bad command line format")); err != nil {
					return CloseImmediately
				}
				wroteReply = true
				continue
			}
			if dataLen > maxValueSize {
				// The declared length alone exceeds the configured limit;
				// reject now instead of growing recv to chase a value we
				// will never store, and drop whatever of it already
				// arrived so a fresh command line resynchronizes the
				// stream rather than starting mid-value.
				recv.Reset()
				if err := writeReply(send, clientErrorReply("object too large for cache")); err != nil {
					return CloseImmediately
				}
				wroteReply = true
				break
			}
			if recv.Unread() < lineLen+dataLen+2 {
				recv.RollbackRead(sp)
				break
			}
		}

		recv.ConfirmRead(lineLen)

		var data []byte
		if isStorage {
			peek := recv.BeginRead()
			data = append([]byte(nil), peek[:dataLen]...)
			trailerOK := peek[dataLen] == '\r' && peek[dataLen+1] == '\n'
			recv.ConfirmRead(dataLen + 2)
			if !trailerOK {
				if err := writeReply(send, tokBadDataChunk); err != nil {
					return CloseImmediately
				}
				wroteReply = true
				continue
			}
		}

		noreply := false
		if supportsNoreply(cmd) && len(fields) > 0 && string(fields[len(fields)-1]) == "noreply" {
			noreply = true
			fields = fields[:len(fields)-1]
		}

		reply, closeConn := dispatch(cmd, fields, data, c)
		if !noreply && reply != "" {
			if err := writeReply(send, reply); err != nil {
				return CloseImmediately
			}
			wroteReply = true
		}
		if closeConn {
			return CloseImmediately
		}
	}
	if wroteReply {
		return SendReplyAndRead
	}
	return ReadMore
}

func trimCRLF(line iobuf.Slice) []byte {
	return bytes.TrimRight([]byte(line), "\r\n")
}

// storageDataLen reports, for the storage commands (set/add/replace/
// append/prepend/cas), the length of the data block that follows the
// command line. badLine is true if the command is a storage command
// but its bytes field is missing or not a number.
func storageDataLen(cmd string, fields [][]byte) (length int, isStorage bool, badLine bool) {
	var bytesIdx int
	switch cmd {
	case "set", "add", "replace", "append", "prepend":
		bytesIdx = 4
	case "cas":
		bytesIdx = 4
	default:
		return 0, false, false
	}
	if len(fields) <= bytesIdx {
		return 0, true, true
	}
	n, err := strconv.Atoi(string(fields[bytesIdx]))
	if err != nil || n < 0 {
		return 0, true, true
	}
	return n, true, false
}

// supportsNoreply reports whether cmd's wire grammar recognizes a
// trailing "noreply" token at all. get/gets treat every token after
// the command name as another key, and stats/version/quit take no
// arguments, so none of them get to swallow a trailing "noreply" the
// way the storage and mutation commands do.
func supportsNoreply(cmd string) bool {
	switch cmd {
	case "set", "add", "replace", "append", "prepend", "cas",
		"delete", "touch", "incr", "decr", "flush_all":
		return true
	default:
		return false
	}
}

func writeReply(send *iobuf.Buffer, s string) error {
	w, err := send.BeginWrite(len(s))
	if err != nil {
		return err
	}
	n := copy(w, s)
	send.ConfirmWrite(n)
	return nil
}

func dispatch(cmd string, fields [][]byte, data []byte, c Cache) (reply string, closeConn bool) {
	switch cmd {
	case "set", "add", "replace", "append", "prepend", "cas":
		return execStorage(cmd, fields, data, c), false
	case "get", "gets":
		return execRetrieve(cmd, fields, c), false
	case "delete":
		return execDelete(fields, c), false
	case "touch":
		return execTouch(fields, c), false
	case "incr", "decr":
		return execArithmetic(cmd, fields, c), false
	case "stats":
		if len(fields) > 1 {
			return serverErrorReply(errors.New("stats arguments not implemented"), "stats"), false
		}
		return execStats(c), false
	case "version":
		if len(fields) > 1 {
			return clientErrorReply("extra arguments where CRLF was expected"), false
		}
		return tokVersion + ServerVersion + crlf, false
	case "flush_all":
		if len(fields) > 1 {
			if len(fields) == 2 {
				if _, err := strconv.Atoi(string(fields[1])); err == nil {
					return serverErrorReply(errors.New("flush_all with a delay argument is not implemented"), "flush_all"), false
				}
			}
			return clientErrorReply("extra arguments where CRLF was expected"), false
		}
		c.FlushAll()
		return tokOK, false
	case "quit":
		return "", true
	default:
		return tokError, false
	}
}

// normalizeExptime applies memcached's exptime convention: 0 means
// never, a value within 30 days is relative to now, anything larger is
// already an absolute unix timestamp, and negative means "already
// expired".
func normalizeExptime(exptime int64) int64 {
	switch {
	case exptime == 0:
		return 0
	case exptime < 0:
		return 1
	case exptime <= thirtyDaysSeconds:
		return time.Now().Unix() + exptime
	default:
		return exptime
	}
}

func execStorage(cmd string, fields [][]byte, data []byte, c Cache) string {
	want := 5
	if cmd == "cas" {
		want = 6
	}
	if len(fields) < want {
		return clientErrorReply("bad command line format")
	}
	if len(fields) > want {
		return clientErrorReply("extra arguments where CRLF was expected")
	}
	if err := checkKey(fields[1]); err != nil {
		return clientErrorReply(err.Error())
	}
	key := string(fields[1])
	flags64, err1 := strconv.ParseUint(string(fields[2]), 10, 32)
	exptime, err2 := strconv.ParseInt(string(fields[3]), 10, 64)
	if err1 != nil || err2 != nil {
		return clientErrorReply("bad command line format")
	}

	var mode cache.StoreMode
	var casUnique uint64
	switch cmd {
	case "set":
		mode = cache.StoreSet
	case "add":
		mode = cache.StoreAdd
	case "replace":
		mode = cache.StoreReplace
	case "append":
		mode = cache.StoreAppend
	case "prepend":
		mode = cache.StorePrepend
	case "cas":
		mode = cache.StoreCas
		cu, err := strconv.ParseUint(string(fields[5]), 10, 64)
		if err != nil {
			return clientErrorReply("bad command line format")
		}
		casUnique = cu
	}

	res, _ := c.Store(mode, key, data, uint32(flags64), normalizeExptime(exptime), casUnique)
	switch res {
	case cache.Stored:
		return tokStored
	case cache.NotStored:
		return tokNotStored
	case cache.Exists:
		return tokExists
	case cache.NotFound:
		return tokNotFound
	case cache.TooLarge:
		return clientErrorReply("object too large for cache")
	case cache.ServerFailed:
		return serverErrorReply(errors.New("eviction could not free enough room"), "storing value")
	default:
		return serverErrorReply(errors.New("unknown store outcome"), "storing value")
	}
}

func execRetrieve(cmd string, fields [][]byte, c Cache) string {
	withCas := cmd == "gets"
	var b strings.Builder
	for _, kf := range fields[1:] {
		if err := checkKey(kf); err != nil {
			// Matches the original's behavior of discarding any VALUE
			// lines already written for earlier keys on this line: a
			// single bad key fails the whole retrieval.
			return clientErrorReply(err.Error())
		}
		key := string(kf)
		v, ok := c.Get(key)
		if !ok {
			continue
		}
		if withCas {
			fmt.Fprintf(&b, "VALUE %s %d %d %d\r\n", key, v.Flags, len(v.Value), v.Cas)
		} else {
			fmt.Fprintf(&b, "VALUE %s %d %d\r\n", key, v.Flags, len(v.Value))
		}
		b.Write(v.Value)
		b.WriteString(crlf)
	}
	b.WriteString(tokEnd)
	return b.String()
}

func execDelete(fields [][]byte, c Cache) string {
	if len(fields) < 2 {
		return clientErrorReply("bad command line format")
	}
	if len(fields) > 2 {
		return clientErrorReply("extra arguments where CRLF was expected")
	}
	if err := checkKey(fields[1]); err != nil {
		return clientErrorReply(err.Error())
	}
	if c.Delete(string(fields[1])) {
		return tokDeleted
	}
	return tokNotFound
}

func execTouch(fields [][]byte, c Cache) string {
	if len(fields) < 3 {
		return clientErrorReply("bad command line format")
	}
	if len(fields) > 3 {
		return clientErrorReply("extra arguments where CRLF was expected")
	}
	if err := checkKey(fields[1]); err != nil {
		return clientErrorReply(err.Error())
	}
	exptime, err := strconv.ParseInt(string(fields[2]), 10, 64)
	if err != nil {
		return clientErrorReply("bad command line format")
	}
	if c.Touch(string(fields[1]), normalizeExptime(exptime)) {
		return tokTouched
	}
	return tokNotFound
}

func execArithmetic(cmd string, fields [][]byte, c Cache) string {
	if len(fields) < 3 {
		return clientErrorReply("bad command line format")
	}
	if len(fields) > 3 {
		return clientErrorReply("extra arguments where CRLF was expected")
	}
	if err := checkKey(fields[1]); err != nil {
		return clientErrorReply(err.Error())
	}
	delta, err := strconv.ParseUint(string(fields[2]), 10, 64)
	if err != nil {
		return clientErrorReply("invalid numeric delta argument")
	}
	op := cache.OpIncr
	if cmd == "decr" {
		op = cache.OpDecr
	}
	v, found, aerr := c.Arithmetic(op, string(fields[1]), delta)
	if !found {
		return tokNotFound
	}
	if aerr != nil {
		return clientErrorReply("cannot increment or decrement non-numeric value")
	}
	return strconv.FormatUint(v, 10) + crlf
}

func execStats(c Cache) string {
	st := c.PublishStats()
	var b strings.Builder
	fmt.Fprintf(&b, "STAT cmd_get %d\r\n", st.Hits+st.Misses)
	fmt.Fprintf(&b, "STAT get_hits %d\r\n", st.Hits)
	fmt.Fprintf(&b, "STAT get_misses %d\r\n", st.Misses)
	fmt.Fprintf(&b, "STAT evictions %d\r\n", st.Evictions)
	fmt.Fprintf(&b, "STAT expired_unfetched %d\r\n", st.Expirations)
	fmt.Fprintf(&b, "STAT curr_items %d\r\n", st.Items)
	fmt.Fprintf(&b, "STAT slab_lru_hot_items %d\r\n", st.HotItems)
	fmt.Fprintf(&b, "STAT slab_lru_warm_items %d\r\n", st.WarmItems)
	fmt.Fprintf(&b, "STAT slab_lru_cold_items %d\r\n", st.ColdItems)
	fmt.Fprintf(&b, "STAT bytes %d\r\n", st.ArenaBytesUsed)
	fmt.Fprintf(&b, "STAT limit_maxbytes %d\r\n", st.ArenaCapacity)
	b.WriteString(tokEnd)
	return b.String()
}
