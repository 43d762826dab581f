package cache

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/zeebo/xxh3"

	"github.com/caidongyun/cachelot/memalloc"
	"github.com/caidongyun/cachelot/recycle"
)

const defaultStripeCount = 16

// Config describes how to build a Cache.
type Config struct {
	// ArenaSize is the total bytes of item storage across all stripes.
	ArenaSize int
	// StripeCount is rounded up to the next power of two; 0 uses a
	// sane default. More stripes means less lock contention and a
	// smaller arena (hence coarser eviction granularity) per stripe.
	StripeCount int
	// ExpectedItems sizes the hot/warm/cold capacity split; it is a
	// hint, not a hard limit; getting it wrong just skews how
	// aggressively items get demoted, not correctness.
	ExpectedItems int
	// Pool sources both the arenas and nothing else; a nil Pool gets
	// a fresh recycle.NewPool().
	Pool *recycle.Pool
}

// Cache is a sharded, segmented-LRU key/value store.
type Cache struct {
	stripes    []*stripe
	stripeMask uint64
	casSeq     uint64

	hits        metrics.Counter
	misses      metrics.Counter
	evictions   metrics.Counter
	expirations metrics.Counter
}

type stripe struct {
	mu        sync.Mutex
	items     map[string]*item
	byPayload map[uintptr]*item
	seg       *segments
	arena     *memalloc.Arena
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func ptrKey(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// New builds a Cache per cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.StripeCount <= 0 {
		cfg.StripeCount = defaultStripeCount
	}
	if cfg.Pool == nil {
		cfg.Pool = recycle.NewPool()
	}
	n := nextPow2(cfg.StripeCount)
	perArena := cfg.ArenaSize / n
	expectedPerStripe := cfg.ExpectedItems / n

	c := &Cache{
		stripes:     make([]*stripe, n),
		stripeMask:  uint64(n - 1),
		hits:        metrics.NewCounter(),
		misses:      metrics.NewCounter(),
		evictions:   metrics.NewCounter(),
		expirations: metrics.NewCounter(),
	}
	for i := range c.stripes {
		a, err := memalloc.New(cfg.Pool, perArena)
		if err != nil {
			return nil, err
		}
		c.stripes[i] = &stripe{
			items:     make(map[string]*item),
			byPayload: make(map[uintptr]*item),
			seg:       newSegments(expectedPerStripe),
			arena:     a,
		}
	}
	return c, nil
}

// Close returns every stripe's arena to its pool.
func (c *Cache) Close() {
	for _, s := range c.stripes {
		s.mu.Lock()
		s.arena.Close()
		s.mu.Unlock()
	}
}

func (c *Cache) stripeFor(key string) *stripe {
	h := xxh3.HashString(key)
	return c.stripes[h&c.stripeMask]
}

func (c *Cache) nextCas() uint64 { return atomic.AddUint64(&c.casSeq, 1) }

// alloc carves size bytes out of the stripe's arena, evicting items as
// needed; evicted items are dropped from this stripe's index from
// within the Arena's own eviction walk, before the victim block is
// reused for anything else.
func (s *stripe) alloc(c *Cache, size int) ([]byte, error) {
	return s.arena.AllocOrEvict(size, func(payload []byte) {
		if it, ok := s.byPayload[ptrKey(payload)]; ok {
			delete(s.items, it.key)
			delete(s.byPayload, ptrKey(payload))
			s.seg.remove(it)
			c.evictions.Inc(1)
		}
	})
}

func (s *stripe) evict(it *item) {
	delete(s.items, it.key)
	delete(s.byPayload, ptrKey(it.value))
	s.seg.remove(it)
	s.arena.Free(it.value)
}

// Get returns a copy of the stored value for key, promoting it one step
// toward hot on a hit.
func (c *Cache) Get(key string) (ItemView, bool) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		c.misses.Inc(1)
		return ItemView{}, false
	}
	if it.expired(time.Now()) {
		s.evict(it)
		c.expirations.Inc(1)
		c.misses.Inc(1)
		return ItemView{}, false
	}

	s.seg.access(it)
	s.arena.Touch(it.value)
	it.hits++
	c.hits.Inc(1)
	return ItemView{
		Value:   append([]byte(nil), it.value...),
		Flags:   it.flags,
		Cas:     it.cas,
		Exptime: it.exptime,
	}, true
}

// StoreMode selects set/add/replace/append/prepend/cas semantics.
type StoreMode int

const (
	StoreSet StoreMode = iota
	StoreAdd
	StoreReplace
	StoreAppend
	StorePrepend
	StoreCas
)

// StoreResult reports what Store actually did.
type StoreResult int

const (
	Stored StoreResult = iota
	NotStored
	Exists
	NotFound
	// TooLarge means the value alone could never fit in this stripe's
	// arena, regardless of what gets evicted; the client sent too much.
	TooLarge
	// ServerFailed means eviction could not free enough room even
	// though the value would fit in principle.
	ServerFailed
)

// Store writes value under key per mode, returning the new cas token on
// success. For StoreCas, casUnique must match the stored item's current
// cas or the write is rejected with Exists.
func (c *Cache) Store(mode StoreMode, key string, value []byte, flags uint32, exptime int64, casUnique uint64) (StoreResult, uint64) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[key]
	if ok && existing.expired(time.Now()) {
		s.evict(existing)
		ok = false
		existing = nil
	}

	switch mode {
	case StoreAdd:
		if ok {
			return NotStored, 0
		}
	case StoreReplace, StoreAppend, StorePrepend:
		if !ok {
			return NotStored, 0
		}
	case StoreCas:
		if !ok {
			return NotFound, 0
		}
		if existing.cas != casUnique {
			return Exists, 0
		}
	}

	final := value
	finalFlags := flags
	finalExptime := exptime
	switch mode {
	case StoreAppend:
		final = concat(existing.value, value)
		finalFlags, finalExptime = existing.flags, existing.exptime
	case StorePrepend:
		final = concat(value, existing.value)
		finalFlags, finalExptime = existing.flags, existing.exptime
	}

	buf, err := s.alloc(c, len(final))
	if err != nil {
		if err == memalloc.ErrAllocTooLarge {
			return TooLarge, 0
		}
		return ServerFailed, 0
	}
	copy(buf, final)

	if ok {
		// The alloc above may already have evicted `existing` as part of
		// making room; only free/unindex it here if it is still present.
		if _, stillThere := s.byPayload[ptrKey(existing.value)]; stillThere {
			s.evict(existing)
		}
	}

	cas := c.nextCas()
	it := &item{key: key, value: buf, flags: finalFlags, exptime: finalExptime, cas: cas}
	it.node.it = it
	s.items[key] = it
	s.byPayload[ptrKey(buf)] = it
	s.seg.insert(it)

	return Stored, cas
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// Delete removes key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return false
	}
	s.evict(it)
	return true
}

// Touch updates key's expiration without touching its value, promoting
// it in the LRU the same way a Get would.
func (c *Cache) Touch(key string, exptime int64) bool {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return false
	}
	if it.expired(time.Now()) {
		s.evict(it)
		return false
	}
	it.exptime = exptime
	s.seg.access(it)
	s.arena.Touch(it.value)
	return true
}

// ArithOp selects increment or decrement for Arithmetic.
type ArithOp int

const (
	OpIncr ArithOp = iota
	OpDecr
)

// Arithmetic applies delta to the decimal integer stored at key,
// clamping decr at zero the way memcached does instead of going
// negative. found is false if the key does not exist; err is
// ErrNotANumber if it exists but is not a base-10 integer.
func (c *Cache) Arithmetic(op ArithOp, key string, delta uint64) (newValue uint64, found bool, err error) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return 0, false, nil
	}
	if it.expired(time.Now()) {
		s.evict(it)
		return 0, false, nil
	}

	cur, perr := strconv.ParseUint(strings.TrimSpace(string(it.value)), 10, 64)
	if perr != nil {
		return 0, true, ErrNotANumber
	}

	var result uint64
	if op == OpIncr {
		result = cur + delta
	} else if delta > cur {
		result = 0
	} else {
		result = cur - delta
	}
	text := []byte(strconv.FormatUint(result, 10))

	buf, allocErr := s.alloc(c, len(text))
	if allocErr != nil {
		return 0, true, allocErr
	}
	copy(buf, text)

	// alloc above may have evicted `it` itself as part of making room
	// for the new value: it is then already gone from s.items/
	// s.byPayload and its node already unlinked from the segment list,
	// so touching it further (s.seg.access on an unlinked node) would
	// corrupt the list. Rebuild a fresh item and reindex it instead,
	// the same way Store does for an item evicted out from under it.
	if _, stillThere := s.byPayload[ptrKey(it.value)]; stillThere {
		delete(s.byPayload, ptrKey(it.value))
		s.arena.Free(it.value)

		it.value = buf
		it.cas = c.nextCas()
		s.byPayload[ptrKey(buf)] = it
		s.seg.access(it)
		return result, true, nil
	}

	fresh := &item{key: key, value: buf, flags: it.flags, exptime: it.exptime, cas: c.nextCas()}
	fresh.node.it = fresh
	s.items[key] = fresh
	s.byPayload[ptrKey(buf)] = fresh
	s.seg.insert(fresh)

	return result, true, nil
}

// FlushAll immediately drops every item in every stripe. A delayed
// flush_all (flush at some future time rather than now) is not
// implemented.
func (c *Cache) FlushAll() {
	for _, s := range c.stripes {
		s.mu.Lock()
		for _, it := range s.items {
			s.arena.Free(it.value)
		}
		s.items = make(map[string]*item)
		s.byPayload = make(map[uintptr]*item)
		s.seg = newSegments(s.seg.expected)
		s.mu.Unlock()
	}
}

// Stats is a snapshot of cache-wide counters and occupancy, suitable
// for a protocol layer to render as memcached "stats" output.
type Stats struct {
	Hits, Misses, Evictions, Expirations int64
	Items                                int
	HotItems, WarmItems, ColdItems       int
	ArenaBytesUsed                       uint64
	ArenaCapacity                        int
}

// PublishStats returns a snapshot across all stripes. Each stripe is
// read under its own lock, one stripe after another, so the figures of
// one stripe are consistent with each other but the stripes are not
// read at a single instant.
func (c *Cache) PublishStats() Stats {
	st := Stats{
		Hits:        c.hits.Count(),
		Misses:      c.misses.Count(),
		Evictions:   c.evictions.Count(),
		Expirations: c.expirations.Count(),
	}
	for _, s := range c.stripes {
		s.mu.Lock()
		st.Items += len(s.items)
		st.HotItems += s.seg.hot.Len()
		st.WarmItems += s.seg.warm.Len()
		st.ColdItems += s.seg.cold.Len()
		as := s.arena.Stats()
		st.ArenaBytesUsed += as.UsedBytes
		st.ArenaCapacity += as.Capacity
		s.mu.Unlock()
	}
	return st
}
