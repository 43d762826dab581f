package cachelot

import "github.com/caidongyun/cachelot/cache"

// Cache is everything the protocol state machine needs from a backing
// store. *cache.Cache satisfies it; the interface exists so protocol
// logic can be tested against a fake without pulling in a real arena.
type Cache interface {
	Get(key string) (cache.ItemView, bool)
	Store(mode cache.StoreMode, key string, value []byte, flags uint32, exptime int64, casUnique uint64) (cache.StoreResult, uint64)
	Delete(key string) bool
	Touch(key string, exptime int64) bool
	Arithmetic(op cache.ArithOp, key string, delta uint64) (newValue uint64, found bool, err error)
	FlushAll()
	PublishStats() cache.Stats
}
