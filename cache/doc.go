// Package cache implements the key/value store on top of a memalloc
// Arena: a sharded hash index keyed by string, each shard backed by its
// own Arena and its own hot/warm/cold item LRU so a key earns its way to
// the front of the line by being asked for again, rather than merely by
// having been stored last.
//
// Sharding is by an internal hash of the key (xxh3), not a hash the
// caller supplies; external callers only ever see string keys.
package cache
