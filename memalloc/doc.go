// Package memalloc implements a fixed-size arena allocator tuned for
// cache items: many same-ish-sized, short-lived allocations, an explicit
// eviction path when the arena is full, and in-place growth for counters
// that get touched far more often than they get resized.
//
// The arena is one big []byte carved into blocks. Each block starts with
// a fixed header giving its payload size, a back-pointer to the previous
// block (so blocks can be walked and coalesced in both directions without
// a separate footer), a used flag, and two link words that double as
// either free-list or LRU-list pointers depending on the block's state.
// Two zero-payload sentinel blocks bookend the arena so every real block
// has a valid neighbor to look at without special-casing the ends.
//
// Free blocks are kept in a segregated-fit table: a fixed number of
// size classes, each its own doubly linked list, with a bitmap over the
// classes so the smallest non-empty class at or above a requested size
// is found in O(1) via bits.TrailingZeros64 rather than a linear scan.
package memalloc
