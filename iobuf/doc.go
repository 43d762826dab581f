// Package iobuf implements a growable byte buffer with two independent
// cursors, a read side and a write side, and savepoints on each so a
// parser can try to consume a command, discover the socket only handed
// it half of one, and roll back to where it started rather than losing
// or double-processing bytes.
//
// Growth is backed by a recycle.Pool: outgrowing a buffer allocates a
// new chunk from the pool and returns the old one, instead of leaning on
// append's doubling and letting the old backing array go to the GC.
package iobuf
