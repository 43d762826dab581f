// Package tag holds compile-time build tags that toggle extra runtime
// invariant checks. The debug build (-tags debug) trades performance for
// checks that would otherwise require a debugger to spot: in memalloc,
// block back-pointers that disagree with the arena walk and free blocks
// whose size class is missing from the free-list bitmap.
package tag

// Debug is true when the binary was built with the "debug" build tag.
const Debug = debug
