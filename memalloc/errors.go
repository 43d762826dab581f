package memalloc

import "github.com/pkg/errors"

// ErrMemoryExhausted is returned by Alloc when the arena has no free block
// large enough for the request and eviction was not requested or could not
// free enough contiguous space.
var ErrMemoryExhausted = errors.New("memalloc: arena exhausted")

// ErrAllocTooLarge is returned when a single allocation request exceeds
// the largest size the arena could ever satisfy, regardless of eviction.
var ErrAllocTooLarge = errors.New("memalloc: requested size exceeds arena capacity")
