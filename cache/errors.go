package cache

import "github.com/pkg/errors"

// ErrNotANumber is returned by Arithmetic when the stored value is not
// a base-10 unsigned integer, matching memcached's own behavior of
// refusing to incr/decr non-numeric values rather than guessing.
var ErrNotANumber = errors.New("cache: existing value is not a decimal number")
