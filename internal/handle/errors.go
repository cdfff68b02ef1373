package handle

import "errors"

// ErrExhausted is returned by an allocator that has no more tokens.
var ErrExhausted = errors.New("handle allocator exhausted")
