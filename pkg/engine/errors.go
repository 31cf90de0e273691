package engine

import "errors"

// ErrInvalidBounds reports a camera or box that cannot describe a valid
// viewport: non-finite values, inverted or degenerate extents, a
// non-positive zoom ratio. Validation errors reject the input and leave
// all engine state untouched.
var ErrInvalidBounds = errors.New("invalid viewport bounds")

// ErrClosed is returned by operations on an engine after Close.
var ErrClosed = errors.New("engine closed")
