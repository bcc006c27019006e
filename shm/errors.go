package shm

import "errors"

// ErrSize is returned when a requested Span or sub-slice would read or
// write outside the bounds of the mapped region.
var ErrSize = errors.New("shm: span exceeds region bounds")

// ErrZeroSize is returned when a caller asks for a zero-sized mapping.
var ErrZeroSize = errors.New("shm: zero-sized mapping")
