package kvsbgp

import "errors"

var (
	// ErrNotFound indicates that the requested key is missing.
	ErrNotFound = errors.New("kvsbgp: key not found")
	// ErrClosed indicates that the Engine has been closed.
	ErrClosed = errors.New("kvsbgp: engine is closed")
	// ErrTimeout indicates that the context deadline expired.
	ErrTimeout = errors.New("kvsbgp: operation timed out")
	// ErrCanceled indicates that the context was canceled.
	ErrCanceled = errors.New("kvsbgp: operation canceled")
)
