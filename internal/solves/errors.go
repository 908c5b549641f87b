package solves

import "errors"

var (
	// ErrUnauthorized means the trigger secret was missing or wrong.
	ErrUnauthorized = errors.New("invalid trigger token")
	// ErrUpstream wraps any failure to obtain submissions from the source.
	ErrUpstream = errors.New("upstream fetch failed")
	// ErrPersistence wraps any failure to commit an entry.
	ErrPersistence = errors.New("persist entry failed")
)
