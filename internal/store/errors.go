package store

import "errors"

var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrWriteTimeout   = errors.New("store write operation timeout")
)
