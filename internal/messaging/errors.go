package messaging

import "errors"

var (
	ErrSelfMessage   = errors.New("sender and recipient are the same identity")
	ErrEmptyIdentity = errors.New("identity must not be empty")
)
