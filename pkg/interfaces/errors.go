package interfaces

import "errors"

// Common errors shared by store implementations
var (
	ErrStoreClosed = errors.New("conversation store is closed")
)
