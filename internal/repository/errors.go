package repository

import "errors"

// ErrNotFound is returned by mutating operations whose target row is gone.
var ErrNotFound = errors.New("record not found")
