package app

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrFileTooLarge = errors.New("file too large")
	ErrFetchFailed  = errors.New("fetch failed")
)
