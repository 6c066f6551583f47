package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleState        = errors.New("record changed concurrently")
	ErrDuplicate         = errors.New("duplicate record")
	ErrUnknownSize       = errors.New("unknown size code")
	ErrOrderNotPaid      = errors.New("order is not paid")
	ErrInvalidEvent      = errors.New("invalid event payload")
)
