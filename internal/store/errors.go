package store

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrCorrupt  = errors.New("cached snapshot is corrupt")
)
