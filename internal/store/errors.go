package store

import (
	"errors"
)

var (
	// ErrNotFound means no batch record exists for the request.
	ErrNotFound = errors.New("batch record not found")
	// ErrCorrupt means a persisted record exists but could not be decoded.
	// Kept distinct from ErrNotFound so callers can tell "nothing saved yet"
	// from "saved data is damaged".
	ErrCorrupt = errors.New("corrupt batch record")
)
