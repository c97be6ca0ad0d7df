package store

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a compare-and-set update lost: the row no longer had
	// the expected previous state.
	ErrConflict  = errors.New("conflict")
	ErrSlotTaken = errors.New("slot already booked")
	ErrDuplicate = errors.New("duplicate")
)
