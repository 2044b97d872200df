package data

import "errors"

// Standard errors shared between the cache and its collaborators.
var (
	// Lookup errors
	ErrNotExist = errors.New("volcache: entry does not exist")

	// Label errors
	ErrNotVolume = errors.New("volcache: device holds no volume label")

	// Resolver errors
	ErrDuplicateDevice = errors.New("volcache: duplicate device rejected")

	// Service errors
	ErrInactive = errors.New("volcache: metadata service not active")
	ErrClosed   = errors.New("volcache: backend already closed")
)
