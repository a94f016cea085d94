package repository

import "errors"

// Storage-level errors. Adapters map driver errors onto these; services map
// them onto domain errors.
var (
	// ErrNotFound reports that the requested record does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry reports a unique constraint violation.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

// Per-resource aliases, kept so call sites read naturally.
var (
	ErrRoomNotFound    = ErrNotFound
	ErrMemberNotFound  = ErrNotFound
	ErrInviteNotFound  = ErrNotFound
	ErrSessionNotFound = ErrNotFound
)
