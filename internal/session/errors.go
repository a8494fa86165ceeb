package session

import "errors"

var (
	// ErrNotFound indicates the session id is unknown or has expired.
	// Expired sessions are indistinguishable from never-created ones.
	ErrNotFound = errors.New("session not found")

	// ErrStoreClosed indicates the store has been shut down.
	ErrStoreClosed = errors.New("session store closed")
)
