package db

import "errors"

// Sentinel errors returned by Store operations. Callers match with errors.Is
// and translate them to user-visible replies at the chat boundary.
var (
	// ErrAlreadyOpen is returned by CreateMeeting when the channel already has
	// an open meeting.
	ErrAlreadyOpen = errors.New("meeting already open in channel")
	// ErrNotFound is returned when a meeting id does not exist.
	ErrNotFound = errors.New("meeting not found")
	// ErrAlreadyClosed is returned by writes against a meeting whose ended_at
	// is set. Children of a closed meeting are frozen.
	ErrAlreadyClosed = errors.New("meeting already closed")
)
