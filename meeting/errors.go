package meeting

import "errors"

// Command-level sentinel errors. Storage-level sentinels (not found, already
// closed, already open) live in the db package; together they form the full
// failure taxonomy surfaced to users.
var (
	// ErrNoActiveMeeting is returned by commands that require an open meeting
	// on the channel.
	ErrNoActiveMeeting = errors.New("no active meeting in channel")
	// ErrForbidden is returned when the issuer lacks the chair/co-chair role
	// a command requires. Authorization is checked before any persistence.
	ErrForbidden = errors.New("issuer lacks required role")
	// ErrSelfKarma is returned when a user tries to give karma to themselves.
	ErrSelfKarma = errors.New("self-karma rejected")
	// ErrExportFailed wraps minutes export failures. Non-fatal: the meeting
	// is already closed regardless of export outcome.
	ErrExportFailed = errors.New("minutes export failed")
)
