package giveaway

import "errors"

var (
	ErrNotFound            = errors.New("giveaway not found")
	ErrNotActive           = errors.New("giveaway has ended")
	ErrAlreadyEntered      = errors.New("already entered")
	ErrNotEntered          = errors.New("not entered")
	ErrRoleRequired        = errors.New("required role missing")
	ErrInvalidWinnerCount  = errors.New("winner count must be at least 1")
	ErrInsufficientEntries = errors.New("not enough entries")
	ErrExists              = errors.New("giveaway already exists")
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrInvalidGiveaway     = errors.New("invalid giveaway")
)

// ErrClosed is the name the entry handlers use for ErrNotActive.
var ErrClosed = ErrNotActive

// AnnounceError reports that a state transition was applied but the
// announcement could not be delivered. The outcome is final; only delivery
// may be retried.
type AnnounceError struct {
	Key Key
	Err error
}

func (e *AnnounceError) Error() string {
	return "announce " + e.Key.String() + ": " + e.Err.Error()
}

func (e *AnnounceError) Unwrap() error { return e.Err }

// IsUserError reports whether err is a domain rejection that should be shown
// to the person who triggered it, as opposed to an infrastructure failure.
func IsUserError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotActive),
		errors.Is(err, ErrAlreadyEntered),
		errors.Is(err, ErrNotEntered),
		errors.Is(err, ErrRoleRequired),
		errors.Is(err, ErrInvalidWinnerCount),
		errors.Is(err, ErrInsufficientEntries),
		errors.Is(err, ErrExists),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidGiveaway):
		return true
	default:
		return false
	}
}
