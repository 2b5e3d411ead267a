package models

import "errors"

var (
	ErrOptionNotFound = errors.New("poll option not found")
	ErrPollNotFound   = errors.New("poll not found")
	ErrVoteNotFound   = errors.New("vote not found")
	ErrVoteConflict   = errors.New("vote already exists")

	ErrUnknownPollType = errors.New("poll has no valid poll type")

	// ErrStoreUnavailable marks transient failures. The vote state is
	// unchanged and the whole toggle can be retried.
	ErrStoreUnavailable = errors.New("vote store unavailable")
	// ErrSwitchPartiallyFailed means a single choice switch removed the
	// previous vote and could not restore it.
	ErrSwitchPartiallyFailed = errors.New("vote switch partially failed")
)
