package live

import "errors"

// Classified outcomes surfaced to callers. The app layer maps each one to a
// specific HTTP status and message; none of them are retried automatically.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("a session already exists for this date")
	ErrSessionInactive   = errors.New("session is closed")
	ErrVoteAlreadyActive = errors.New("a vote is already in progress")
	ErrNoEligibleVoters  = errors.New("no reviewers are online")
	ErrNotOwner          = errors.New("only the item owner can launch this vote")
	ErrVoteNotFound      = errors.New("vote not found or no longer active")
	ErrNotEligible       = errors.New("you are not eligible to vote on this item")
	ErrDuplicateVote     = errors.New("you already voted")
	ErrInvalidDecision   = errors.New("decision must be approved or needs_revision")
	ErrVoteInProgress    = errors.New("close or cancel the active vote first")
)

// errNoChange aborts an update without writing or publishing. Used by
// operations that must be silent no-ops, like heartbeats against a session
// that is gone.
var errNoChange = errors.New("no change")
