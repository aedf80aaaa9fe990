package engine

import "errors"

// Typed failures returned to callers. None are retried internally; the
// only internally retried operation is settlement delivery.
var (
	// ErrInvalidState is a transition attempted from the wrong state,
	// e.g. voting on a resolved dispute.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized is an action by the wrong identity, e.g. a
	// non-creator reporting a result.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation covers malformed input such as a too-short reason.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStake is a failed stake lock; the whole dispute
	// creation rolls back.
	ErrInsufficientStake = errors.New("insufficient stake")
	// ErrAlreadyDisputed rejects a second dispute on a milestone that
	// already has a live one.
	ErrAlreadyDisputed = errors.New("already disputed")
	// ErrAlreadyReported rejects reporting a milestone twice.
	ErrAlreadyReported = errors.New("result already reported")
	// ErrVotingClosed rejects ballots after the stored voting deadline.
	ErrVotingClosed = errors.New("voting closed")
	// ErrNotEligible rejects disputes and ballots from identities
	// outside the milestone's market or the dispute's panel.
	ErrNotEligible = errors.New("not eligible")
)
