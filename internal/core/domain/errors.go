package domain

import "errors"

var (
	ErrConfig              = errors.New("invalid engine config")
	ErrAlreadyRegistered   = errors.New("voter is already registered")
	ErrNotRegistered       = errors.New("voter is not registered")
	ErrInsufficientCredits = errors.New("insufficient voice credits")
	ErrNotTallied          = errors.New("round has not been tallied")
	ErrInvalidVote         = errors.New("invalid vote")
	ErrInvalidAddress      = errors.New("invalid voter address")
	ErrRoundNotFound       = errors.New("round not found")
	ErrInvalidRoundID      = errors.New("invalid round id")
	ErrRoundClosed         = errors.New("round is closed")
	ErrInvalidToken        = errors.New("invalid access token")
	ErrEmptySecret         = errors.New("token secret is empty")
	ErrInternal            = errors.New("internal server error")
)
