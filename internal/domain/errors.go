package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidTrade  = errors.New("invalid trade event")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnavailable   = errors.New("upstream unavailable")
)
