package model

import "errors"

var (
	ErrOracleUnavailable  = errors.New("oracle unavailable")
	ErrMalformedVerdict   = errors.New("malformed oracle verdict")
	ErrInvariantViolation = errors.New("hierarchy invariant violation")
	ErrPersistence        = errors.New("persistence failure")
	ErrUnknownEvent       = errors.New("unknown event")
)
