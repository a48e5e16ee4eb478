package promise

import "errors"

var (
	ErrNotFound            = errors.New("promise: not found")
	ErrInvalidAmount       = errors.New("promise: invalid amount")
	ErrUnauthorized        = errors.New("promise: unauthorized")
	ErrStaleIndex          = errors.New("promise: stale index position")
	ErrAlreadyExecuted     = errors.New("promise: already executed")
	ErrAlreadyCancelled    = errors.New("promise: already cancelled")
	ErrAlreadyClosed       = errors.New("promise: pending amount already closed")
	ErrAlreadyJoined       = errors.New("promise: already joined")
	ErrNotJoined           = errors.New("promise: not joined")
	ErrNotYetExpired       = errors.New("promise: not yet expired")
	ErrAlreadyExpired      = errors.New("promise: already expired")
	ErrDebtOutstanding     = errors.New("promise: debt outstanding")
	ErrNoPendingAmount     = errors.New("promise: no pending amount")
	ErrInsufficientBalance = errors.New("promise: insufficient balance")
)
