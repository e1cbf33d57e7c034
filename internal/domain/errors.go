package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidOption     = errors.New("invalid option")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMarketNotActive   = errors.New("market not accepting purchases")
	ErrInvalidTransition = errors.New("invalid market state transition")
	ErrNotInitialized    = errors.New("not initialized")
	ErrPersistence       = errors.New("persistence failed")
	ErrLockHeld          = errors.New("lock already held")
)
