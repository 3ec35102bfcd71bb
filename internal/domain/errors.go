package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrDuplicateRequest   = errors.New("active request already exists")
	ErrItemUnavailable    = errors.New("item unavailable")
	ErrInvalidState       = errors.New("invalid state for operation")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrRequestNotAccepted = errors.New("request not accepted")
	ErrNotASale           = errors.New("item is not for sale")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrLockHeld           = errors.New("lock already held")
)
