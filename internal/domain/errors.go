package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether email or password failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked signals that failed logins crossed the lockout threshold.
	// Only an administrative unlock clears it.
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceBusy        = errors.New("service busy")
	ErrInvalidTransition  = errors.New("invalid account state transition")
	ErrUnhandledEvent     = errors.New("no handler registered for event")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrTokenConsumed      = errors.New("token already consumed")
)

// Refresh-token states are distinct for diagnostics but all wrap ErrUnauthorized,
// so callers that only check ErrUnauthorized answer them identically.
var (
	ErrTokenNotFound      = fmt.Errorf("%w: refresh token not found", ErrUnauthorized)
	ErrTokenRevoked       = fmt.Errorf("%w: refresh token revoked", ErrUnauthorized)
	ErrTokenExpired       = fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
	ErrTokenReuseDetected = fmt.Errorf("%w: refresh token reuse detected", ErrUnauthorized)
	// ErrTokenAlreadyReplaced is returned by stores when a conditional rotation lost the race.
	ErrTokenAlreadyReplaced = errors.New("refresh token already replaced")
)
